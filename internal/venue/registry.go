package venue

import (
	"fmt"
	"sort"

	"github.com/quantfold/crossarb/internal/config"
	"github.com/quantfold/crossarb/internal/domain"
)

// Registry holds the enabled-venue configuration. Pure data: lookup only,
// immutable once built. Rebuilding (e.g. after a credential change) replaces
// the whole registry.
type Registry struct {
	venues map[string]domain.VenueConfig
}

// NewRegistry builds a Registry from configuration. Every configured venue
// must have a registered adapter constructor; unknown identifiers fail here,
// at load time.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	venues := make(map[string]domain.VenueConfig, len(cfg.Venues))
	for id, vc := range cfg.Venues {
		if !Supported(id) {
			return nil, fmt.Errorf("venue: %s: %w", id, domain.ErrUnknownVenue)
		}
		venues[id] = domain.VenueConfig{
			ID:           id,
			MakerFee:     vc.MakerFee,
			TakerFee:     vc.TakerFee,
			SymbolFormat: vc.SymbolFormat,
			RateLimit:    vc.RateLimit,
			Sandbox:      vc.Sandbox,
			Enabled:      vc.Enabled,
			APIKey:       vc.APIKey,
			APISecret:    vc.APISecret,
			BaseURL:      vc.BaseURL,
		}
	}
	return &Registry{venues: venues}, nil
}

// Get returns the configuration for a venue.
func (r *Registry) Get(venueID string) (domain.VenueConfig, error) {
	v, ok := r.venues[venueID]
	if !ok {
		return domain.VenueConfig{}, fmt.Errorf("venue: %s: %w", venueID, domain.ErrUnknownVenue)
	}
	return v, nil
}

// TakerFee returns a venue's taker fee fraction, or an error for unknown
// venues.
func (r *Registry) TakerFee(venueID string) (float64, error) {
	v, err := r.Get(venueID)
	if err != nil {
		return 0, err
	}
	return v.TakerFee, nil
}

// Enabled returns all enabled venue configurations, sorted by ID for
// deterministic iteration.
func (r *Registry) Enabled() []domain.VenueConfig {
	out := make([]domain.VenueConfig, 0, len(r.venues))
	for _, v := range r.venues {
		if v.Enabled {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
