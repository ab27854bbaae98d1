package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/crossarb/internal/domain"
)

// CandleHistory is the slice of the history store the archiver depends on.
type CandleHistory interface {
	ListCandlesBefore(ctx context.Context, before time.Time) ([]domain.Candle, error)
	DeleteCandlesBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves aged-out candles from the hot store to object storage as
// day-partitioned JSONL files. Archival failures are logged and retried on
// the next run; candles are only deleted after the upload succeeds.
type Archiver struct {
	history   CandleHistory
	client    *Client
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. retention is how long candles stay in the
// hot store before being moved.
func NewArchiver(history CandleHistory, client *Client, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		history:   history,
		client:    client,
		retention: retention,
		logger:    logger.With(slog.String("component", "candle_archiver")),
	}
}

type archivedCandle struct {
	VenueID   string    `json:"venue_id"`
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// Run archives one batch of candles older than the retention window.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retention)

	candles, err := a.history.ListCandlesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiver: list candles: %w", err)
	}
	if len(candles) == 0 {
		return nil
	}

	byDay := make(map[string][]domain.Candle)
	for _, c := range candles {
		day := c.Timestamp.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], c)
	}

	for day, batch := range byDay {
		if err := a.uploadDay(ctx, day, batch); err != nil {
			return err
		}
	}

	deleted, err := a.history.DeleteCandlesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiver: delete candles: %w", err)
	}
	a.logger.Info("candles archived",
		slog.Int("days", len(byDay)),
		slog.Int64("deleted", deleted),
	)
	return nil
}

func (a *Archiver) uploadDay(ctx context.Context, day string, batch []domain.Candle) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range batch {
		if err := enc.Encode(archivedCandle{
			VenueID:   c.VenueID,
			Symbol:    c.Symbol,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Timestamp: c.Timestamp,
		}); err != nil {
			return fmt.Errorf("archiver: encode candle: %w", err)
		}
	}

	key := fmt.Sprintf("candles/%s.jsonl", day)

	// Days that outgrow a single PutObject go through the multipart uploader.
	var err error
	if int64(buf.Len()) >= minPartSize {
		err = a.client.PutMultipart(ctx, key, &buf, minPartSize)
	} else {
		err = a.client.Put(ctx, key, &buf, "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("archiver: upload %s: %w", key, err)
	}
	return nil
}
