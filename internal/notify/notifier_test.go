package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	name   string
	err    error
	titles []string
}

func (s *stubSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func TestNotifyDeliversToAllSenders(t *testing.T) {
	a := &stubSender{name: "telegram"}
	b := &stubSender{name: "discord"}
	n := NewNotifier([]Sender{a, b}, nil, slog.Default())

	err := n.Notify(context.Background(), "partial_fill", "Partial fill", "details")
	require.NoError(t, err)
	assert.Equal(t, []string{"Partial fill"}, a.titles)
	assert.Equal(t, []string{"Partial fill"}, b.titles)
}

func TestNotifyFiltersUnsubscribedEvents(t *testing.T) {
	s := &stubSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{"partial_fill", "venue_outage"}, slog.Default())

	require.NoError(t, n.Notify(context.Background(), "trade_executed", "T", "m"))
	assert.Empty(t, s.titles)

	require.NoError(t, n.Notify(context.Background(), "partial_fill", "T", "m"))
	assert.Len(t, s.titles, 1)
}

func TestNotifyOneFailureDoesNotBlockOthers(t *testing.T) {
	failing := &stubSender{name: "telegram", err: errors.New("429 too many requests")}
	healthy := &stubSender{name: "discord"}
	n := NewNotifier([]Sender{failing, healthy}, nil, slog.Default())

	err := n.Notify(context.Background(), "venue_outage", "Outage", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Len(t, healthy.titles, 1)
}

func TestNotifyNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, slog.Default())
	assert.NoError(t, n.Notify(context.Background(), "flash_crash", "T", "m"))
}
