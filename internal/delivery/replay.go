package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

type FailureStore interface {
	AppendFailure(ctx context.Context, f *models.FailedDelivery) error
	ListFailures(ctx context.Context) ([]models.FailedDelivery, error)
	DeleteFailures(ctx context.Context, ids []string) error
}

type ReplayResult struct {
	Attempted int  `json:"attempted"`
	Resent    int  `json:"resent"`
	Remaining int  `json:"remaining"`
	Skipped   bool `json:"skipped,omitempty"`
}

type Replayer struct {
	client  Retrier
	store   FailureStore
	running atomic.Bool
	log     zerolog.Logger
}

func NewReplayer(client Retrier, store FailureStore, log zerolog.Logger) *Replayer {
	return &Replayer{
		client: client,
		store:  store,
		log:    log,
	}
}

// PersistFailure appends a record. Records are never merged by token.
func (r *Replayer) PersistFailure(ctx context.Context, url string, payload map[string]interface{}, token string) error {
	raw, err := encodeBody(Request{Payload: payload, Token: token})
	if err != nil {
		return fmt.Errorf("encode failed delivery: %w", err)
	}
	f := &models.FailedDelivery{
		ID:       models.NewID("fail"),
		URL:      url,
		Payload:  raw,
		Token:    token,
		FailedAt: time.Now().UTC(),
	}
	if err := r.store.AppendFailure(ctx, f); err != nil {
		return fmt.Errorf("persist failed delivery: %w", err)
	}
	r.log.Warn().Str("token", token).Str("url", url).Msg("delivery persisted for replay")
	return nil
}

// ReplayFailures resends every stored record. Resent records are removed,
// the rest stay. A replay already in progress makes this call a no-op.
func (r *Replayer) ReplayFailures(ctx context.Context) (ReplayResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		return ReplayResult{Skipped: true}, nil
	}
	defer r.running.Store(false)

	failed, err := r.store.ListFailures(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("list failed deliveries: %w", err)
	}
	if len(failed) == 0 {
		return ReplayResult{}, nil
	}

	result := ReplayResult{Attempted: len(failed)}
	var resent []string
	for _, f := range failed {
		var payload map[string]interface{}
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			r.log.Error().Err(err).Str("token", f.Token).Msg("stored delivery has unreadable payload")
			continue
		}
		if err := r.client.SendWithRetry(ctx, Request{URL: f.URL, Payload: payload, Token: f.Token}); err != nil {
			r.log.Warn().Err(err).Str("token", f.Token).Msg("replay failed, keeping record")
			continue
		}
		resent = append(resent, f.ID)
	}

	if len(resent) > 0 {
		if err := r.store.DeleteFailures(ctx, resent); err != nil {
			return result, fmt.Errorf("remove resent deliveries: %w", err)
		}
	}

	result.Resent = len(resent)
	result.Remaining = len(failed) - len(resent)
	r.log.Info().
		Int("attempted", result.Attempted).
		Int("resent", result.Resent).
		Int("remaining", result.Remaining).
		Msg("failed deliveries replayed")
	return result, nil
}
