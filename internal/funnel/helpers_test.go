package funnel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/config"
	"github.com/nla-consultoria/leadrelay/internal/delivery"
	"github.com/nla-consultoria/leadrelay/internal/events"
	"github.com/nla-consultoria/leadrelay/internal/meta"
	"github.com/nla-consultoria/leadrelay/internal/models"
)

type memStore struct {
	mu     sync.Mutex
	drafts map[string]models.LeadDraft
}

func newMemStore() *memStore {
	return &memStore{drafts: make(map[string]models.LeadDraft)}
}

func (m *memStore) GetDraft(_ context.Context, id string) (*models.LeadDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, nil
	}
	d.Delivered = append([]models.Field(nil), d.Delivered...)
	return &d, nil
}

func (m *memStore) SaveDraft(_ context.Context, d *models.LeadDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *d
	c.Delivered = append([]models.Field(nil), d.Delivered...)
	m.drafts[d.SessionID] = c
	return nil
}

func (m *memStore) DeleteDraft(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, id)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.drafts)
}

type recordingDeliverer struct {
	mu   sync.Mutex
	reqs []delivery.Request
	err  error
}

func (r *recordingDeliverer) Deliver(_ context.Context, req delivery.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.err
}

func (r *recordingDeliverer) requests() []delivery.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery.Request(nil), r.reqs...)
}

type recordingTracker struct {
	mu     sync.Mutex
	events []meta.Event
}

func (r *recordingTracker) Track(_ context.Context, ev meta.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingTracker) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LeadEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.LeadEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.LeadEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.LeadEvent(nil), p.events...)
}

type countingReplayer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingReplayer) ReplayFailures(context.Context) (delivery.ReplayResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return delivery.ReplayResult{}, nil
}

func (c *countingReplayer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type inlineDispatch struct{}

func (inlineDispatch) Go(fn func(ctx context.Context)) { fn(context.Background()) }

type harness struct {
	svc       *Service
	store     *memStore
	deliverer *recordingDeliverer
	tracker   *recordingTracker
	publisher *recordingPublisher
	replayer  *countingReplayer
}

const testDebounce = 10 * time.Millisecond

func testFunnelConfig() config.FunnelConfig {
	return config.FunnelConfig{
		Debounce:       testDebounce,
		DefaultVariant: "default",
		Variants: map[string]config.VariantConfig{
			"default": {Mode: "all", Source: "nla-site"},
			"lp-2":    {Mode: "reveal", Source: "lp-2"},
		},
		ClaimTTL: time.Hour,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		deliverer: &recordingDeliverer{},
		tracker:   &recordingTracker{},
		publisher: &recordingPublisher{},
		replayer:  &countingReplayer{},
	}
	h.svc = NewService(testFunnelConfig(), "https://hooks.example.com/lead", Deps{
		Store:      h.store,
		Deliverer:  h.deliverer,
		Replayer:   h.replayer,
		Dispatcher: inlineDispatch{},
		Tracker:    h.tracker,
		Publisher:  h.publisher,
	}, zerolog.Nop())
	t.Cleanup(h.svc.Close)
	return h
}

// settle waits past the quiet period so pending writes reach the sink.
func settle() {
	time.Sleep(8 * testDebounce)
}
