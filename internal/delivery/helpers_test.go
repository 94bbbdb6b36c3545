package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

type memFailures struct {
	mu      sync.Mutex
	records []models.FailedDelivery
}

func (m *memFailures) AppendFailure(_ context.Context, f *models.FailedDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *f)
	return nil
}

func (m *memFailures) ListFailures(_ context.Context) ([]models.FailedDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.FailedDelivery, len(m.records))
	copy(out, m.records)
	return out, nil
}

func (m *memFailures) DeleteFailures(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.records[:0]
	for _, r := range m.records {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

func (m *memFailures) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memAttempts struct {
	mu       sync.Mutex
	attempts []models.Attempt
}

func (m *memAttempts) CreateAttempt(_ context.Context, a *models.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *a)
	return nil
}

// statusServer answers every request with the current status and counts calls.
type statusServer struct {
	*httptest.Server
	status atomic.Int32
	calls  atomic.Int32
}

func newStatusServer(t *testing.T, status int) *statusServer {
	s := &statusServer{}
	s.status.Store(int32(status))
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		w.WriteHeader(int(s.status.Load()))
	}))
	t.Cleanup(s.Close)
	return s
}

// newTestClient returns a client whose backoff waits are recorded instead of slept.
func newTestClient(attempts AttemptRecorder) (*Client, *[]time.Duration) {
	var delays []time.Duration
	c := NewClient(NewSender(2*time.Second, ""), attempts, DefaultMaxAttempts, DefaultBaseDelay, zerolog.Nop())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return c, &delays
}
