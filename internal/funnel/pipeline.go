package funnel

import (
	"sync"
	"time"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

// FieldEvent is one value written to a draft field.
type FieldEvent struct {
	SessionID string
	Field     models.Field
	Value     string
	At        time.Time
}

type eventKey struct {
	session string
	field   models.Field
}

type pending struct {
	timer *time.Timer
	seq   uint64
}

// Pipeline turns a stream of field writes into settled events. A value
// reaches the sink only after no newer write for the same session and
// field arrived during the quiet period, and only if filter accepts it.
type Pipeline struct {
	quiet  time.Duration
	filter func(FieldEvent) bool
	sink   func(FieldEvent)

	mu      sync.Mutex
	pending map[eventKey]*pending
	seq     uint64
	closed  bool
	wg      sync.WaitGroup
}

func NewPipeline(quiet time.Duration, filter func(FieldEvent) bool, sink func(FieldEvent)) *Pipeline {
	if filter == nil {
		filter = func(FieldEvent) bool { return true }
	}
	return &Pipeline{
		quiet:   quiet,
		filter:  filter,
		sink:    sink,
		pending: make(map[eventKey]*pending),
	}
}

// Push records a write and restarts the quiet period for its field.
func (p *Pipeline) Push(ev FieldEvent) {
	key := eventKey{session: ev.SessionID, field: ev.Field}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if prev, ok := p.pending[key]; ok {
		prev.timer.Stop()
	}
	p.seq++
	seq := p.seq
	entry := &pending{seq: seq}
	entry.timer = time.AfterFunc(p.quiet, func() { p.fire(key, seq, ev) })
	p.pending[key] = entry
}

func (p *Pipeline) fire(key eventKey, seq uint64, ev FieldEvent) {
	p.mu.Lock()
	current, ok := p.pending[key]
	if !ok || current.seq != seq || p.closed {
		p.mu.Unlock()
		return
	}
	delete(p.pending, key)
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	if p.filter(ev) {
		p.sink(ev)
	}
}

// Cancel drops every pending write of a session.
func (p *Pipeline) Cancel(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, entry := range p.pending {
		if key.session == sessionID {
			entry.timer.Stop()
			delete(p.pending, key)
		}
	}
}

// Pending returns the number of writes still inside their quiet period.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close stops all timers and waits for sinks already running.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	for key, entry := range p.pending {
		entry.timer.Stop()
		delete(p.pending, key)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
