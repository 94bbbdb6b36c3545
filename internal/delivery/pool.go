package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/config"
)

// Pool runs fire-and-forget sends on a bounded set of goroutines and,
// when configured, sweeps the failed-delivery list on an interval.
type Pool struct {
	replayer       *Replayer
	workers        int
	replayInterval time.Duration
	log            zerolog.Logger

	ctx      context.Context
	sem      chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(cfg config.DeliveryConfig, replayer *Replayer, log zerolog.Logger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		replayer:       replayer,
		workers:        workers,
		replayInterval: cfg.ReplayInterval,
		log:            log,
		ctx:            context.Background(),
		sem:            make(chan struct{}, workers),
		stop:           make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	p.log.Info().Int("workers", p.workers).Dur("replay_interval", p.replayInterval).Msg("starting delivery pool")

	if p.replayInterval <= 0 || p.replayer == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sweepLoop(ctx)
	}()
}

// Go schedules fn without blocking the caller. Work already scheduled
// keeps running when the session that triggered it goes away.
func (p *Pool) Go(fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		fn(p.ctx)
	}()
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.log.Info().Msg("stopping delivery pool")
		close(p.stop)
		p.wg.Wait()
		p.log.Info().Msg("delivery pool stopped")
	})
}

func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.replayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.replayer.ReplayFailures(ctx); err != nil {
				p.log.Error().Err(err).Msg("scheduled replay failed")
			}
		}
	}
}
