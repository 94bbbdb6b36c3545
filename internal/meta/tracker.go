package meta

import (
	"context"

	"github.com/rs/zerolog"
)

type Sender interface {
	Enabled() bool
	Send(ctx context.Context, ev Event) error
}

type dispatcher interface {
	Go(fn func(ctx context.Context))
}

// Tracker sends events in the background. Failures are logged and never
// reach the funnel.
type Tracker struct {
	sender   Sender
	dispatch dispatcher
	log      zerolog.Logger
}

func NewTracker(sender Sender, dispatch dispatcher, log zerolog.Logger) *Tracker {
	return &Tracker{
		sender:   sender,
		dispatch: dispatch,
		log:      log,
	}
}

func (t *Tracker) Track(_ context.Context, ev Event) {
	if !t.sender.Enabled() {
		return
	}
	t.dispatch.Go(func(ctx context.Context) {
		if err := t.sender.Send(ctx, ev); err != nil {
			t.log.Warn().Err(err).Str("event", ev.Name).Msg("conversion event failed")
		}
	})
}
