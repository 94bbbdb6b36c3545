package delivery

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Worker sends one logical delivery and hands exhausted ones to the
// replayer so the lead is not lost.
type Worker struct {
	client   Retrier
	replayer *Replayer
	log      zerolog.Logger
}

func NewWorker(client Retrier, replayer *Replayer, log zerolog.Logger) *Worker {
	return &Worker{
		client:   client,
		replayer: replayer,
		log:      log,
	}
}

func (w *Worker) Deliver(ctx context.Context, req Request) error {
	err := w.client.SendWithRetry(ctx, req)
	if err == nil {
		return nil
	}

	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		if perr := w.replayer.PersistFailure(context.WithoutCancel(ctx), req.URL, req.Payload, req.Token); perr != nil {
			w.log.Error().Err(perr).Str("token", req.Token).Msg("failed to persist exhausted delivery")
		}
	}
	return err
}
