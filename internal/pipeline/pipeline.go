// Package pipeline wires the three analyzer stages over bounded queues
// and orchestrates startup and shutdown: any stage returning an error
// tears down the other two.
package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"banwatch/internal/model"
)

// QueueDepth is the bounded capacity of Q1 and Q2; kept small so
// backpressure reaches the bus consumer quickly.
const QueueDepth = 5

// Stage is one of the three long-running pipeline tasks.
type Stage func(ctx context.Context) error

// Run starts ingest, validate, and emit concurrently and blocks until
// the first one returns, error or not, at which point it cancels the
// others, then waits for them and returns the first non-nil error any
// stage returned (after a clean first return, that is the others'
// cancellation error). The process terminates when any stage returns.
// A closed pipeline queue surfaces from its stage as
// model.ErrChannelClosed and aborts the remaining stages the same way
// any other stage error does.
func Run(ctx context.Context, ingest, validate, emit Stage) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	// errgroup cancels only on a non-nil error; a stage that returns
	// cleanly cancels the others itself.
	stopOnReturn := func(stage Stage) Stage {
		return func(c context.Context) error {
			err := stage(c)
			if err == nil {
				cancel()
			}
			return err
		}
	}

	start(g, gctx, "ingest", stopOnReturn(ingest))
	start(g, gctx, "validate", stopOnReturn(validate))
	start(g, gctx, "emit", stopOnReturn(emit))

	return g.Wait()
}

func start(g *errgroup.Group, gctx context.Context, name string, stage Stage) {
	g.Go(func() error {
		err := stage(gctx)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
			// Cancellation fallout from another stage's exit is not
			// this stage's failure.
		case errors.Is(err, model.ErrChannelClosed):
			log.Error().Str("stage", name).Msg("stage_queue_closed")
		default:
			log.Error().Err(err).Str("stage", name).Msg("stage_exited")
		}
		return err
	})
}

// NewQueues allocates Q1 (Request) and Q2 (ValidatorBan), both bounded
// at QueueDepth.
func NewQueues() (chan model.Request, chan model.ValidatorBan) {
	return make(chan model.Request, QueueDepth), make(chan model.ValidatorBan, QueueDepth)
}
