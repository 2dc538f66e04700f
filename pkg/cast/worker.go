// ABOUTME: Long running change feed worker
// ABOUTME: Alternates catch-up runs with a poll delay until cancelled

package cast

import (
	"context"
	"errors"
	"time"

	"github.com/nainya/dicomstore/internal/logger"
)

// Worker repeatedly drains the change feed and waits between catch-up runs
type Worker struct {
	processor       *Processor
	pollInterval    time.Duration
	catchupInterval time.Duration
	log             *logger.Logger
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a worker. pollInterval separates catch-up runs and catchupInterval
// separates batches within one run.
func NewWorker(processor *Processor, pollInterval, catchupInterval time.Duration, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		processor:       processor,
		pollInterval:    pollInterval,
		catchupInterval: catchupInterval,
		log:             log.Component("cast_worker"),
		sleep:           sleepContext,
	}
}

// Run returns nil when ctx is cancelled and the processor error otherwise.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting change feed worker").
		Dur("poll_interval", w.pollInterval).
		Dur("catchup_interval", w.catchupInterval).
		Send()

	for {
		err := w.processor.Run(ctx, w.catchupInterval)
		if err == nil {
			err = w.sleep(ctx, w.pollInterval)
		}
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				w.log.Info("Change feed worker stopped").Send()
				return nil
			}
			w.log.Error("Change feed worker failed").Err(err).Send()
			return err
		}
	}
}
