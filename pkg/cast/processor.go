// ABOUTME: Change feed sync processor replaying store mutations into an external system
// ABOUTME: Drains the backlog batch by batch and checkpoints only after a whole batch succeeds

package cast

import (
	"context"
	"time"

	"github.com/nainya/dicomstore/internal/logger"
	"github.com/nainya/dicomstore/internal/metrics"
	"github.com/nainya/dicomstore/pkg/changefeed"
)

// Pipeline applies one change feed entry to the target system. Entries may be
// delivered more than once.
type Pipeline interface {
	Process(ctx context.Context, entry changefeed.Entry) error
}

// Processor runs the catch-up loop. Only one processor may run against a given
// SyncStateStore at a time; nothing here enforces that.
type Processor struct {
	source   changefeed.Source
	pipeline Pipeline
	state    SyncStateStore
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithProcessorMetrics records entry and batch counters
func WithProcessorMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// WithProcessorClock overrides the checkpoint timestamp source
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a change feed processor
func NewProcessor(source changefeed.Source, pipeline Pipeline, state SyncStateStore, log *logger.Logger, opts ...ProcessorOption) *Processor {
	if log == nil {
		log = logger.NewNop()
	}
	p := &Processor{
		source:   source,
		pipeline: pipeline,
		state:    state,
		log:      log.Component("changefeed_processor"),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes batches until the source returns nothing. It waits pollInterval after
// every non-empty batch. A pipeline failure stops the loop without moving the checkpoint.
func (p *Processor) Run(ctx context.Context, pollInterval time.Duration) error {
	state, err := p.state.Get(ctx)
	if err != nil {
		return err
	}

	for {
		entries, err := p.source.Retrieve(ctx, state.SyncedSequence)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			p.log.Info("No new change feed entries to process").
				Int64("synced_sequence", state.SyncedSequence).
				Send()
			return nil
		}

		maxSequence := state.SyncedSequence
		for _, entry := range entries {
			if entry.Sequence > maxSequence {
				maxSequence = entry.Sequence
			}

			if entry.SupersededBeforeCreate() {
				p.log.Info("Skipping create of an instance deleted before it was synced").
					Int64("sequence", entry.Sequence).
					Send()
				p.countEntry("skipped")
				continue
			}

			if err := p.pipeline.Process(ctx, entry); err != nil {
				p.recordBatch("error", 0)
				p.log.Error("Failed to process change feed entry").
					Int64("sequence", entry.Sequence).
					Str("action", string(entry.Action)).
					Err(err).
					Send()
				return err
			}
			p.countEntry("processed")
		}

		next := SyncState{SyncedSequence: maxSequence, SyncedDate: p.now().UTC()}
		if err := p.state.Update(ctx, next); err != nil {
			return err
		}
		p.recordBatch("success", maxSequence)

		p.log.Info("Processed change feed entries").
			Int64("from", state.SyncedSequence+1).
			Int64("to", maxSequence).
			Send()
		state = next

		if err := p.sleep(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func (p *Processor) countEntry(result string) {
	if p.metrics != nil {
		p.metrics.ChangeFeedEntriesTotal.WithLabelValues(result).Inc()
	}
}

func (p *Processor) recordBatch(status string, maxSequence int64) {
	if p.metrics != nil {
		p.metrics.RecordBatch(status, maxSequence)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
