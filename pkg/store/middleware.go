package store

import (
	"context"
	"errors"
	"time"

	"github.com/nainya/dicomstore/internal/logger"
	"github.com/nainya/dicomstore/internal/metrics"
	"github.com/nainya/dicomstore/pkg/dicom"
)

type loggingOrchestrator struct {
	next Orchestrator
	log  *logger.Logger
}

// WithLogging wraps next so every call is logged with its duration and outcome.
func WithLogging(next Orchestrator, log *logger.Logger) Orchestrator {
	return &loggingOrchestrator{next: next, log: log.StoreLogger("store_instance")}
}

func (l *loggingOrchestrator) StoreInstance(ctx context.Context, entry InstanceEntry) (dicom.VersionedInstanceIdentifier, error) {
	start := time.Now()
	id, err := l.next.StoreInstance(ctx, entry)
	l.log.LogStoreOperation("store_instance", id.String(), time.Since(start), err)
	return id, err
}

type metricsOrchestrator struct {
	next Orchestrator
	m    *metrics.Metrics
}

// WithMetrics wraps next so every call is counted by outcome.
func WithMetrics(next Orchestrator, m *metrics.Metrics) Orchestrator {
	return &metricsOrchestrator{next: next, m: m}
}

func (w *metricsOrchestrator) StoreInstance(ctx context.Context, entry InstanceEntry) (dicom.VersionedInstanceIdentifier, error) {
	start := time.Now()
	id, err := w.next.StoreInstance(ctx, entry)

	status := "success"
	if err != nil {
		status = "error"
	}
	w.m.RecordStoreOperation("store_instance", status, time.Since(start))
	w.m.InstancesStoredTotal.WithLabelValues(outcomeOf(err).label()).Inc()
	return id, err
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeStored
	case errors.Is(err, ErrInstanceAlreadyExists):
		return OutcomeConflict
	case errors.Is(err, ErrDatasetValidation):
		return OutcomeValidationFailed
	}
	return OutcomeFailed
}
