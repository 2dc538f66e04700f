// ABOUTME: Store orchestrator writing one instance across index, blob and metadata stores
// ABOUTME: Removes the index row when the blob or metadata write fails

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/dicomstore/internal/logger"
	"github.com/nainya/dicomstore/internal/metrics"
	"github.com/nainya/dicomstore/pkg/dicom"
)

// DefaultCleanupTimeout bounds the index cleanup after a failed store.
const DefaultCleanupTimeout = 30 * time.Second

// Orchestrator stores a single instance
type Orchestrator interface {
	StoreInstance(ctx context.Context, entry InstanceEntry) (dicom.VersionedInstanceIdentifier, error)
}

// StoreOrchestrator sequences index creation, blob write, metadata write and the
// transition to Created. It holds no state between calls.
type StoreOrchestrator struct {
	files          FileStore
	metadata       MetadataStore
	index          IndexStore
	log            *logger.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
	cleanupTimeout time.Duration
}

// OrchestratorOption configures a StoreOrchestrator
type OrchestratorOption func(*StoreOrchestrator)

// WithClock overrides the deletion timestamp source
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *StoreOrchestrator) { o.now = now }
}

// WithCleanupTimeout overrides DefaultCleanupTimeout
func WithCleanupTimeout(d time.Duration) OrchestratorOption {
	return func(o *StoreOrchestrator) { o.cleanupTimeout = d }
}

// WithCompensationMetrics counts index cleanups by outcome
func WithCompensationMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *StoreOrchestrator) { o.metrics = m }
}

// NewStoreOrchestrator creates an orchestrator over the three stores
func NewStoreOrchestrator(files FileStore, metadata MetadataStore, index IndexStore, log *logger.Logger, opts ...OrchestratorOption) *StoreOrchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	o := &StoreOrchestrator{
		files:          files,
		metadata:       metadata,
		index:          index,
		log:            log.Component("store_orchestrator"),
		now:            time.Now,
		cleanupTimeout: DefaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StoreInstance writes entry durably and makes it queryable. The returned identifier
// is valid whenever the index row was created, even if a later step failed.
func (o *StoreOrchestrator) StoreInstance(ctx context.Context, entry InstanceEntry) (dicom.VersionedInstanceIdentifier, error) {
	ds, err := entry.Dataset(ctx)
	if err != nil {
		return dicom.VersionedInstanceIdentifier{}, fmt.Errorf("read dataset: %w", err)
	}

	// Nothing has been written if this fails.
	version, err := o.index.CreateInstanceIndex(ctx, ds)
	if err != nil {
		return dicom.VersionedInstanceIdentifier{}, err
	}
	id := ds.ToVersionedInstanceIdentifier(version)

	if err := o.writeFileAndMetadata(ctx, entry, ds, id); err != nil {
		o.cleanup(ctx, id)
		return id, err
	}

	if err := o.index.UpdateInstanceIndexStatus(ctx, id, IndexStatusCreated); err != nil {
		return id, err
	}
	return id, nil
}

func (o *StoreOrchestrator) writeFileAndMetadata(ctx context.Context, entry InstanceEntry, ds *dicom.Dataset, id dicom.VersionedInstanceIdentifier) error {
	r, err := entry.Open(ctx)
	if err != nil {
		return fmt.Errorf("open instance stream: %w", err)
	}
	defer r.Close()

	if err := o.files.AddFile(ctx, id, r, false); err != nil {
		return err
	}

	return o.metadata.AddInstanceMetadata(ctx, ds.CopyWithoutBulkData(), id.Version)
}

// cleanup removes the index row. Its own failure is logged and dropped so the caller
// always sees the error that triggered it.
func (o *StoreOrchestrator) cleanup(ctx context.Context, id dicom.VersionedInstanceIdentifier) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanupTimeout)
	defer cancel()

	err := o.index.DeleteInstanceIndex(cctx, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, o.now())
	if err != nil {
		o.log.Error("Failed to clean up instance index").
			Str("study", id.StudyInstanceUID).
			Str("series", id.SeriesInstanceUID).
			Str("sop", id.SOPInstanceUID).
			Int64("version", id.Version).
			Err(err).
			Send()
		o.recordCompensation("error")
		return
	}

	o.log.Warn("Removed instance index after failed store").
		Str("instance", id.String()).
		Send()
	o.recordCompensation("success")
}

func (o *StoreOrchestrator) recordCompensation(outcome string) {
	if o.metrics != nil {
		o.metrics.CompensationsTotal.WithLabelValues(outcome).Inc()
	}
}
