package index

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/store"
)

// RetrieveDeletedInstances returns due cleanup rows that have not exhausted their retries.
func (s *Store) RetrieveDeletedInstances(ctx context.Context, batchSize, maxRetries int) ([]store.DeletedInstance, error) {
	rows, err := s.pool.Query(ctx, `
SELECT study_instance_uid, series_instance_uid, sop_instance_uid, watermark, deleted_date, retry_count, cleanup_after
FROM deleted_instance
WHERE retry_count < $1 AND cleanup_after <= $2
ORDER BY cleanup_after
LIMIT $3`, maxRetries, s.now(), batchSize)
	if err != nil {
		return nil, store.NewDataStoreError("retrieve deleted instances", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.DeletedInstance, error) {
		var d store.DeletedInstance
		err := row.Scan(&d.Identifier.StudyInstanceUID, &d.Identifier.SeriesInstanceUID, &d.Identifier.SOPInstanceUID,
			&d.Identifier.Version, &d.DeletedDate, &d.RetryCount, &d.CleanupAfter)
		return d, err
	})
	if err != nil {
		return nil, store.NewDataStoreError("retrieve deleted instances", err)
	}
	return out, nil
}

// DeleteDeletedInstance removes a cleaned-up row
func (s *Store) DeleteDeletedInstance(ctx context.Context, id dicom.VersionedInstanceIdentifier) error {
	_, err := s.pool.Exec(ctx, `
DELETE FROM deleted_instance
WHERE study_instance_uid = $1 AND series_instance_uid = $2 AND sop_instance_uid = $3 AND watermark = $4`,
		id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version)
	return store.NewDataStoreError("delete deleted instance", err)
}

// IncrementDeletedInstanceRetry records a failed cleanup and reschedules it.
func (s *Store) IncrementDeletedInstanceRetry(ctx context.Context, id dicom.VersionedInstanceIdentifier, cleanupAfter time.Time) (int, error) {
	var retries int
	err := s.pool.QueryRow(ctx, `
UPDATE deleted_instance SET retry_count = retry_count + 1, cleanup_after = $5
WHERE study_instance_uid = $1 AND series_instance_uid = $2 AND sop_instance_uid = $3 AND watermark = $4
RETURNING retry_count`,
		id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version, cleanupAfter).Scan(&retries)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrInstanceNotFound
	}
	if err != nil {
		return 0, store.NewDataStoreError("increment deleted instance retry", err)
	}
	return retries, nil
}
