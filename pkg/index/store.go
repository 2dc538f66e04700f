// Package index is the Postgres index store. It allocates instance versions, tracks
// the Creating/Created lifecycle, answers queries and records the change feed.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/store"
)

// DefaultCleanupDelay is how long a deleted revision waits before its blobs are removed
const DefaultCleanupDelay = 10 * time.Minute

const uniqueViolation = "23505"

// changeFeedLockKey serializes change feed writers so that sequence order matches
// commit order and a reader paging by sequence never passes an uncommitted entry.
const changeFeedLockKey int64 = 0x6463_6d66_6565_64

var (
	_ store.IndexStore           = (*Store)(nil)
	_ store.InstanceLister       = (*Store)(nil)
	_ store.QueryStore           = (*Store)(nil)
	_ store.DeletedInstanceStore = (*Store)(nil)
	_ store.ChangeFeedStore      = (*Store)(nil)
)

// Store implements the store package's index, lister, query, deleted-instance and
// change feed contracts on a pgx pool.
type Store struct {
	pool         *pgxpool.Pool
	cleanupDelay time.Duration
	now          func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithCleanupDelay sets the delay between deletion and blob cleanup
func WithCleanupDelay(d time.Duration) Option {
	return func(s *Store) { s.cleanupDelay = d }
}

// WithClock overrides the time source used for cleanup scheduling
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to Postgres and creates the schema
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("index: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}

	s := New(pool, opts...)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool without touching the schema
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, cleanupDelay: DefaultCleanupDelay, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateInstanceIndex inserts a Creating row with a freshly allocated version.
func (s *Store) CreateInstanceIndex(ctx context.Context, ds *dicom.Dataset) (int64, error) {
	id := ds.ToInstanceIdentifier()
	var version int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO instance (
	study_instance_uid, series_instance_uid, sop_instance_uid, watermark, status,
	patient_id, patient_name, referring_physician_name, study_date, study_description,
	accession_number, modality, performed_procedure_step_start_date
) VALUES ($1, $2, $3, nextval('instance_watermark_seq'), 0, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING watermark`,
		id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID,
		textColumn(ds, dicom.PatientID),
		textColumn(ds, dicom.PatientName),
		textColumn(ds, dicom.ReferringPhysicianName),
		dateColumn(ds, dicom.StudyDate),
		textColumn(ds, dicom.StudyDescription),
		textColumn(ds, dicom.AccessionNumber),
		textColumn(ds, dicom.Modality),
		dateColumn(ds, dicom.PerformedProcedureStepStartDate),
	).Scan(&version)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return 0, store.ErrInstanceAlreadyExists
	}
	if err != nil {
		return 0, store.NewDataStoreError("create instance index", err)
	}
	return version, nil
}

// UpdateInstanceIndexStatus moves a revision to status. Reaching Created appends a
// Create entry to the change feed and marks earlier entries for the instance as replaced.
func (s *Store) UpdateInstanceIndexStatus(ctx context.Context, id dicom.VersionedInstanceIdentifier, status store.IndexStatus) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE instance SET status = $5
WHERE study_instance_uid = $1 AND series_instance_uid = $2 AND sop_instance_uid = $3 AND watermark = $4`,
			id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version, int16(status))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrInstanceNotFound
		}
		if status != store.IndexStatusCreated {
			return nil
		}
		if err := lockChangeFeed(ctx, tx); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO change_feed (action, study_instance_uid, series_instance_uid, sop_instance_uid, original_watermark, current_watermark)
VALUES ($1, $2, $3, $4, $5, $5)`,
			actionCreate, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
UPDATE change_feed SET current_watermark = $4
WHERE study_instance_uid = $1 AND series_instance_uid = $2 AND sop_instance_uid = $3`,
			id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version)
		return err
	})
	return store.NewDataStoreError("update instance index status", err)
}

type removedRow struct {
	id     dicom.VersionedInstanceIdentifier
	status int16
}

// DeleteInstanceIndex removes matching rows in any status and queues their blobs for
// cleanup. Only Created rows produce Delete entries in the change feed.
func (s *Store) DeleteInstanceIndex(ctx context.Context, studyUID, seriesUID, sopUID string, deletedAt time.Time) error {
	cleanupAfter := deletedAt.Add(s.cleanupDelay)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
DELETE FROM instance
WHERE study_instance_uid = $1
	AND ($2::text = '' OR series_instance_uid = $2)
	AND ($3::text = '' OR sop_instance_uid = $3)
RETURNING study_instance_uid, series_instance_uid, sop_instance_uid, watermark, status`,
			studyUID, seriesUID, sopUID)
		if err != nil {
			return err
		}
		removed, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (removedRow, error) {
			var r removedRow
			err := row.Scan(&r.id.StudyInstanceUID, &r.id.SeriesInstanceUID, &r.id.SOPInstanceUID, &r.id.Version, &r.status)
			return r, err
		})
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			return store.ErrInstanceNotFound
		}
		if err := lockChangeFeed(ctx, tx); err != nil {
			return err
		}

		for _, r := range removed {
			if _, err := tx.Exec(ctx, `
INSERT INTO deleted_instance (study_instance_uid, series_instance_uid, sop_instance_uid, watermark, deleted_date, cleanup_after)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT DO NOTHING`,
				r.id.StudyInstanceUID, r.id.SeriesInstanceUID, r.id.SOPInstanceUID, r.id.Version, deletedAt, cleanupAfter); err != nil {
				return err
			}
			if r.status != int16(store.IndexStatusCreated) {
				continue
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO change_feed (timestamp, action, study_instance_uid, series_instance_uid, sop_instance_uid, original_watermark)
VALUES ($1, $2, $3, $4, $5, $6)`,
				deletedAt, actionDelete, r.id.StudyInstanceUID, r.id.SeriesInstanceUID, r.id.SOPInstanceUID, r.id.Version); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
UPDATE change_feed SET current_watermark = NULL
WHERE study_instance_uid = $1 AND series_instance_uid = $2 AND sop_instance_uid = $3`,
				r.id.StudyInstanceUID, r.id.SeriesInstanceUID, r.id.SOPInstanceUID); err != nil {
				return err
			}
		}
		return nil
	})
	return store.NewDataStoreError("delete instance index", err)
}

// lockChangeFeed holds the change feed writer lock until tx ends.
func lockChangeFeed(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, changeFeedLockKey)
	return err
}

// GetInstanceIdentifiers lists Created revisions beneath the given level.
func (s *Store) GetInstanceIdentifiers(ctx context.Context, studyUID, seriesUID, sopUID string) ([]dicom.VersionedInstanceIdentifier, error) {
	rows, err := s.pool.Query(ctx, `
SELECT study_instance_uid, series_instance_uid, sop_instance_uid, watermark
FROM instance
WHERE status = 1
	AND study_instance_uid = $1
	AND ($2::text = '' OR series_instance_uid = $2)
	AND ($3::text = '' OR sop_instance_uid = $3)
ORDER BY series_instance_uid, sop_instance_uid`,
		studyUID, seriesUID, sopUID)
	if err != nil {
		return nil, store.NewDataStoreError("get instance identifiers", err)
	}
	ids, err := collectIdentifiers(rows)
	if err != nil {
		return nil, store.NewDataStoreError("get instance identifiers", err)
	}
	return ids, nil
}

func collectIdentifiers(rows pgx.Rows) ([]dicom.VersionedInstanceIdentifier, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (dicom.VersionedInstanceIdentifier, error) {
		var id dicom.VersionedInstanceIdentifier
		err := row.Scan(&id.StudyInstanceUID, &id.SeriesInstanceUID, &id.SOPInstanceUID, &id.Version)
		return id, err
	})
}

func textColumn(ds *dicom.Dataset, tag dicom.Tag) any {
	if v := ds.GetString(tag); v != "" {
		return v
	}
	return nil
}

func dateColumn(ds *dicom.Dataset, tag dicom.Tag) any {
	t, err := dicom.ParseDate(ds.GetString(tag))
	if err != nil {
		return nil
	}
	return t
}
