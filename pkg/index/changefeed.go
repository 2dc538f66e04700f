package index

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/nainya/dicomstore/pkg/changefeed"
	"github.com/nainya/dicomstore/pkg/store"
)

// ReadChangeFeed returns up to limit entries with sequence greater than offset.
func (s *Store) ReadChangeFeed(ctx context.Context, offset int64, limit int) ([]store.ChangeFeedRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT sequence, timestamp, action, study_instance_uid, series_instance_uid, sop_instance_uid,
	original_watermark, current_watermark
FROM change_feed
WHERE sequence > $1
ORDER BY sequence
LIMIT $2`, offset, limit)
	if err != nil {
		return nil, store.NewDataStoreError("read change feed", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ChangeFeedRecord, error) {
		var (
			rec    store.ChangeFeedRecord
			action int16
		)
		err := row.Scan(&rec.Entry.Sequence, &rec.Entry.Timestamp, &action,
			&rec.Entry.StudyInstanceUID, &rec.Entry.SeriesInstanceUID, &rec.Entry.SOPInstanceUID,
			&rec.OriginalVersion, &rec.CurrentVersion)
		if err != nil {
			return rec, err
		}
		rec.Entry.Timestamp = rec.Entry.Timestamp.UTC()
		rec.Entry.Action = changefeed.ActionCreate
		if action == actionDelete {
			rec.Entry.Action = changefeed.ActionDelete
		}
		rec.Entry.State = changefeed.StateFor(rec.OriginalVersion, rec.CurrentVersion)
		return rec, nil
	})
	if err != nil {
		return nil, store.NewDataStoreError("read change feed", err)
	}
	return records, nil
}

// LatestSequence returns the newest change feed sequence, or zero when the feed is empty.
func (s *Store) LatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM change_feed`).Scan(&seq); err != nil {
		return 0, store.NewDataStoreError("latest change feed sequence", err)
	}
	return seq, nil
}
