package index

import (
	"context"
	"fmt"
)

// Change feed action codes as stored in change_feed.action
const (
	actionCreate = 0
	actionDelete = 1
)

var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS instance_watermark_seq`,
	`CREATE TABLE IF NOT EXISTS instance (
	study_instance_uid text NOT NULL,
	series_instance_uid text NOT NULL,
	sop_instance_uid text NOT NULL,
	watermark bigint NOT NULL,
	status smallint NOT NULL DEFAULT 0,
	created_date timestamptz NOT NULL DEFAULT now(),
	patient_id text,
	patient_name text,
	referring_physician_name text,
	study_date date,
	study_description text,
	accession_number text,
	modality text,
	performed_procedure_step_start_date date,
	PRIMARY KEY (study_instance_uid, series_instance_uid, sop_instance_uid)
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS instance_watermark_idx ON instance (watermark)`,
	`CREATE TABLE IF NOT EXISTS deleted_instance (
	study_instance_uid text NOT NULL,
	series_instance_uid text NOT NULL,
	sop_instance_uid text NOT NULL,
	watermark bigint NOT NULL,
	deleted_date timestamptz NOT NULL,
	retry_count integer NOT NULL DEFAULT 0,
	cleanup_after timestamptz NOT NULL,
	PRIMARY KEY (study_instance_uid, series_instance_uid, sop_instance_uid, watermark)
)`,
	`CREATE INDEX IF NOT EXISTS deleted_instance_cleanup_idx ON deleted_instance (cleanup_after)`,
	`CREATE TABLE IF NOT EXISTS change_feed (
	sequence bigserial PRIMARY KEY,
	timestamp timestamptz NOT NULL DEFAULT now(),
	action smallint NOT NULL,
	study_instance_uid text NOT NULL,
	series_instance_uid text NOT NULL,
	sop_instance_uid text NOT NULL,
	original_watermark bigint NOT NULL,
	current_watermark bigint
)`,
	`CREATE INDEX IF NOT EXISTS change_feed_instance_idx ON change_feed (study_instance_uid, series_instance_uid, sop_instance_uid)`,
}

// EnsureSchema creates the index tables when they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("index: ensure schema: %w", err)
		}
	}
	return nil
}
