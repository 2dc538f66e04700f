// ABOUTME: Background removal of blobs and metadata left by deleted revisions
// ABOUTME: Failed rows are retried later up to a fixed retry count

package store

import (
	"context"
	"time"

	"github.com/nainya/dicomstore/internal/logger"
)

// Cleanup defaults
const (
	DefaultCleanupMaxRetries   = 5
	DefaultCleanupRetryBackoff = 5 * time.Minute
)

// DeletedInstanceCleaner removes the blob and metadata of soft-deleted revisions
type DeletedInstanceCleaner struct {
	deleted    DeletedInstanceStore
	files      FileStore
	metadata   MetadataStore
	log        *logger.Logger
	now        func() time.Time
	maxRetries int
	backoff    time.Duration
}

// NewDeletedInstanceCleaner creates a cleaner with the default retry policy
func NewDeletedInstanceCleaner(deleted DeletedInstanceStore, files FileStore, metadata MetadataStore, log *logger.Logger) *DeletedInstanceCleaner {
	if log == nil {
		log = logger.NewNop()
	}
	return &DeletedInstanceCleaner{
		deleted:    deleted,
		files:      files,
		metadata:   metadata,
		log:        log.Component("deleted_instance_cleaner"),
		now:        time.Now,
		maxRetries: DefaultCleanupMaxRetries,
		backoff:    DefaultCleanupRetryBackoff,
	}
}

// CleanupBatch processes up to batchSize due rows and returns how many were removed.
// A failure on one row pushes its retry time back and does not stop the batch.
func (c *DeletedInstanceCleaner) CleanupBatch(ctx context.Context, batchSize int) (int, error) {
	rows, err := c.deleted.RetrieveDeletedInstances(ctx, batchSize, c.maxRetries)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, row := range rows {
		id := row.Identifier
		err := c.files.DeleteFileIfExists(ctx, id)
		if err == nil {
			err = c.metadata.DeleteInstanceMetadataIfExists(ctx, id)
		}
		if err == nil {
			err = c.deleted.DeleteDeletedInstance(ctx, id)
		}
		if err != nil {
			retries, rerr := c.deleted.IncrementDeletedInstanceRetry(ctx, id, c.now().Add(c.backoff))
			c.log.Warn("Failed to clean up deleted instance").
				Str("instance", id.String()).
				Int("retry_count", retries).
				Err(err).
				Send()
			if rerr != nil {
				return cleaned, rerr
			}
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// Run calls CleanupBatch every interval until ctx is cancelled.
func (c *DeletedInstanceCleaner) Run(ctx context.Context, interval time.Duration, batchSize int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := c.CleanupBatch(ctx, batchSize)
		if err != nil && ctx.Err() == nil {
			c.log.Error("Cleanup batch failed").Err(err).Send()
		} else if n > 0 {
			c.log.Info("Cleaned up deleted instances").Int("count", n).Send()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
