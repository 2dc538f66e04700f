// ABOUTME: Change feed read service with paging validation
// ABOUTME: Attaches the metadata of the instance's current revision to each entry

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nainya/dicomstore/pkg/changefeed"
	"github.com/nainya/dicomstore/pkg/dicom"
)

// Change feed paging limits
const (
	DefaultChangeFeedLimit = 10
	MaxChangeFeedLimit     = 100
)

// ChangeFeedRecord is a change feed row together with the revision it recorded and
// the revision of the instance that is current now. CurrentVersion is nil once the
// instance has been deleted.
type ChangeFeedRecord struct {
	Entry           changefeed.Entry
	OriginalVersion int64
	CurrentVersion  *int64
}

// ChangeFeedStore reads change feed rows with sequence greater than offset
type ChangeFeedStore interface {
	ReadChangeFeed(ctx context.Context, offset int64, limit int) ([]ChangeFeedRecord, error)
	LatestSequence(ctx context.Context) (int64, error)
}

// ChangeFeedService pages through the change feed, optionally attaching the
// metadata of the instance's current revision.
type ChangeFeedService struct {
	feed     ChangeFeedStore
	metadata MetadataStore
}

// NewChangeFeedService creates a change feed service
func NewChangeFeedService(feed ChangeFeedStore, metadata MetadataStore) *ChangeFeedService {
	return &ChangeFeedService{feed: feed, metadata: metadata}
}

// Read returns up to limit entries after offset. A zero limit uses DefaultChangeFeedLimit.
func (s *ChangeFeedService) Read(ctx context.Context, offset int64, limit int, includeMetadata bool) ([]changefeed.Entry, error) {
	if offset < 0 {
		return nil, &ValidationError{Attribute: "offset", Message: "must not be negative"}
	}
	if limit == 0 {
		limit = DefaultChangeFeedLimit
	}
	if limit < 1 || limit > MaxChangeFeedLimit {
		return nil, &ValidationError{Attribute: "limit", Message: fmt.Sprintf("must be within [1, %d]", MaxChangeFeedLimit)}
	}

	records, err := s.feed.ReadChangeFeed(ctx, offset, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]changefeed.Entry, 0, len(records))
	for _, rec := range records {
		entry := rec.Entry
		if includeMetadata && rec.CurrentVersion != nil {
			id := dicom.VersionedInstanceIdentifier{
				StudyInstanceUID:  entry.StudyInstanceUID,
				SeriesInstanceUID: entry.SeriesInstanceUID,
				SOPInstanceUID:    entry.SOPInstanceUID,
				Version:           *rec.CurrentVersion,
			}
			md, err := s.metadata.GetInstanceMetadata(ctx, id)
			// A revision deleted after the row was read has no metadata to attach.
			if err != nil && !errors.Is(err, ErrInstanceNotFound) {
				return nil, fmt.Errorf("read metadata for change feed entry %d: %w", entry.Sequence, err)
			}
			entry.Metadata = md
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Latest returns the newest sequence, or zero for an empty feed
func (s *ChangeFeedService) Latest(ctx context.Context) (int64, error) {
	return s.feed.LatestSequence(ctx)
}
