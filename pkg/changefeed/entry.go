// Package changefeed models the ordered log of instance mutations and the clients that read it.
package changefeed

import (
	"context"
	"time"

	"github.com/nainya/dicomstore/pkg/dicom"
)

// Action is the mutation an entry records
type Action string

const (
	ActionCreate Action = "Create"
	ActionDelete Action = "Delete"
)

// State is the current standing of the instance revision an entry refers to
type State string

const (
	StateCurrent  State = "Current"
	StateReplaced State = "Replaced"
	StateDeleted  State = "Deleted"
)

// Entry is one change feed record. Sequences are strictly increasing.
type Entry struct {
	Sequence          int64          `json:"Sequence"`
	Timestamp         time.Time      `json:"Timestamp"`
	Action            Action         `json:"Action"`
	StudyInstanceUID  string         `json:"StudyInstanceUid"`
	SeriesInstanceUID string         `json:"SeriesInstanceUid"`
	SOPInstanceUID    string         `json:"SopInstanceUid"`
	State             State          `json:"State"`
	Metadata          *dicom.Dataset `json:"Metadata,omitempty"`
}

// SupersededBeforeCreate reports whether the entry creates an instance that has since
// been deleted, so replaying it would materialise data that no longer exists.
func (e Entry) SupersededBeforeCreate() bool {
	return e.Action == ActionCreate && e.State == StateDeleted
}

// StateFor derives the entry state from the revision it recorded and the revision that
// is current now. currentVersion is nil once every revision has been deleted.
func StateFor(originalVersion int64, currentVersion *int64) State {
	switch {
	case currentVersion == nil:
		return StateDeleted
	case *currentVersion != originalVersion:
		return StateReplaced
	}
	return StateCurrent
}

// Source returns the entries with sequence greater than after, in ascending order.
// An empty result means the reader has caught up.
type Source interface {
	Retrieve(ctx context.Context, after int64) ([]Entry, error)
}
