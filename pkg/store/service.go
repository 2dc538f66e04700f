// ABOUTME: Store service applying validation and the orchestrator to a batch of instances
// ABOUTME: Each instance gets its own outcome and one failure never aborts the rest

package store

import (
	"context"
	"errors"
	"strings"

	"github.com/nainya/dicomstore/internal/logger"
	"github.com/nainya/dicomstore/pkg/dicom"
)

// Outcome is the result of storing one instance
type Outcome string

const (
	OutcomeStored           Outcome = "Stored"
	OutcomeConflict         Outcome = "Conflict"
	OutcomeValidationFailed Outcome = "ValidationFailed"
	OutcomeFailed           Outcome = "Failed"
)

func (o Outcome) label() string {
	return strings.ToLower(string(o))
}

// ResponseStatus summarises a batch
type ResponseStatus string

const (
	StatusNone           ResponseStatus = "None"
	StatusSuccess        ResponseStatus = "Success"
	StatusPartialSuccess ResponseStatus = "PartialSuccess"
	StatusFailure        ResponseStatus = "Failure"
)

// InstanceResult reports what happened to one entry
type InstanceResult struct {
	Identifier dicom.InstanceIdentifier `json:"identifier"`
	Version    int64                    `json:"version,omitempty"`
	Outcome    Outcome                  `json:"outcome"`
	Reason     string                   `json:"reason,omitempty"`
}

// StoreResponse is the result of a batch
type StoreResponse struct {
	Status  ResponseStatus   `json:"status"`
	Results []InstanceResult `json:"results"`
}

// StoreService stores batches of instances
type StoreService struct {
	orchestrator Orchestrator
	log          *logger.Logger
}

// NewStoreService creates a store service
func NewStoreService(orchestrator Orchestrator, log *logger.Logger) *StoreService {
	if log == nil {
		log = logger.NewNop()
	}
	return &StoreService{orchestrator: orchestrator, log: log.Component("store_service")}
}

// Process stores every entry in order and reports a per-instance outcome.
func (s *StoreService) Process(ctx context.Context, entries []InstanceEntry, requiredStudyUID string) StoreResponse {
	resp := StoreResponse{Status: StatusNone}
	stored := 0

	for i, entry := range entries {
		result := s.processEntry(ctx, entry, requiredStudyUID)
		if result.Outcome == OutcomeStored {
			stored++
		} else {
			s.log.Warn("Instance not stored").
				Int("index", i).
				Str("outcome", string(result.Outcome)).
				Str("reason", result.Reason).
				Send()
		}
		resp.Results = append(resp.Results, result)
	}

	switch {
	case len(entries) == 0:
	case stored == len(entries):
		resp.Status = StatusSuccess
	case stored == 0:
		resp.Status = StatusFailure
	default:
		resp.Status = StatusPartialSuccess
	}
	return resp
}

func (s *StoreService) processEntry(ctx context.Context, entry InstanceEntry, requiredStudyUID string) InstanceResult {
	ds, err := entry.Dataset(ctx)
	if err != nil {
		return InstanceResult{Outcome: OutcomeValidationFailed, Reason: err.Error()}
	}

	var result InstanceResult
	if ds != nil {
		result.Identifier = ds.ToInstanceIdentifier()
	}
	if err := ValidateDataset(ds, requiredStudyUID); err != nil {
		result.Outcome = OutcomeValidationFailed
		result.Reason = err.Error()
		return result
	}

	id, err := s.orchestrator.StoreInstance(ctx, entry)
	result.Outcome = outcomeOf(err)
	if err != nil {
		result.Reason = err.Error()
		if errors.Is(err, ErrInstanceAlreadyExists) {
			result.Reason = "instance already exists"
		}
		return result
	}
	result.Version = id.Version
	return result
}
