package store

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the store implementations
var (
	ErrInstanceAlreadyExists = errors.New("store: instance already exists")
	ErrInstanceNotFound      = errors.New("store: instance not found")
	ErrDatasetValidation     = errors.New("store: dataset validation failed")
)

// ValidationError describes why a dataset was rejected
type ValidationError struct {
	Attribute string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.Attribute == "" {
		return fmt.Sprintf("%v: %s", ErrDatasetValidation, e.Message)
	}
	return fmt.Sprintf("%v: %s: %s", ErrDatasetValidation, e.Attribute, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrDatasetValidation
}

// DataStoreError wraps a failure of a backing store that may succeed on retry
type DataStoreError struct {
	Op  string
	Err error
}

func (e *DataStoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *DataStoreError) Unwrap() error {
	return e.Err
}

// NewDataStoreError wraps err unless it is nil or already one of the sentinel errors.
func NewDataStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInstanceAlreadyExists) || errors.Is(err, ErrInstanceNotFound) {
		return err
	}
	return &DataStoreError{Op: op, Err: err}
}
