package store

import (
	"context"
	"fmt"

	"github.com/nainya/dicomstore/pkg/dicom"
)

// ResourceType is the hierarchy level a retrieve request targets
type ResourceType int

const (
	StudyResource ResourceType = iota
	SeriesResource
	InstanceResource
)

// RetrieveMetadataRequest names a study, series or instance
type RetrieveMetadataRequest struct {
	ResourceType      ResourceType
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
}

// Validate checks the UIDs required by the resource type.
func (r RetrieveMetadataRequest) Validate() error {
	if err := validateUID(dicom.StudyInstanceUID, r.StudyInstanceUID); err != nil {
		return err
	}
	if r.ResourceType >= SeriesResource {
		if err := validateUID(dicom.SeriesInstanceUID, r.SeriesInstanceUID); err != nil {
			return err
		}
	}
	if r.ResourceType == InstanceResource {
		if err := validateUID(dicom.SOPInstanceUID, r.SOPInstanceUID); err != nil {
			return err
		}
	}
	return nil
}

// RetrieveMetadataService reads stored metadata for every created instance under a resource
type RetrieveMetadataService struct {
	instances InstanceLister
	metadata  MetadataStore
}

// NewRetrieveMetadataService creates a retrieve service
func NewRetrieveMetadataService(instances InstanceLister, metadata MetadataStore) *RetrieveMetadataService {
	return &RetrieveMetadataService{instances: instances, metadata: metadata}
}

// Retrieve returns the metadata documents for the request, in index order.
func (s *RetrieveMetadataService) Retrieve(ctx context.Context, req RetrieveMetadataRequest) ([]*dicom.Dataset, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	series, sop := req.SeriesInstanceUID, req.SOPInstanceUID
	switch req.ResourceType {
	case StudyResource:
		series, sop = "", ""
	case SeriesResource:
		sop = ""
	}

	ids, err := s.instances.GetInstanceIdentifiers(ctx, req.StudyInstanceUID, series, sop)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrInstanceNotFound
	}

	out := make([]*dicom.Dataset, 0, len(ids))
	for _, id := range ids {
		ds, err := s.metadata.GetInstanceMetadata(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read metadata for %s: %w", id, err)
		}
		out = append(out, ds)
	}
	return out, nil
}
