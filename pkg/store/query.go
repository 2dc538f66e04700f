package store

import (
	"context"
	"fmt"

	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/query"
)

// QueryService parses a query, runs it against the index and projects the
// matching metadata documents.
type QueryService struct {
	parser   *query.Parser
	store    QueryStore
	metadata MetadataStore
}

// NewQueryService creates a query service
func NewQueryService(parser *query.Parser, store QueryStore, metadata MetadataStore) *QueryService {
	return &QueryService{parser: parser, store: store, metadata: metadata}
}

// Query returns one dataset per result row. Parse failures are returned as *query.ParseError.
func (s *QueryService) Query(ctx context.Context, req query.QueryRequest) ([]*dicom.Dataset, error) {
	expr, err := s.parser.Parse(req)
	if err != nil {
		return nil, err
	}

	ids, err := s.store.Query(ctx, expr)
	if err != nil {
		return nil, err
	}

	tags := expr.ResultTags()
	out := make([]*dicom.Dataset, 0, len(ids))
	for _, id := range ids {
		ds, err := s.metadata.GetInstanceMetadata(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("read metadata for %s: %w", id, err)
		}
		if tags != nil {
			ds = ds.Project(tags)
		}
		out = append(out, ds)
	}
	return out, nil
}
