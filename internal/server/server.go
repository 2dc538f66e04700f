// Package server implements the DICOMweb style HTTP API, the observability
// endpoints and the gRPC health service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/nainya/dicomstore/internal/logger"
	"github.com/nainya/dicomstore/internal/metrics"
	"github.com/nainya/dicomstore/pkg/changefeed"
	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/query"
	"github.com/nainya/dicomstore/pkg/store"
)

// Media types served and accepted by the API
const (
	MediaTypeDicomJSON = "application/dicom+json"
	MediaTypeDicom     = "application/dicom"
	MediaTypeJSON      = "application/json"
)

// DefaultMaxRequestBytes bounds the body of a store request
const DefaultMaxRequestBytes = 2 << 30

// Storer stores a batch of instances
type Storer interface {
	Process(ctx context.Context, entries []store.InstanceEntry, requiredStudyUID string) store.StoreResponse
}

// Querier answers QIDO style searches
type Querier interface {
	Query(ctx context.Context, req query.QueryRequest) ([]*dicom.Dataset, error)
}

// MetadataRetriever returns the metadata of a study, series or instance
type MetadataRetriever interface {
	Retrieve(ctx context.Context, req store.RetrieveMetadataRequest) ([]*dicom.Dataset, error)
}

// Deleter removes a study, series or instance
type Deleter interface {
	Delete(ctx context.Context, studyUID, seriesUID, sopUID string) error
}

// ChangeFeedReader pages through the change feed
type ChangeFeedReader interface {
	Read(ctx context.Context, offset int64, limit int, includeMetadata bool) ([]changefeed.Entry, error)
	Latest(ctx context.Context) (int64, error)
}

// Services are the operations the API exposes
type Services struct {
	Store      Storer
	Query      Querier
	Retrieve   MetadataRetriever
	Delete     Deleter
	ChangeFeed ChangeFeedReader
}

// Server is the DICOM HTTP API
type Server struct {
	services        Services
	log             *logger.Logger
	metrics         *metrics.Metrics
	maxRequestBytes int64

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// Option configures a Server
type Option func(*Server)

// WithMaxRequestBytes bounds store request bodies
func WithMaxRequestBytes(n int64) Option {
	return func(s *Server) { s.maxRequestBytes = n }
}

// NewServer creates the API server. m may be nil.
func NewServer(services Services, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		services:        services,
		log:             log.Component("http"),
		metrics:         m,
		maxRequestBytes: DefaultMaxRequestBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.observe)
	// Middleware only wraps matched routes.
	r.NotFoundHandler = s.observe(http.NotFoundHandler())
	r.MethodNotAllowedHandler = s.observe(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))

	// QIDO
	r.HandleFunc("/studies", s.handleQuery(query.AllStudies)).Methods(http.MethodGet)
	r.HandleFunc("/series", s.handleQuery(query.AllSeries)).Methods(http.MethodGet)
	r.HandleFunc("/instances", s.handleQuery(query.AllInstances)).Methods(http.MethodGet)
	r.HandleFunc("/studies/{study}/series", s.handleQuery(query.StudySeries)).Methods(http.MethodGet)
	r.HandleFunc("/studies/{study}/instances", s.handleQuery(query.StudyInstances)).Methods(http.MethodGet)
	r.HandleFunc("/studies/{study}/series/{series}/instances", s.handleQuery(query.StudySeriesInstances)).Methods(http.MethodGet)

	// STOW
	r.HandleFunc("/studies", s.handleStore).Methods(http.MethodPost)
	r.HandleFunc("/studies/{study}", s.handleStore).Methods(http.MethodPost)

	// Metadata
	r.HandleFunc("/studies/{study}/metadata", s.handleMetadata(store.StudyResource)).Methods(http.MethodGet)
	r.HandleFunc("/studies/{study}/series/{series}/metadata", s.handleMetadata(store.SeriesResource)).Methods(http.MethodGet)
	r.HandleFunc("/studies/{study}/series/{series}/instances/{sop}/metadata", s.handleMetadata(store.InstanceResource)).Methods(http.MethodGet)

	// Delete
	r.HandleFunc("/studies/{study}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/studies/{study}/series/{series}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/studies/{study}/series/{series}/instances/{sop}", s.handleDelete).Methods(http.MethodDelete)

	// Change feed
	r.HandleFunc("/changefeed", s.handleChangeFeed).Methods(http.MethodGet)
	r.HandleFunc("/changefeed/latest", s.handleChangeFeedLatest).Methods(http.MethodGet)

	return r
}

// Start listens on port until Shutdown
func (s *Server) Start(port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	s.log.LogServerStart("http", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.closed = true
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.log.LogServerShutdown("http")
	return srv.Shutdown(ctx)
}
