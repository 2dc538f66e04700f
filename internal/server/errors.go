package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nainya/dicomstore/pkg/query"
	"github.com/nainya/dicomstore/pkg/store"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var parseErr *query.ParseError
	var dataStoreErr *store.DataStoreError
	switch {
	case errors.As(err, &parseErr), errors.Is(err, store.ErrDatasetValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInstanceAlreadyExists):
		return http.StatusConflict
	case errors.As(err, &dataStoreErr):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError reports err to the client. Internal failures are logged and sent
// without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var parseErr *query.ParseError
	if errors.As(err, &parseErr) && s.metrics != nil {
		s.metrics.QueryParseFailures.Inc()
	}

	if status == http.StatusInternalServerError {
		s.log.Error("Request failed").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Err(err).
			Send()
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, MediaTypeJSON, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v interface{}) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
