package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nainya/dicomstore/pkg/query"
	"github.com/nainya/dicomstore/pkg/store"
)

func (s *Server) handleQuery(resource query.QueryResource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		req := query.QueryRequest{
			Parameters:        r.URL.Query(),
			Resource:          resource,
			StudyInstanceUID:  vars["study"],
			SeriesInstanceUID: vars["series"],
		}

		results, err := s.services.Query.Query(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(results) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, MediaTypeDicomJSON, results)
	}
}

func (s *Server) handleMetadata(resource store.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		req := store.RetrieveMetadataRequest{
			ResourceType:      resource,
			StudyInstanceUID:  vars["study"],
			SeriesInstanceUID: vars["series"],
			SOPInstanceUID:    vars["sop"],
		}

		results, err := s.services.Retrieve.Retrieve(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, MediaTypeDicomJSON, results)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.services.Delete.Delete(r.Context(), vars["study"], vars["series"], vars["sop"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changeFeedParams struct {
	offset          int64
	limit           int
	includeMetadata bool
}

func parseChangeFeedParams(r *http.Request) (changeFeedParams, error) {
	p := changeFeedParams{includeMetadata: true}
	q := r.URL.Query()

	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return p, &store.ValidationError{Attribute: "offset", Message: "must be an integer"}
		}
		p.offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, &store.ValidationError{Attribute: "limit", Message: "must be an integer"}
		}
		p.limit = n
	}
	if v := q.Get("includemetadata"); v != "" {
		switch strings.ToLower(v) {
		case "true":
			p.includeMetadata = true
		case "false":
			p.includeMetadata = false
		default:
			return p, &store.ValidationError{Attribute: "includemetadata", Message: "must be true or false"}
		}
	}
	return p, nil
}

func (s *Server) handleChangeFeed(w http.ResponseWriter, r *http.Request) {
	p, err := parseChangeFeedParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	entries, err := s.services.ChangeFeed.Read(r.Context(), p.offset, p.limit, p.includeMetadata)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MediaTypeJSON, entries)
}

type latestResponse struct {
	Sequence int64 `json:"Sequence"`
}

func (s *Server) handleChangeFeedLatest(w http.ResponseWriter, r *http.Request) {
	seq, err := s.services.ChangeFeed.Latest(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MediaTypeJSON, latestResponse{Sequence: seq})
}
