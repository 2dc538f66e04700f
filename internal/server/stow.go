package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nainya/dicomstore/pkg/dicom"
	"github.com/nainya/dicomstore/pkg/store"
)

var errUnsupportedMediaType = errors.New("unsupported media type")

// readStoreEntries parses a multipart/related body. Each application/dicom+json part
// holds one dataset or an array of datasets. An application/dicom part directly after
// a single-dataset part supplies that instance's binary; otherwise the dataset's JSON
// encoding is stored as the binary.
func readStoreEntries(r *http.Request) ([]store.InstanceEntry, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/related" || params["boundary"] == "" {
		return nil, errUnsupportedMediaType
	}
	if t := params["type"]; t != "" && t != MediaTypeDicomJSON {
		return nil, errUnsupportedMediaType
	}

	var entries []*store.BytesEntry
	var last *store.BytesEntry
	mr := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, err
			}
			return nil, &store.ValidationError{Message: fmt.Sprintf("malformed multipart body: %v", err)}
		}

		partType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			partType = MediaTypeDicomJSON
		}
		body, err := io.ReadAll(part)
		if err != nil {
			return nil, err
		}

		switch partType {
		case MediaTypeDicomJSON, MediaTypeJSON:
			datasets, err := decodeDatasets(body)
			if err != nil {
				return nil, err
			}
			last = nil
			for _, ds := range datasets {
				data, err := json.Marshal(ds)
				if err != nil {
					return nil, err
				}
				entries = append(entries, &store.BytesEntry{DS: ds, Data: data})
			}
			if len(datasets) == 1 {
				last = entries[len(entries)-1]
			}
		case MediaTypeDicom:
			if last == nil {
				return nil, &store.ValidationError{Message: "application/dicom part must follow a single dataset part"}
			}
			last.Data = body
			last = nil
		default:
			return nil, errUnsupportedMediaType
		}
	}

	out := make([]store.InstanceEntry, len(entries))
	for i, e := range entries {
		out[i] = e
	}
	return out, nil
}

func decodeDatasets(body []byte) ([]*dicom.Dataset, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []*dicom.Dataset
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, &store.ValidationError{Message: fmt.Sprintf("invalid DICOM JSON: %v", err)}
		}
		for i, ds := range list {
			if ds == nil {
				return nil, &store.ValidationError{Message: fmt.Sprintf("dataset %d in array is null", i)}
			}
		}
		return list, nil
	}
	ds := dicom.NewDataset()
	if err := json.Unmarshal(trimmed, ds); err != nil {
		return nil, &store.ValidationError{Message: fmt.Sprintf("invalid DICOM JSON: %v", err)}
	}
	return []*dicom.Dataset{ds}, nil
}

// storeStatus maps a batch outcome to the response code
func storeStatus(resp store.StoreResponse) int {
	switch resp.Status {
	case store.StatusSuccess:
		return http.StatusOK
	case store.StatusPartialSuccess:
		return http.StatusAccepted
	}
	for _, res := range resp.Results {
		if res.Outcome != store.OutcomeConflict {
			return http.StatusBadRequest
		}
	}
	return http.StatusConflict
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)

	entries, err := readStoreEntries(r)
	if errors.Is(err, errUnsupportedMediaType) {
		writeJSON(w, http.StatusUnsupportedMediaType, MediaTypeJSON, errorBody{Error: err.Error()})
		return
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSON(w, http.StatusRequestEntityTooLarge, MediaTypeJSON, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusBadRequest, MediaTypeJSON, errorBody{Error: "no instances in request"})
		return
	}

	resp := s.services.Store.Process(r.Context(), entries, mux.Vars(r)["study"])
	writeJSON(w, storeStatus(resp), MediaTypeDicomJSON, resp)
}
