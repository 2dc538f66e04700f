// ABOUTME: FHIR transaction pipeline keeping one ImagingStudy per study in sync
// ABOUTME: Creates merge the instance into the study, deletes remove it

package cast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/nainya/dicomstore/pkg/changefeed"
	"github.com/nainya/dicomstore/pkg/dicom"
)

const (
	fhirContentType     = "application/fhir+json"
	dicomIdentifierType = "urn:dicom:uid"
)

// FHIRConfig configures the FHIR pipeline
type FHIRConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
	RetryMax          int
}

type fhirCoding struct {
	System string `json:"system,omitempty"`
	Code   string `json:"code"`
}

type fhirIdentifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

type imagingInstance struct {
	UID      string     `json:"uid"`
	SOPClass fhirCoding `json:"sopClass"`
	Number   int        `json:"number,omitempty"`
}

type imagingSeries struct {
	UID       string            `json:"uid"`
	Modality  fhirCoding        `json:"modality"`
	Instances []imagingInstance `json:"instance,omitempty"`
}

// imagingStudy is the subset of the FHIR ImagingStudy resource this pipeline maintains.
type imagingStudy struct {
	ResourceType      string           `json:"resourceType"`
	ID                string           `json:"id,omitempty"`
	Identifier        []fhirIdentifier `json:"identifier"`
	Status            string           `json:"status"`
	Started           string           `json:"started,omitempty"`
	Description       string           `json:"description,omitempty"`
	NumberOfSeries    int              `json:"numberOfSeries"`
	NumberOfInstances int              `json:"numberOfInstances"`
	Series            []imagingSeries  `json:"series,omitempty"`
}

type bundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type bundleEntry struct {
	FullURL  string        `json:"fullUrl,omitempty"`
	Resource *imagingStudy `json:"resource,omitempty"`
	Request  bundleRequest `json:"request"`
}

type bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        int           `json:"total,omitempty"`
	Entry        []bundleEntry `json:"entry,omitempty"`
}

type searchBundle struct {
	Entry []struct {
		Resource imagingStudy `json:"resource"`
	} `json:"entry"`
}

// FHIRPipeline posts transaction bundles to a FHIR server
type FHIRPipeline struct {
	cfg     FHIRConfig
	client  *retryablehttp.Client
	limiter *rate.Limiter
}

// NewFHIRPipeline creates the pipeline
func NewFHIRPipeline(cfg FHIRConfig) *FHIRPipeline {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.Timeout
	if cfg.RetryMax > 0 {
		client.RetryMax = cfg.RetryMax
	}

	return &FHIRPipeline{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// Process applies one entry. Replaying an entry leaves the server unchanged.
func (p *FHIRPipeline) Process(ctx context.Context, entry changefeed.Entry) error {
	study, err := p.findStudy(ctx, entry.StudyInstanceUID)
	if err != nil {
		return err
	}

	var req bundleEntry
	switch entry.Action {
	case changefeed.ActionCreate:
		if study == nil {
			study = newImagingStudy(entry.StudyInstanceUID)
		}
		addInstance(study, entry)
		req = p.putEntry(study, entry.StudyInstanceUID)
	case changefeed.ActionDelete:
		if study == nil {
			return nil
		}
		if !removeInstance(study, entry) {
			return nil
		}
		if study.NumberOfInstances == 0 {
			req = bundleEntry{Request: bundleRequest{Method: http.MethodDelete, URL: studySearchURL(entry.StudyInstanceUID)}}
		} else {
			req = p.putEntry(study, entry.StudyInstanceUID)
		}
	default:
		return fmt.Errorf("cast: unsupported change feed action %q", entry.Action)
	}

	return p.commit(ctx, bundle{ResourceType: "Bundle", Type: "transaction", Entry: []bundleEntry{req}})
}

func (p *FHIRPipeline) putEntry(study *imagingStudy, studyUID string) bundleEntry {
	fullURL := "urn:uuid:" + uuid.NewString()
	if study.ID != "" {
		fullURL = strings.TrimSuffix(p.cfg.BaseURL, "/") + "/ImagingStudy/" + study.ID
	}
	return bundleEntry{
		FullURL:  fullURL,
		Resource: study,
		Request:  bundleRequest{Method: http.MethodPut, URL: studySearchURL(studyUID)},
	}
}

func studySearchURL(studyUID string) string {
	return "ImagingStudy?identifier=" + url.QueryEscape(dicomIdentifierType+"|urn:oid:"+studyUID)
}

func newImagingStudy(studyUID string) *imagingStudy {
	return &imagingStudy{
		ResourceType: "ImagingStudy",
		Identifier:   []fhirIdentifier{{System: dicomIdentifierType, Value: "urn:oid:" + studyUID}},
		Status:       "available",
	}
}

func addInstance(study *imagingStudy, entry changefeed.Entry) {
	var md *dicom.Dataset
	if entry.Metadata != nil {
		md = entry.Metadata
	} else {
		md = dicom.NewDataset()
	}
	if d := md.GetString(dicom.StudyDate); d != "" {
		if t, err := dicom.ParseDate(d); err == nil {
			study.Started = t.Format("2006-01-02")
		}
	}
	if desc := md.GetString(dicom.StudyDescription); desc != "" {
		study.Description = desc
	}

	si := -1
	for i := range study.Series {
		if study.Series[i].UID == entry.SeriesInstanceUID {
			si = i
			break
		}
	}
	if si < 0 {
		study.Series = append(study.Series, imagingSeries{UID: entry.SeriesInstanceUID})
		si = len(study.Series) - 1
	}
	series := &study.Series[si]
	if m := md.GetString(dicom.Modality); m != "" {
		series.Modality = fhirCoding{System: "http://dicom.nema.org/resources/ontology/DCM", Code: m}
	}

	for _, inst := range series.Instances {
		if inst.UID == entry.SOPInstanceUID {
			recount(study)
			return
		}
	}
	series.Instances = append(series.Instances, imagingInstance{
		UID:      entry.SOPInstanceUID,
		SOPClass: fhirCoding{System: "urn:ietf:rfc:3986", Code: "urn:oid:" + md.GetString(dicom.SOPClassUID)},
	})
	recount(study)
}

func removeInstance(study *imagingStudy, entry changefeed.Entry) bool {
	removed := false
	series := study.Series[:0]
	for _, s := range study.Series {
		if s.UID == entry.SeriesInstanceUID {
			kept := s.Instances[:0]
			for _, inst := range s.Instances {
				if inst.UID == entry.SOPInstanceUID {
					removed = true
					continue
				}
				kept = append(kept, inst)
			}
			s.Instances = kept
		}
		if len(s.Instances) > 0 {
			series = append(series, s)
		}
	}
	study.Series = series
	recount(study)
	return removed
}

func recount(study *imagingStudy) {
	study.NumberOfSeries = len(study.Series)
	study.NumberOfInstances = 0
	for _, s := range study.Series {
		study.NumberOfInstances += len(s.Instances)
	}
}

func (p *FHIRPipeline) findStudy(ctx context.Context, studyUID string) (*imagingStudy, error) {
	u := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/" + studySearchURL(studyUID)
	body, err := p.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("cast: search ImagingStudy %s: %w", studyUID, err)
	}

	var result searchBundle
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("cast: decode ImagingStudy search: %w", err)
	}
	switch len(result.Entry) {
	case 0:
		return nil, nil
	case 1:
		return &result.Entry[0].Resource, nil
	}
	return nil, fmt.Errorf("cast: %d ImagingStudy resources match study %s", len(result.Entry), studyUID)
}

func (p *FHIRPipeline) commit(ctx context.Context, b bundle) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if _, err := p.do(ctx, http.MethodPost, strings.TrimSuffix(p.cfg.BaseURL, "/"), payload); err != nil {
		return fmt.Errorf("cast: commit transaction: %w", err)
	}
	return nil
}

func (p *FHIRPipeline) do(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", fhirContentType)
	if payload != nil {
		req.Header.Set("Content-Type", fhirContentType)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return data, nil
}
