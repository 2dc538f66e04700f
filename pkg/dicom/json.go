// ABOUTME: DICOM JSON model encoding for datasets
// ABOUTME: Objects keyed by eight digit tag hex, each holding vr plus Value, InlineBinary or BulkDataURI

package dicom

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type jsonElement struct {
	VR           string            `json:"vr"`
	Value        []json.RawMessage `json:"Value,omitempty"`
	InlineBinary []byte            `json:"InlineBinary,omitempty"`
	BulkDataURI  string            `json:"BulkDataURI,omitempty"`
}

type personName struct {
	Alphabetic  string `json:"Alphabetic,omitempty"`
	Ideographic string `json:"Ideographic,omitempty"`
	Phonetic    string `json:"Phonetic,omitempty"`
}

var jsonNull = json.RawMessage("null")

// MarshalJSON encodes the dataset in the DICOM JSON model.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	out := make(map[string]jsonElement, len(d.Elements))
	for tag, el := range d.Elements {
		je, err := encodeElement(el)
		if err != nil {
			return nil, fmt.Errorf("dicom: encode %s: %w", tag, err)
		}
		out[tag.Hex()] = je
	}
	return json.Marshal(out)
}

func encodeElement(el *Element) (jsonElement, error) {
	je := jsonElement{VR: el.VR}
	switch v := el.Value.(type) {
	case nil:
	case BulkData:
		je.InlineBinary = v.InlineBinary
		je.BulkDataURI = v.URI
	case []*Dataset:
		for _, item := range v {
			raw, err := item.MarshalJSON()
			if err != nil {
				return je, err
			}
			je.Value = append(je.Value, raw)
		}
	case []float64:
		for _, f := range v {
			raw, err := json.Marshal(f)
			if err != nil {
				return je, err
			}
			je.Value = append(je.Value, raw)
		}
	case []string:
		for _, s := range v {
			raw, err := encodeString(el.VR, s)
			if err != nil {
				return je, err
			}
			je.Value = append(je.Value, raw)
		}
	default:
		return je, fmt.Errorf("unsupported value type %T", el.Value)
	}
	return je, nil
}

func encodeString(vr, s string) (json.RawMessage, error) {
	switch vr {
	case VR_PN:
		if s == "" {
			return jsonNull, nil
		}
		return json.Marshal(personName{Alphabetic: s})
	case VR_IS, VR_DS:
		if s == "" {
			return jsonNull, nil
		}
		var n json.Number
		if err := json.Unmarshal([]byte(s), &n); err == nil {
			return json.RawMessage(n.String()), nil
		}
	}
	return json.Marshal(s)
}

// UnmarshalJSON decodes a DICOM JSON object into the dataset, replacing its contents.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	var raw map[string]jsonElement
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("dicom: decode dataset: %w", err)
	}
	d.Elements = make(map[Tag]*Element, len(raw))
	for key, je := range raw {
		tag, err := ParseTag(key)
		if err != nil {
			return err
		}
		value, err := decodeValue(je)
		if err != nil {
			return fmt.Errorf("dicom: decode %s: %w", tag, err)
		}
		d.AddElement(tag, je.VR, value)
	}
	return nil
}

func decodeValue(je jsonElement) (interface{}, error) {
	if je.InlineBinary != nil || je.BulkDataURI != "" {
		return BulkData{InlineBinary: je.InlineBinary, URI: je.BulkDataURI}, nil
	}
	switch {
	case je.VR == VR_SQ:
		items := make([]*Dataset, 0, len(je.Value))
		for _, raw := range je.Value {
			item := NewDataset()
			if err := item.UnmarshalJSON(raw); err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case isNumericVR(je.VR):
		values := make([]float64, 0, len(je.Value))
		for _, raw := range je.Value {
			var f float64
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, err
			}
			values = append(values, f)
		}
		return values, nil
	}
	values := make([]string, 0, len(je.Value))
	for _, raw := range je.Value {
		s, err := decodeString(je.VR, raw)
		if err != nil {
			return nil, err
		}
		values = append(values, s)
	}
	return values, nil
}

func decodeString(vr string, raw json.RawMessage) (string, error) {
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return "", nil
	}
	if vr == VR_PN {
		var pn personName
		if err := json.Unmarshal(raw, &pn); err != nil {
			return "", err
		}
		return pn.Alphabetic, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
