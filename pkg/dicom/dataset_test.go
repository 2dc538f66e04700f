// ABOUTME: Tests for datasets, tags and DICOM JSON encoding
// ABOUTME: Covers bulk-data stripping and keyword/hex attribute resolution

package dicom

import (
	"encoding/json"
	"testing"
)

func sampleDataset() *Dataset {
	ds := NewDataset()
	ds.AddString(StudyInstanceUID, "1.2.3")
	ds.AddString(SeriesInstanceUID, "1.2.3.4")
	ds.AddString(SOPInstanceUID, "1.2.3.4.5")
	ds.AddString(PatientName, "Doe^Jane")
	ds.AddString(SeriesNumber, "7")
	ds.AddElement(Rows, VR_US, []float64{512})
	ds.AddElement(PixelData, VR_OW, BulkData{InlineBinary: []byte{1, 2, 3, 4}})

	item := NewDataset()
	item.AddString(ReferencedSOPInstanceUID, "9.9.9")
	item.AddElement(Tag{0x0009, 0x1001}, VR_OB, BulkData{URI: "http://example/bulk"})
	ds.AddElement(ReferencedSOPSequence, VR_SQ, []*Dataset{item})
	return ds
}

func TestParseTag(t *testing.T) {
	tag, err := ParseTag("0020000d")
	if err != nil {
		t.Fatalf("Failed to parse tag: %v", err)
	}
	if tag != StudyInstanceUID {
		t.Errorf("Expected %s, got %s", StudyInstanceUID, tag)
	}
	if tag.Hex() != "0020000D" {
		t.Errorf("Expected 0020000D, got %s", tag.Hex())
	}

	for _, bad := range []string{"", "0020", "0020000G", "00200000D"} {
		if _, err := ParseTag(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestParseAttributeID(t *testing.T) {
	byName, ok := ParseAttributeID("PatientName")
	if !ok {
		t.Fatal("Expected PatientName to resolve")
	}
	byHex, ok := ParseAttributeID("00100010")
	if !ok {
		t.Fatal("Expected 00100010 to resolve")
	}
	if byName.Tag != byHex.Tag {
		t.Errorf("Expected same tag, got %s and %s", byName.Tag, byHex.Tag)
	}
	if _, ok := ParseAttributeID("patientname"); ok {
		t.Error("Expected keyword lookup to be case-sensitive")
	}
	if _, ok := ParseAttributeID("00390061"); ok {
		t.Error("Expected unknown tag to be rejected")
	}
}

func TestDatasetAccessors(t *testing.T) {
	ds := sampleDataset()

	if got := ds.GetString(StudyInstanceUID); got != "1.2.3" {
		t.Errorf("Expected 1.2.3, got %s", got)
	}
	if got := ds.GetString(Modality); got != "" {
		t.Errorf("Expected empty modality, got %s", got)
	}
	ds.AddString(StudyDescription, "  padded  ")
	if got := ds.GetString(StudyDescription); got != "padded" {
		t.Errorf("Expected trimmed value, got %q", got)
	}

	el, ok := ds.GetElement(PatientName)
	if !ok || el.VR != VR_PN {
		t.Fatalf("Expected PN element, got %+v", el)
	}

	tags := ds.Tags()
	for i := 1; i < len(tags); i++ {
		if !tags[i-1].Less(tags[i]) {
			t.Fatalf("Tags not sorted at %d: %s >= %s", i, tags[i-1], tags[i])
		}
	}

	id := ds.ToVersionedInstanceIdentifier(3)
	want := VersionedInstanceIdentifier{"1.2.3", "1.2.3.4", "1.2.3.4.5", 3}
	if id != want {
		t.Errorf("Expected %v, got %v", want, id)
	}
	if id.Instance() != ds.ToInstanceIdentifier() {
		t.Errorf("Expected instance identifiers to match")
	}
}

func TestCopyWithoutBulkData(t *testing.T) {
	ds := sampleDataset()
	stripped := ds.CopyWithoutBulkData()

	if _, ok := stripped.GetElement(PixelData); ok {
		t.Error("Expected pixel data to be stripped")
	}
	if _, ok := ds.GetElement(PixelData); !ok {
		t.Error("Source dataset must keep pixel data")
	}

	seq, ok := stripped.GetElement(ReferencedSOPSequence)
	if !ok {
		t.Fatal("Expected sequence to survive")
	}
	items := seq.Value.([]*Dataset)
	if items[0].Len() != 1 {
		t.Errorf("Expected nested bulk data stripped, got %d elements", items[0].Len())
	}

	stripped.AddString(PatientName, "Changed")
	if ds.GetString(PatientName) != "Doe^Jane" {
		t.Error("Copy must not alias the source")
	}
}

func TestDatasetJSONRoundTrip(t *testing.T) {
	ds := sampleDataset()

	data, err := json.Marshal(ds)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to decode raw: %v", err)
	}
	pn := raw["00100010"]["Value"].([]interface{})[0].(map[string]interface{})
	if pn["Alphabetic"] != "Doe^Jane" {
		t.Errorf("Expected Alphabetic person name, got %v", pn)
	}
	if n, ok := raw["00200011"]["Value"].([]interface{})[0].(float64); !ok || n != 7 {
		t.Errorf("Expected IS encoded as number, got %v", raw["00200011"]["Value"])
	}
	if raw["7FE00010"]["InlineBinary"] != "AQIDBA==" {
		t.Errorf("Expected base64 inline binary, got %v", raw["7FE00010"]["InlineBinary"])
	}

	decoded := NewDataset()
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if decoded.Len() != ds.Len() {
		t.Fatalf("Expected %d elements, got %d", ds.Len(), decoded.Len())
	}
	if decoded.GetString(PatientName) != "Doe^Jane" {
		t.Errorf("Person name lost: %q", decoded.GetString(PatientName))
	}
	if decoded.GetString(SeriesNumber) != "7" {
		t.Errorf("Integer string lost: %q", decoded.GetString(SeriesNumber))
	}
	rows, _ := decoded.GetElement(Rows)
	if v := rows.Value.([]float64); v[0] != 512 {
		t.Errorf("Expected 512 rows, got %v", v)
	}
	px, _ := decoded.GetElement(PixelData)
	if b := px.Value.(BulkData); len(b.InlineBinary) != 4 {
		t.Errorf("Expected 4 inline bytes, got %v", b)
	}
	seq, _ := decoded.GetElement(ReferencedSOPSequence)
	item := seq.Value.([]*Dataset)[0]
	if item.GetString(ReferencedSOPInstanceUID) != "9.9.9" {
		t.Errorf("Nested item lost: %v", item)
	}
}

func TestUnmarshalRejectsBadTag(t *testing.T) {
	ds := NewDataset()
	if err := json.Unmarshal([]byte(`{"XYZ":{"vr":"CS"}}`), ds); err == nil {
		t.Fatal("Expected error for malformed tag key")
	}
}
