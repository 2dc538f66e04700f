// ABOUTME: Attribute dataset for one imaging instance
// ABOUTME: Tag-keyed elements with ordered traversal and bulk-data stripping

package dicom

import (
	"sort"
	"strings"
)

// BulkData is a binary payload carried inline or referenced by URI.
type BulkData struct {
	InlineBinary []byte
	URI          string
}

// Element represents a DICOM data element.
//
// Value holds one of []string (text, date, time, person name and UID VRs),
// []float64 (binary numeric VRs), []*Dataset (SQ) or BulkData.
type Element struct {
	Tag   Tag
	VR    string
	Value interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset, replacing any element with the same tag.
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	d.Elements[tag] = &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
}

// AddString adds a text element using the dictionary VR (LO when unknown).
func (d *Dataset) AddString(tag Tag, values ...string) {
	vr := VR_LO
	if e, ok := LookupTag(tag); ok {
		vr = e.VR
	}
	d.AddElement(tag, vr, values)
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// Remove deletes the element with the given tag.
func (d *Dataset) Remove(tag Tag) {
	delete(d.Elements, tag)
}

// Len returns the number of top level elements.
func (d *Dataset) Len() int {
	return len(d.Elements)
}

// GetString returns the first string value for a tag
func (d *Dataset) GetString(tag Tag) string {
	values := d.GetStrings(tag)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// GetStrings returns a slice of string values for a tag
func (d *Dataset) GetStrings(tag Tag) []string {
	element, exists := d.Elements[tag]
	if !exists {
		return nil
	}
	v, ok := element.Value.([]string)
	if !ok {
		return nil
	}
	result := make([]string, len(v))
	for i, s := range v {
		result[i] = strings.TrimSpace(s)
	}
	return result
}

// Tags returns the element tags in ascending tag order.
func (d *Dataset) Tags() []Tag {
	tags := make([]Tag, 0, len(d.Elements))
	for t := range d.Elements {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
	return tags
}

// Copy returns a deep copy of the dataset structure. Byte slices are shared.
func (d *Dataset) Copy() *Dataset {
	return d.copy(false)
}

// CopyWithoutBulkData returns a deep copy with binary payload elements removed,
// including those nested in sequences.
func (d *Dataset) CopyWithoutBulkData() *Dataset {
	return d.copy(true)
}

func (d *Dataset) copy(stripBulk bool) *Dataset {
	out := NewDataset()
	for tag, el := range d.Elements {
		if stripBulk && isBulk(el) {
			continue
		}
		var value interface{}
		switch v := el.Value.(type) {
		case []*Dataset:
			items := make([]*Dataset, len(v))
			for i, item := range v {
				items[i] = item.copy(stripBulk)
			}
			value = items
		case []string:
			value = append([]string(nil), v...)
		case []float64:
			value = append([]float64(nil), v...)
		default:
			value = v
		}
		out.AddElement(tag, el.VR, value)
	}
	return out
}

func isBulk(el *Element) bool {
	if _, ok := el.Value.(BulkData); ok {
		return true
	}
	return IsBulkDataVR(el.VR)
}

// Project returns a dataset holding only the listed tags that are present.
func (d *Dataset) Project(tags []Tag) *Dataset {
	out := NewDataset()
	for _, t := range tags {
		if el, ok := d.Elements[t]; ok {
			out.Elements[t] = el
		}
	}
	return out
}
