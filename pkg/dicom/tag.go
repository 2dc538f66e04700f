// ABOUTME: DICOM tag and value representation primitives
// ABOUTME: Tags render as (gggg,eeee) for humans and gggggeeee hex for DICOM JSON keys

package dicom

import (
	"fmt"
	"strconv"
	"time"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_AT = "AT" // Attribute Tag
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_FL = "FL" // Floating Point Single
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SL = "SL" // Signed Long
	VR_SQ = "SQ" // Sequence of Items
	VR_SS = "SS" // Signed Short
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

// DateFormat is the layout of a DA value.
const DateFormat = "20060102"

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// NewTag builds a tag from its packed 32-bit form.
func NewTag(v uint32) Tag {
	return Tag{Group: uint16(v >> 16), Element: uint16(v)}
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// Hex returns the eight digit upper-case form used by DICOM JSON and query parameters.
func (t Tag) Hex() string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

// Uint32 packs the tag into a single number; ordering matches DICOM tag order.
func (t Tag) Uint32() uint32 {
	return uint32(t.Group)<<16 | uint32(t.Element)
}

// Less reports whether t sorts before o.
func (t Tag) Less(o Tag) bool {
	return t.Uint32() < o.Uint32()
}

// ParseTag parses the eight hex digit form, e.g. "00100010".
func ParseTag(s string) (Tag, error) {
	if len(s) != 8 {
		return Tag{}, fmt.Errorf("dicom: invalid tag %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Tag{}, fmt.Errorf("dicom: invalid tag %q", s)
	}
	return NewTag(uint32(v)), nil
}

// ParseDate parses a DA value.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateFormat, s)
}

// IsBulkDataVR reports whether values of this VR are binary payloads.
func IsBulkDataVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OD, VR_OF, VR_OL, VR_OV, VR_OW, VR_UN:
		return true
	}
	return false
}

func isNumericVR(vr string) bool {
	switch vr {
	case VR_US, VR_UL, VR_SS, VR_SL, VR_FL, VR_FD, VR_SV, VR_UV:
		return true
	}
	return false
}
