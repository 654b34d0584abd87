// Package claims builds and serialises canonical claim bundles.
package claims

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Section names of a canonical bundle
const (
	SectionHeader            = "claimHeader"
	SectionServiceDetails    = "serviceDetails"
	SectionDiagnosisDetails  = "diagnosisDetails"
	SectionLabDetails        = "labDetails"
	SectionRadiologyDetails  = "radiologyDetails"
	SectionOpticalVitalSigns = "opticalVitalSigns"
	SectionDoctors           = "dhsDoctors"
	SectionAttachments       = "attachments"
)

// DetailSections lists the array sections in canonical order
var DetailSections = []string{
	SectionServiceDetails,
	SectionDiagnosisDetails,
	SectionLabDetails,
	SectionRadiologyDetails,
	SectionOpticalVitalSigns,
	SectionDoctors,
}

// Object is one JSON object of a bundle
type Object = map[string]interface{}

// Parts is a raw claim as yielded by the source adapter
type Parts struct {
	Header            Object
	ServiceDetails    []interface{}
	DiagnosisDetails  []interface{}
	LabDetails        []interface{}
	RadiologyDetails  []interface{}
	OpticalVitalSigns []interface{}
	Doctors           []interface{}
}

// Bundle is the canonical claim: a header object plus detail arrays
type Bundle map[string]interface{}

// Header returns the header object, nil when absent
func (b Bundle) Header() Object {
	h, _ := b[SectionHeader].(map[string]interface{})
	return h
}

// Section returns the objects of a detail section, skipping non-objects
func (b Bundle) Section(name string) []Object {
	arr, _ := b[name].([]interface{})
	out := make([]Object, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]interface{}); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Marshal encodes the bundle. Map keys are sorted by encoding/json, so equal
// bundles always encode to equal bytes.
func (b Bundle) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a bundle, keeping numbers as json.Number
func Decode(data []byte) (Bundle, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.Header() == nil {
		return nil, ErrMissingHeader
	}
	return b, nil
}

// Hash returns the lowercase hex SHA-256 of data
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get looks a field up by exact name first, then case-insensitively
func Get(obj Object, name string) (interface{}, bool) {
	if v, ok := obj[name]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// RemoveIgnoreCase deletes every key equal to name ignoring case
func RemoveIgnoreCase(obj Object, name string) {
	for k := range obj {
		if strings.EqualFold(k, name) {
			delete(obj, k)
		}
	}
}

// Clone deep-copies JSON-shaped values
func Clone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

// String renders a scalar JSON value as text; objects and arrays yield ""
func String(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool, float64, float32, int, int64, int32, uint, uint64, uint32:
		return fmt.Sprint(t)
	default:
		return ""
	}
}
