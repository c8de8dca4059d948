package ingest

import (
	"time"

	"photostage/internal/database"
	"photostage/internal/metadata"
)

// Fields reads typed values out of a staged image's metadata. Normalized
// entries are preferred; when an entry is missing (older records, partial
// extractions) the raw tag map is normalized on the fly and consulted
// instead.
type Fields struct {
	norm    map[string]interface{}
	fromRaw map[string]interface{}
}

// ExtractFields builds a Fields view over a staged image.
func ExtractFields(img *database.StagedImage) Fields {
	f := Fields{norm: img.Metadata}
	if len(img.RawMetadata) > 0 {
		f.fromRaw = metadata.Normalize(img.RawMetadata, "")
	}
	return f
}

func (f Fields) lookup(key string) (interface{}, bool) {
	if v, ok := f.norm[key]; ok && v != nil {
		return v, true
	}
	if v, ok := f.fromRaw[key]; ok && v != nil {
		return v, true
	}
	return nil, false
}

// String returns the field as a string, or "" when absent.
func (f Fields) String(key string) string {
	v, ok := f.lookup(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Int returns the field as an int, or 0 when absent. JSON round-trips
// turn ints into float64, so both arrive here.
func (f Fields) Int(key string) int {
	v, ok := f.lookup(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Float returns the field as a float64, or 0 when absent.
func (f Fields) Float(key string) float64 {
	v, ok := f.lookup(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// FloatPtr returns the field as a *float64, or nil when absent. Used for
// columns where zero is a meaningful value, like GPS coordinates.
func (f Fields) FloatPtr(key string) *float64 {
	v, ok := f.lookup(key)
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		fv := float64(n)
		return &fv
	default:
		return nil
	}
}

// Time parses the field as RFC3339 or as a timezone-naive timestamp,
// or returns nil when absent or malformed.
func (f Fields) Time(key string) *time.Time {
	s := f.String(key)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(metadata.NaiveTimeLayout, s)
	}
	if err != nil {
		return nil
	}
	return &t
}
