package metadata

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// exiftool timestamp layouts, most specific first.
var dateLayouts = []string{
	"2006:01:02 15:04:05.999999999-07:00",
	"2006:01:02 15:04:05-07:00",
	"2006:01:02 15:04:05.999999999",
	"2006:01:02 15:04:05",
	"2006:01:02",
}

// datePriority is the order in which capture-time candidates are consulted.
// The first parseable tag wins; the file's mtime is the last resort.
var datePriority = []string{"DateTimeOriginal", "CreateDate", "ModifyDate"}

// NaiveTimeLayout serializes capture times that carry no timezone
// information.
const NaiveTimeLayout = "2006-01-02T15:04:05"

// Normalize distills a raw tag map into the small, consistently typed set
// of fields the rest of the pipeline works with. Tags that are absent or
// unparseable are simply omitted; the raw map is kept alongside so nothing
// is lost.
func Normalize(raw map[string]interface{}, path string) map[string]interface{} {
	norm := make(map[string]interface{})

	if s := stringTag(raw, "Make"); s != "" {
		norm["camera_make"] = s
	}
	if s := stringTag(raw, "Model"); s != "" {
		norm["camera_model"] = s
	}
	if s := stringTag(raw, "LensModel"); s != "" {
		norm["lens_model"] = s
	}

	if v, ok := numericTag(raw, "ISO"); ok && v > 0 {
		norm["iso"] = int(math.Round(v))
	}
	if v, ok := numericTag(raw, "FNumber"); ok && v > 0 {
		norm["f_stop"] = v
	}
	if v, ok := numericTag(raw, "FocalLength"); ok && v > 0 {
		norm["focal_length"] = v
	}
	if v, ok := numericTag(raw, "ExposureTime"); ok && v > 0 {
		norm["shutter_speed"] = v
		norm["shutter_speed_display"] = ShutterDisplay(v)
	}

	if v, ok := numericTag(raw, "ImageWidth"); ok && v > 0 {
		norm["width"] = int(v)
	}
	if v, ok := numericTag(raw, "ImageHeight"); ok && v > 0 {
		norm["height"] = int(v)
	}
	if v, ok := numericTag(raw, "Orientation"); ok {
		norm["orientation"] = int(v)
	}

	if lat, lng, ok := gpsCoords(raw); ok {
		norm["gps_latitude"] = lat
		norm["gps_longitude"] = lng
	}

	if t, zoned, ok := captureTime(raw, path); ok {
		if zoned {
			norm["date_taken"] = t.Format(time.RFC3339)
		} else {
			// No offset tag was recorded, so the timestamp stays naive
			// rather than asserting a zone the file never claimed.
			norm["date_taken"] = t.Format(NaiveTimeLayout)
		}
	}

	return norm
}

// ShutterDisplay renders an exposure time the way photographers read it:
// fractions of a second as "1/250s", one second and longer as "2s".
func ShutterDisplay(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	if seconds < 1 {
		return fmt.Sprintf("1/%ds", int(math.Round(1/seconds)))
	}
	return strconv.FormatFloat(seconds, 'f', -1, 64) + "s"
}

// captureTime walks the date tag priority chain, attaching the recorded
// timezone offset when present. The second return reports whether the
// time carries a real zone. When no tag parses, the file's modification
// time stands in.
func captureTime(raw map[string]interface{}, path string) (time.Time, bool, bool) {
	loc := time.UTC
	zoned := false
	if off := stringTag(raw, "OffsetTimeOriginal"); off != "" {
		if l, err := offsetLocation(off); err == nil {
			loc = l
			zoned = true
		}
	}

	for _, tag := range datePriority {
		s := stringTag(raw, tag)
		if s == "" || strings.HasPrefix(s, "0000") {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				// Some tag values embed their own offset.
				return t, zoned || strings.Contains(layout, "-07:00"), true
			}
		}
	}

	if path != "" {
		if info, err := os.Stat(path); err == nil {
			// Filesystem timestamps are absolute instants.
			return info.ModTime(), true, true
		}
	}
	return time.Time{}, false, false
}

// offsetLocation turns an EXIF offset string like "+02:00" into a fixed
// timezone.
func offsetLocation(offset string) (*time.Location, error) {
	t, err := time.Parse("-07:00", offset)
	if err != nil {
		return nil, err
	}
	_, secs := t.Zone()
	return time.FixedZone(offset, secs), nil
}

// gpsCoords extracts a signed coordinate pair. The tool emits magnitudes
// with separate hemisphere refs; south and west become negative.
func gpsCoords(raw map[string]interface{}) (float64, float64, bool) {
	lat, latOK := numericTag(raw, "GPSLatitude")
	lng, lngOK := numericTag(raw, "GPSLongitude")
	if !latOK || !lngOK {
		return 0, 0, false
	}
	if ref := stringTag(raw, "GPSLatitudeRef"); strings.HasPrefix(ref, "S") && lat > 0 {
		lat = -lat
	}
	if ref := stringTag(raw, "GPSLongitudeRef"); strings.HasPrefix(ref, "W") && lng > 0 {
		lng = -lng
	}
	return lat, lng, true
}

func stringTag(raw map[string]interface{}, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case fmt.Stringer:
		return strings.TrimSpace(s.String())
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// numericTag coerces a tag to float64. Values arrive as JSON numbers from
// the tool, but the fallback decoder and some string-valued tags use
// rational notation like "1/250", which is divided out here.
func numericTag(raw map[string]interface{}, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		return parseRational(n)
	default:
		return 0, false
	}
}

// parseRational parses "n/d" or a plain decimal string.
func parseRational(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if num, den, found := strings.Cut(s, "/"); found {
		n, errN := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, errD := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if errN != nil || errD != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
