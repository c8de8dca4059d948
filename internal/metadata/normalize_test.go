package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeTypicalTags(t *testing.T) {
	raw := map[string]interface{}{
		"Make":               "Canon",
		"Model":              "EOS R5",
		"ISO":                float64(400),
		"FNumber":            float64(7.1),
		"ExposureTime":       float64(0.004),
		"FocalLength":        float64(50),
		"DateTimeOriginal":   "2025:10:23 12:21:28",
		"OffsetTimeOriginal": "+02:00",
		"GPSLatitude":        float64(33.8568),
		"GPSLatitudeRef":     "S",
		"GPSLongitude":       float64(151.2153),
		"GPSLongitudeRef":    "E",
		"ImageWidth":         float64(8192),
		"ImageHeight":        float64(5464),
	}

	norm := Normalize(raw, "")

	if norm["camera_make"] != "Canon" || norm["camera_model"] != "EOS R5" {
		t.Errorf("camera fields = %v / %v", norm["camera_make"], norm["camera_model"])
	}
	if norm["iso"] != 400 {
		t.Errorf("iso = %v, want 400", norm["iso"])
	}
	if norm["f_stop"] != 7.1 {
		t.Errorf("f_stop = %v, want 7.1", norm["f_stop"])
	}
	if norm["shutter_speed_display"] != "1/250s" {
		t.Errorf("shutter_speed_display = %v, want 1/250s", norm["shutter_speed_display"])
	}
	if norm["gps_latitude"] != -33.8568 {
		t.Errorf("gps_latitude = %v, want southern hemisphere to be negative", norm["gps_latitude"])
	}
	if norm["gps_longitude"] != 151.2153 {
		t.Errorf("gps_longitude = %v, want 151.2153", norm["gps_longitude"])
	}

	taken, err := time.Parse(time.RFC3339, norm["date_taken"].(string))
	if err != nil {
		t.Fatalf("date_taken not RFC3339: %v", err)
	}
	if taken.UTC().Hour() != 10 {
		t.Errorf("date_taken = %v, want +02:00 offset applied", taken)
	}
}

func TestNormalizeOmitsAbsentTags(t *testing.T) {
	norm := Normalize(map[string]interface{}{"Make": "SONY"}, "")

	if norm["camera_make"] != "SONY" {
		t.Errorf("camera_make = %v", norm["camera_make"])
	}
	for _, key := range []string{"iso", "f_stop", "shutter_speed", "gps_latitude", "date_taken"} {
		if _, ok := norm[key]; ok {
			t.Errorf("key %s should be omitted when the tag is absent", key)
		}
	}
}

func TestNormalizeRationalStrings(t *testing.T) {
	raw := map[string]interface{}{
		"ExposureTime": "1/250",
		"FNumber":      "71/10",
		"FocalLength":  "50/1",
	}
	norm := Normalize(raw, "")

	if norm["shutter_speed"] != 0.004 {
		t.Errorf("shutter_speed = %v, want 0.004", norm["shutter_speed"])
	}
	if norm["f_stop"] != 7.1 {
		t.Errorf("f_stop = %v, want 7.1", norm["f_stop"])
	}
	if norm["focal_length"] != 50.0 {
		t.Errorf("focal_length = %v, want 50", norm["focal_length"])
	}
}

func TestNormalizeDatePriority(t *testing.T) {
	raw := map[string]interface{}{
		"CreateDate":       "2025:01:02 10:00:00",
		"ModifyDate":       "2025:01:03 10:00:00",
		"DateTimeOriginal": "2025:01:01 10:00:00",
	}
	norm := Normalize(raw, "")
	if got := norm["date_taken"].(string); got[:10] != "2025-01-01" {
		t.Errorf("date_taken = %s, want DateTimeOriginal to win", got)
	}

	delete(raw, "DateTimeOriginal")
	norm = Normalize(raw, "")
	if got := norm["date_taken"].(string); got[:10] != "2025-01-02" {
		t.Errorf("date_taken = %s, want CreateDate next", got)
	}
}

func TestNormalizeDateFallsBackToMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("not a real image"), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	norm := Normalize(map[string]interface{}{}, path)
	got, err := time.Parse(time.RFC3339, norm["date_taken"].(string))
	if err != nil {
		t.Fatalf("date_taken not RFC3339: %v", err)
	}
	if !got.UTC().Equal(mtime) {
		t.Errorf("date_taken = %v, want file mtime %v", got, mtime)
	}
}

func TestNormalizeDateWithoutOffsetStaysNaive(t *testing.T) {
	norm := Normalize(map[string]interface{}{"DateTimeOriginal": "2025:10:23 12:21:28"}, "")
	got, ok := norm["date_taken"].(string)
	if !ok {
		t.Fatal("date_taken missing")
	}
	if got != "2025-10-23T12:21:28" {
		t.Errorf("date_taken = %q, want no zone suffix when no offset tag is recorded", got)
	}
}

func TestNormalizeIgnoresZeroDates(t *testing.T) {
	raw := map[string]interface{}{
		"DateTimeOriginal": "0000:00:00 00:00:00",
		"CreateDate":       "2025:05:05 05:05:05",
	}
	norm := Normalize(raw, "")
	if got := norm["date_taken"].(string); got[:10] != "2025-05-05" {
		t.Errorf("date_taken = %s, want zero date skipped", got)
	}
}

func TestShutterDisplay(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0.004, "1/250s"},
		{0.0005, "1/2000s"},
		{0.5, "1/2s"},
		{1, "1s"},
		{2, "2s"},
		{30, "30s"},
		{2.5, "2.5s"},
		{0, ""},
		{-1, ""},
	}
	for _, tt := range tests {
		if got := ShutterDisplay(tt.seconds); got != tt.want {
			t.Errorf("ShutterDisplay(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestParseRational(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"1/250", 0.004, true},
		{"71/10", 7.1, true},
		{"2.5", 2.5, true},
		{"1/0", 0, false},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseRational(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("parseRational(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFlattenGroups(t *testing.T) {
	doc := map[string]interface{}{
		"SourceFile": "/staging/a.jpg",
		"EXIF:ExifIFD": map[string]interface{}{
			"ISO":     float64(100),
			"FNumber": float64(2.8),
		},
		"EXIF:IFD0": map[string]interface{}{
			"Make": "FUJIFILM",
		},
	}
	flat := flattenGroups(doc)

	if flat["SourceFile"] != "/staging/a.jpg" {
		t.Errorf("SourceFile = %v", flat["SourceFile"])
	}
	if flat["ISO"] != float64(100) || flat["Make"] != "FUJIFILM" {
		t.Errorf("grouped tags not flattened: %v", flat)
	}
}
