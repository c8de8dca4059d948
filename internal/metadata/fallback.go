package metadata

import (
	"fmt"
	"os"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"photostage/internal/logging"
)

// fallbackFields maps in-process decoder fields to the tag names the tool
// emits, so Normalize treats both sources identically.
var fallbackFields = []struct {
	field exif.FieldName
	tag   string
}{
	{exif.Make, "Make"},
	{exif.Model, "Model"},
	{exif.LensModel, "LensModel"},
	{exif.ISOSpeedRatings, "ISO"},
	{exif.FNumber, "FNumber"},
	{exif.ExposureTime, "ExposureTime"},
	{exif.FocalLength, "FocalLength"},
	{exif.DateTimeOriginal, "DateTimeOriginal"},
	{exif.DateTime, "ModifyDate"},
	{exif.PixelXDimension, "ImageWidth"},
	{exif.PixelYDimension, "ImageHeight"},
	{exif.Orientation, "Orientation"},
}

// extractFallback decodes EXIF in-process. It covers far fewer tags than
// the tool and cannot read most RAW containers, but it keeps uploads
// working when the tool is missing or broken.
func extractFallback(path string) Result {
	f, err := os.Open(path)
	if err != nil {
		return Result{Method: MethodNone, Err: fmt.Errorf("fallback open: %w", err)}
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Error("error closing %s: %v", path, err)
		}
	}()

	x, err := exif.Decode(f)
	if err != nil {
		return Result{Method: MethodNone, Err: fmt.Errorf("fallback decode: %w", err)}
	}

	raw := make(map[string]interface{})
	for _, fld := range fallbackFields {
		tag, err := x.Get(fld.field)
		if err != nil {
			continue
		}
		if v, ok := tagValue(tag); ok {
			raw[fld.tag] = v
		}
	}

	// LatLong applies hemisphere signs itself.
	if lat, lng, err := x.LatLong(); err == nil {
		raw["GPSLatitude"] = lat
		raw["GPSLongitude"] = lng
	}

	return Result{
		Metadata: Normalize(raw, path),
		Raw:      raw,
		Method:   MethodFallback,
	}
}

func tagValue(tag *tiff.Tag) (interface{}, bool) {
	switch tag.Format() {
	case tiff.StringVal:
		s, err := tag.StringVal()
		if err != nil {
			return nil, false
		}
		return s, true
	case tiff.IntVal:
		n, err := tag.Int64(0)
		if err != nil {
			return nil, false
		}
		return float64(n), true
	case tiff.RatVal:
		num, den, err := tag.Rat2(0)
		if err != nil || den == 0 {
			return nil, false
		}
		return float64(num) / float64(den), true
	case tiff.FloatVal:
		f, err := tag.Float(0)
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}
