package ingest

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)(?::([^}]+))?\}`)

// TemplateContext carries the values available to path and filename
// patterns for one image being committed.
type TemplateContext struct {
	Sequence    int
	Padding     int
	Original    string // original filename, extension included
	UID         string
	CameraMake  string
	CameraModel string
	Project     string
	Filename    string
	Date        time.Time
}

// RenderPath expands a directory pattern like "{date:%Y}/{date:%m}/{project}".
// Empty segments produced by absent values are collapsed so a missing
// project tag does not leave a double slash.
func RenderPath(pattern string, tc TemplateContext) string {
	rendered := expand(pattern, tc)
	parts := strings.Split(rendered, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return path.Join(kept...)
}

// RenderFilename expands a filename pattern like "{sequence}-{original}"
// and guarantees the result ends with the original's extension, lowercased.
func RenderFilename(pattern string, tc TemplateContext) string {
	rendered := expand(pattern, tc)
	rendered = strings.ReplaceAll(rendered, "/", "-")

	ext := strings.ToLower(filepath.Ext(tc.Original))
	if ext != "" && !strings.EqualFold(filepath.Ext(rendered), ext) {
		rendered += ext
	}
	return rendered
}

func expand(pattern string, tc TemplateContext) string {
	return placeholderRe.ReplaceAllStringFunc(pattern, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		name, arg := groups[1], groups[2]

		switch name {
		case "sequence":
			return fmt.Sprintf("%0*d", tc.Padding, tc.Sequence)
		case "original":
			base := filepath.Base(tc.Original)
			return strings.TrimSuffix(base, filepath.Ext(base))
		case "uid":
			return tc.UID
		case "camera_make":
			return slug.Make(tc.CameraMake)
		case "camera_model":
			return slug.Make(tc.CameraModel)
		case "project":
			return slug.Make(tc.Project)
		case "filename":
			return slug.Make(tc.Filename)
		case "date":
			if arg == "" {
				arg = "%Y-%m-%d"
			}
			return strftime(tc.Date, arg)
		default:
			// Unknown placeholders pass through untouched so a typo is
			// visible in the result instead of silently vanishing.
			return match
		}
	})
}

// strftime formats with the C-style directives patterns use. Unknown
// directives are kept literally.
func strftime(t time.Time, format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			b.WriteByte(format[i])
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			b.WriteString(t.Format("2006"))
		case 'y':
			b.WriteString(t.Format("06"))
		case 'm':
			b.WriteString(t.Format("01"))
		case 'd':
			b.WriteString(t.Format("02"))
		case 'H':
			b.WriteString(t.Format("15"))
		case 'M':
			b.WriteString(t.Format("04"))
		case 'S':
			b.WriteString(t.Format("05"))
		case 'j':
			b.WriteString(fmt.Sprintf("%03d", t.YearDay()))
		case 'B':
			b.WriteString(t.Format("January"))
		case 'b':
			b.WriteString(t.Format("Jan"))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}
