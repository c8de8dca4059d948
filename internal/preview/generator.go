package preview

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"photostage/internal/logging"
	"photostage/internal/metrics"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// embeddedTags is the preview tag chain, in priority order. JpgFromRaw is
// usually full resolution; ThumbnailImage is a last resort.
var embeddedTags = []string{"JpgFromRaw", "PreviewImage", "OtherImage", "ThumbnailImage"}

// Options configures a Generator.
type Options struct {
	PreviewDir      string
	ToolPath        string
	ToolTimeout     time.Duration
	MaxDim          int
	Quality         int
	EmbeddedMinDim  int
	ThumbnailSize   int
	EnhanceMaxWidth int
}

// Generator renders previews and thumbnails for staged images. RAW files
// go through the embedded preview chain first; raster formats are always
// rendered from their own pixels.
type Generator struct {
	opts          Options
	toolAvailable bool
}

// NewGenerator creates the generator and its output directory.
func NewGenerator(opts Options) *Generator {
	if err := os.MkdirAll(opts.PreviewDir, 0755); err != nil {
		logging.Warn("failed to create preview dir %s: %v", opts.PreviewDir, err)
	}
	g := &Generator{opts: opts}
	if _, err := exec.LookPath(opts.ToolPath); err == nil {
		g.toolAvailable = true
	} else {
		logging.Warn("exiftool not found, embedded preview extraction disabled: %v", err)
	}
	return g
}

// MaxEnhanceWidth returns the configured enhancement cap.
func (g *Generator) MaxEnhanceWidth() int {
	return g.opts.EnhanceMaxWidth
}

// EnhanceTarget computes the next enhancement width from the current
// preview width. The second return is false when the preview is already at
// or beyond the cap and no work should be queued.
func (g *Generator) EnhanceTarget(currentWidth int) (int, bool) {
	if currentWidth >= g.opts.EnhanceMaxWidth {
		return currentWidth, false
	}
	target := int(math.Round(float64(currentWidth) * 1.25))
	if target > g.opts.EnhanceMaxWidth {
		target = g.opts.EnhanceMaxWidth
	}
	return target, true
}

// Generate renders the preview and its thumbnail for a staged image.
// Returns the preview path, thumbnail path, preview width, and the source
// label ("embedded" or "decode").
func (g *Generator) Generate(ctx context.Context, id, sourcePath, originalFilename string) (string, string, int, string, error) {
	img, source, err := g.render(ctx, sourcePath, originalFilename, g.opts.MaxDim)
	if err != nil {
		return "", "", 0, "", err
	}

	previewPath := filepath.Join(g.opts.PreviewDir, id+".jpg")
	if err := imaging.Save(img, previewPath, imaging.JPEGQuality(g.opts.Quality)); err != nil {
		return "", "", 0, "", fmt.Errorf("failed to save preview: %w", err)
	}

	// The preview is already oriented; the thumbnail is a pure center
	// crop of it. Re-applying orientation here would rotate twice.
	thumb := imaging.Fill(img, g.opts.ThumbnailSize, g.opts.ThumbnailSize, imaging.Center, imaging.Lanczos)
	thumbPath := filepath.Join(g.opts.PreviewDir, id+"_thumb.jpg")
	if err := imaging.Save(thumb, thumbPath, imaging.JPEGQuality(g.opts.Quality)); err != nil {
		return "", "", 0, "", fmt.Errorf("failed to save thumbnail: %w", err)
	}

	metrics.PreviewsGenerated.WithLabelValues(source).Inc()
	return previewPath, thumbPath, img.Bounds().Dx(), source, nil
}

// Enhance re-renders the preview at targetWidth and writes it alongside
// the original so an in-flight viewer never sees a truncated file.
func (g *Generator) Enhance(ctx context.Context, id, sourcePath, originalFilename string, targetWidth int) (string, int, error) {
	img, source, err := g.render(ctx, sourcePath, originalFilename, targetWidth)
	if err != nil {
		return "", 0, err
	}

	previewPath := filepath.Join(g.opts.PreviewDir, fmt.Sprintf("%s_%d.jpg", id, targetWidth))
	if err := imaging.Save(img, previewPath, imaging.JPEGQuality(g.opts.Quality)); err != nil {
		return "", 0, fmt.Errorf("failed to save enhanced preview: %w", err)
	}

	metrics.PreviewsGenerated.WithLabelValues(source).Inc()
	return previewPath, img.Bounds().Dx(), nil
}

// QuickThumbnail produces a small thumbnail on the synchronous upload
// path. Best effort: RAW files use whatever embedded image extracts
// fastest, with no minimum size requirement.
func (g *Generator) QuickThumbnail(ctx context.Context, id, sourcePath, originalFilename string) (string, error) {
	size := g.opts.ThumbnailSize

	var img image.Image
	if IsRawFormat(originalFilename) {
		embedded, _, err := g.extractEmbedded(ctx, sourcePath, 0)
		if err != nil {
			return "", err
		}
		img = embedded
	} else {
		decoded, err := g.decodeSource(sourcePath, size*2, size*2)
		if err != nil {
			return "", err
		}
		img = decoded
	}

	thumb := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	thumbPath := filepath.Join(g.opts.PreviewDir, id+"_thumb.jpg")
	if err := imaging.Save(thumb, thumbPath, imaging.JPEGQuality(g.opts.Quality)); err != nil {
		return "", fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return thumbPath, nil
}

// render produces the bounded preview image and reports which source
// produced it.
func (g *Generator) render(ctx context.Context, sourcePath, originalFilename string, maxDim int) (image.Image, string, error) {
	if IsRawFormat(originalFilename) {
		img, tag, err := g.extractEmbedded(ctx, sourcePath, g.opts.EmbeddedMinDim)
		if err == nil {
			logging.Debug("embedded preview from %s tag for %s", tag, filepath.Base(sourcePath))
			return bound(img, maxDim), "embedded", nil
		}
		logging.Debug("no embedded preview for %s, trying decode: %v", filepath.Base(sourcePath), err)
		// Some RAW containers (notably DNG) decode via vips.
	}

	img, err := g.decodeSource(sourcePath, maxDim, maxDim)
	if err != nil {
		return nil, "", err
	}
	return img, "decode", nil
}

// extractEmbedded walks the embedded preview tag chain. The first
// candidate whose longest side is at least minDim wins; undersized
// candidates are rejected so the caller falls back to decoding the
// full source.
func (g *Generator) extractEmbedded(ctx context.Context, sourcePath string, minDim int) (image.Image, string, error) {
	if !g.toolAvailable {
		return nil, "", fmt.Errorf("embedded extraction requires exiftool")
	}

	for _, tag := range embeddedTags {
		img, err := g.extractTag(ctx, sourcePath, tag)
		if err != nil {
			continue
		}
		if acceptEmbedded(img.Bounds(), minDim) {
			return img, tag, nil
		}
		logging.Debug("embedded %s in %s is undersized, continuing", tag, filepath.Base(sourcePath))
	}
	return nil, "", fmt.Errorf("no embedded preview of at least %dpx in %s", minDim, filepath.Base(sourcePath))
}

// acceptEmbedded is the acceptance predicate for the embedded chain:
// the candidate's longest side must reach minDim.
func acceptEmbedded(b image.Rectangle, minDim int) bool {
	dim := b.Dx()
	if b.Dy() > dim {
		dim = b.Dy()
	}
	return dim >= minDim
}

// extractTag pulls one binary tag out of the file and decodes it,
// applying EXIF orientation during decode.
func (g *Generator) extractTag(ctx context.Context, sourcePath, tag string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.ToolTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.opts.ToolPath, "-b", "-"+tag, sourcePath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("exiftool -%s error: %w - %s", tag, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("tag %s not present", tag)
	}

	img, err := imaging.Decode(bytes.NewReader(stdout.Bytes()), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", tag, err)
	}
	return img, nil
}

// decodeSource decodes from pixels, preferring vips for its decode-time
// shrinking, with imaging as fallback. Orientation is applied exactly once.
func (g *Generator) decodeSource(sourcePath string, maxWidth, maxHeight int) (image.Image, error) {
	if img, err := loadWithVips(sourcePath, maxWidth, maxHeight); err == nil {
		return img, nil
	} else {
		logging.Debug("vips decode failed for %s, falling back to imaging: %v", filepath.Base(sourcePath), err)
	}

	img, err := imaging.Open(sourcePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(sourcePath), err)
	}
	if img.Bounds().Dx() > maxWidth || img.Bounds().Dy() > maxHeight {
		img = imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
	}
	return img, nil
}

// bound shrinks an image to fit within maxDim on both sides, never
// enlarging.
func bound(img image.Image, maxDim int) image.Image {
	if img.Bounds().Dx() <= maxDim && img.Bounds().Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}
