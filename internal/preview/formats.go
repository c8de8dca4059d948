package preview

import (
	"path/filepath"
	"strings"
)

// rawExtensions covers the RAW container formats the standard decoders
// cannot open. For these, the embedded preview chain runs first.
var rawExtensions = map[string]bool{
	".cr2": true, ".cr3": true, ".crw": true,
	".nef": true, ".nrw": true,
	".arw": true, ".srf": true, ".sr2": true,
	".orf": true, ".raf": true, ".rw2": true,
	".dng": true, ".pef": true, ".srw": true,
	".x3f": true, ".3fr": true, ".erf": true,
	".kdc": true, ".mrw": true, ".raw": true,
	".rwl": true, ".iiq": true,
}

// rasterExtensions are formats decodable directly. Any embedded thumbnail
// in these is ignored; the preview is always rendered from the pixels.
var rasterExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".webp": true, ".bmp": true,
	".tif": true, ".tiff": true,
}

// IsRawFormat reports whether the filename has a RAW container extension.
func IsRawFormat(filename string) bool {
	return rawExtensions[strings.ToLower(filepath.Ext(filename))]
}

// IsRasterFormat reports whether the filename is a directly decodable format.
func IsRasterFormat(filename string) bool {
	return rasterExtensions[strings.ToLower(filepath.Ext(filename))]
}
