// Package metadata extracts and normalizes image metadata. The primary
// path shells out to exiftool in fast or full mode; an in-process EXIF
// decoder serves as fallback so uploads keep working without the tool.
package metadata
