// Package startup handles configuration loading and validation for the
// ingest pipeline. Configuration comes from environment variables with
// defaults suitable for the container image.
package startup
