// Package ingest coordinates the staged image lifecycle: background
// extraction and preview jobs, enhancement, promotion into permanent
// storage with templated destination paths, and the staging reaper.
package ingest
