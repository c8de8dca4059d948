// Package database manages SQLite persistence for the ingest pipeline:
// staged image records and their status fields, tags, and the permanent
// image table written by the commit processor.
package database
