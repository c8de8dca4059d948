// Package handlers implements the HTTP API: staged image upload and
// lifecycle, tagging, enhancement, commit, and system endpoints.
package handlers
