package handlers

import (
	"encoding/json"
	"net/http"

	"photostage/internal/database"
	"photostage/internal/ingest"
	"photostage/internal/jobs"
	"photostage/internal/logging"
	"photostage/internal/metadata"
	"photostage/internal/preview"
	"photostage/internal/startup"
)

// defaultOwner stands in when the upstream auth proxy supplies no owner
// header.
const defaultOwner = "default"

type Handlers struct {
	db       *database.Database
	engine   *metadata.Engine
	gen      *preview.Generator
	pipeline *ingest.Pipeline
	queue    *jobs.Queue
	config   *startup.Config
}

func New(db *database.Database, engine *metadata.Engine, gen *preview.Generator, pipeline *ingest.Pipeline, queue *jobs.Queue, config *startup.Config) *Handlers {
	return &Handlers{
		db:       db,
		engine:   engine,
		gen:      gen,
		pipeline: pipeline,
		queue:    queue,
		config:   config,
	}
}

// ownerID resolves the request's owner. Authentication happens upstream;
// the proxy forwards the identity in a header.
func ownerID(r *http.Request) string {
	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return owner
	}
	return defaultOwner
}

// fillArtifactURLs derives the client-facing thumbnail and preview URLs
// from the stored paths. They stay null until the file exists.
func fillArtifactURLs(img *database.StagedImage) {
	if img.ThumbnailPath != "" {
		u := "/api/staged/" + img.ID + "/thumbnail"
		img.ThumbnailURL = &u
	}
	if img.PreviewPath != "" {
		u := "/api/staged/" + img.ID + "/preview"
		img.PreviewURL = &u
	}
}

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, map[string]string{"error": message})
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
