package handlers

import (
	"net/http"
	"strings"

	"photostage/internal/ingest"
	"photostage/internal/logging"
)

type commitRequest struct {
	IDs             []string `json:"ids"`
	PathPattern     string   `json:"pathPattern,omitempty"`
	FilenamePattern string   `json:"filenamePattern,omitempty"`
	SequenceStart   int      `json:"sequenceStart,omitempty"`
	AssociationType string   `json:"associationType,omitempty"`
	AssociationID   string   `json:"associationId,omitempty"`

	// Two historical tag shapes are both accepted; the union applies.
	Tags    []string `json:"tags,omitempty"`
	TagList string   `json:"tagList,omitempty"`
}

type commitAssignment struct {
	ID       string `json:"id"`
	Sequence int    `json:"sequence"`
}

// CommitStaged queues promotion for the selected staged images. Culled
// images are excluded; the rest get strictly increasing sequence numbers
// in request order. The response reports the assignments; promotion
// itself is asynchronous.
func (h *Handlers) CommitStaged(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		writeJSONError(w, "no ids in request", http.StatusBadRequest)
		return
	}

	if req.PathPattern == "" {
		req.PathPattern = h.config.PathPattern
	}
	if req.FilenamePattern == "" {
		req.FilenamePattern = h.config.FilenamePattern
	}
	if req.SequenceStart <= 0 {
		req.SequenceStart = 1
	}

	tagNames := append([]string(nil), req.Tags...)
	for _, name := range strings.Split(req.TagList, ",") {
		if name = strings.TrimSpace(name); name != "" {
			tagNames = append(tagNames, name)
		}
	}

	images, err := h.db.GetStagedImages(r.Context(), req.IDs)
	if err != nil {
		writeJSONError(w, "failed to load staged images", http.StatusInternalServerError)
		return
	}

	base := ingest.CommitRequest{
		OwnerID:         ownerID(r),
		PathPattern:     req.PathPattern,
		FilenamePattern: req.FilenamePattern,
		SequencePadding: h.config.SequencePadding,
		AssociationType: req.AssociationType,
		AssociationID:   req.AssociationID,
		TagNames:        tagNames,
	}

	assignments := make([]commitAssignment, 0, len(images))
	skipped := 0
	seq := req.SequenceStart
	for _, img := range images {
		if img.Culled {
			skipped++
			continue
		}
		payload := &ingest.CommitPayload{Request: base, Sequence: seq}
		if err := h.pipeline.EnqueueCommit(img.ID, payload); err != nil {
			logging.Error("failed to enqueue commit for %s: %v", img.ID, err)
			writeJSONError(w, "failed to queue commit", http.StatusServiceUnavailable)
			return
		}
		assignments = append(assignments, commitAssignment{ID: img.ID, Sequence: seq})
		seq++
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]interface{}{
		"queued":      len(assignments),
		"skipped":     skipped,
		"assignments": assignments,
	})
}
