package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"photostage/internal/database"
)

// ListTags returns tags, filterable by kind and a name substring.
func (h *Handlers) ListTags(w http.ResponseWriter, r *http.Request) {
	kind := database.TagKind(r.URL.Query().Get("kind"))
	if kind != "" && !database.ValidTagKind(kind) {
		writeJSONError(w, "invalid tag kind", http.StatusBadRequest)
		return
	}

	tags, err := h.db.ListTags(r.Context(), kind, r.URL.Query().Get("q"))
	if err != nil {
		writeJSONError(w, "failed to list tags", http.StatusInternalServerError)
		return
	}
	if tags == nil {
		tags = []database.Tag{}
	}
	writeJSON(w, map[string]interface{}{"tags": tags})
}

// CreateTag finds or creates a tag by name and kind.
func (h *Handlers) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req tagRef
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = string(database.TagNormal)
	}

	tag, err := h.db.FindOrCreateTag(r.Context(), req.Name, database.TagKind(req.Kind))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, tag)
}

// DeleteTag removes a tag and its associations.
func (h *Handlers) DeleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, "invalid tag id", http.StatusBadRequest)
		return
	}
	if err := h.db.DeleteTag(r.Context(), id); err != nil {
		writeJSONError(w, "failed to delete tag", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}

// AttachStagedTag attaches a tag (created on demand) to a staged image.
// Violating a singleton kind limit returns 422 with the offending tag.
func (h *Handlers) AttachStagedTag(w http.ResponseWriter, r *http.Request) {
	stagedID := mux.Vars(r)["id"]

	var req tagRef
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = string(database.TagNormal)
	}

	tag, err := h.db.FindOrCreateTag(r.Context(), req.Name, database.TagKind(req.Kind))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.db.AttachTagToStaged(r.Context(), stagedID, tag.ID)
	var limitErr *database.TagLimitError
	if errors.As(err, &limitErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		writeJSON(w, map[string]string{
			"error": limitErr.Error(),
			"kind":  string(limitErr.Kind),
			"tag":   limitErr.Name,
		})
		return
	}
	if err != nil {
		writeJSONError(w, "failed to attach tag", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, tag)
}

// DetachStagedTag removes a tag association from a staged image.
func (h *Handlers) DetachStagedTag(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tagID, err := strconv.ParseInt(vars["tagId"], 10, 64)
	if err != nil {
		writeJSONError(w, "invalid tag id", http.StatusBadRequest)
		return
	}
	if err := h.db.DetachTagFromStaged(r.Context(), vars["id"], tagID); err != nil {
		writeJSONError(w, "failed to detach tag", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "detached"})
}
