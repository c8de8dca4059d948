package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"photostage/internal/database"
	"photostage/internal/ingest"
	"photostage/internal/logging"
	"photostage/internal/metadata"
)

// maxUploadBytes bounds a single multipart upload request. RAW files run
// 20-100MB each.
const maxUploadBytes = 2 << 30

// UploadStaged accepts one or more files, stages them, runs a fast
// metadata pass synchronously, and queues the full extraction and preview
// job for each.
func (h *Handlers) UploadStaged(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeJSONError(w, "invalid multipart request: "+err.Error(), http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	if len(files) == 0 {
		writeJSONError(w, "no files in request", http.StatusBadRequest)
		return
	}

	srcDir := filepath.Join(h.config.StagingDir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		writeJSONError(w, "staging directory unavailable", http.StatusInternalServerError)
		return
	}

	staged := make([]*database.StagedImage, 0, len(files))
	paths := make([]string, 0, len(files))
	for _, fh := range files {
		id := uuid.NewString()
		filename := filepath.Base(fh.Filename)
		dst := filepath.Join(srcDir, id+strings.ToLower(filepath.Ext(filename)))

		if err := saveUpload(fh, dst); err != nil {
			logging.Error("failed to stage %s: %v", filename, err)
			writeJSONError(w, fmt.Sprintf("failed to store %s", filename), http.StatusInternalServerError)
			return
		}

		staged = append(staged, &database.StagedImage{
			ID:               id,
			OwnerID:          owner,
			OriginalFilename: filename,
			SourcePath:       dst,
		})
		paths = append(paths, dst)
	}

	// One tool invocation covers the whole batch on the fast path.
	results := h.engine.ExtractBatch(r.Context(), paths, metadata.ModeFast)

	for _, img := range staged {
		res := results[img.SourcePath]
		img.Metadata = res.Metadata
		img.RawMetadata = res.Raw
		img.ExtractionMethod = res.Method
		if res.Err != nil {
			img.ExtractionError = res.Err.Error()
		}

		if err := h.db.CreateStagedImage(r.Context(), img); err != nil {
			writeJSONError(w, "failed to record staged image", http.StatusInternalServerError)
			return
		}

		if thumbPath, err := h.gen.QuickThumbnail(r.Context(), img.ID, img.SourcePath, img.OriginalFilename); err == nil {
			if err := h.db.SetThumbnail(r.Context(), img.ID, thumbPath); err == nil {
				img.ThumbnailPath = thumbPath
			}
		} else {
			logging.Debug("quick thumbnail unavailable for %s: %v", img.ID, err)
		}

		if err := h.pipeline.EnqueueExtractPreview(img.ID); err != nil {
			logging.Error("failed to enqueue preview job for %s: %v", img.ID, err)
		}
		fillArtifactURLs(img)
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]interface{}{"staged": staged})
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logging.Error("error closing upload stream: %v", err)
		}
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// ListStaged returns the owner's staged images in display order.
func (h *Handlers) ListStaged(w http.ResponseWriter, r *http.Request) {
	images, err := h.db.ListStagedImages(r.Context(), ownerID(r))
	if err != nil {
		writeJSONError(w, "failed to list staged images", http.StatusInternalServerError)
		return
	}
	for _, img := range images {
		fillArtifactURLs(img)
	}
	writeJSON(w, map[string]interface{}{"staged": images})
}

// GetStaged returns a single staged image.
func (h *Handlers) GetStaged(w http.ResponseWriter, r *http.Request) {
	img, err := h.db.GetStagedImage(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, database.ErrStagedImageNotFound) {
		writeJSONError(w, "staged image not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, "failed to load staged image", http.StatusInternalServerError)
		return
	}
	fillArtifactURLs(img)
	writeJSON(w, img)
}

type tagRef struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type stagedUpdate struct {
	ID           string   `json:"id"`
	Culled       *bool    `json:"culled,omitempty"`
	Starred      *bool    `json:"starred,omitempty"`
	Rating       *int     `json:"rating,omitempty"`
	Rotation     *int     `json:"rotation,omitempty"`
	AddTags      []tagRef `json:"addTags,omitempty"`
	RemoveTagIDs []int64  `json:"removeTagIds,omitempty"`
}

// UpdateStaged applies a batch of partial updates. Out-of-range ratings,
// rotations off the 90-degree grid, and tag kind limit violations abort
// with 422; updates already applied stand.
func (h *Handlers) UpdateStaged(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Updates []stagedUpdate `json:"updates"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Updates) == 0 {
		writeJSONError(w, "no updates in request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	for _, u := range req.Updates {
		if u.Rating != nil && (*u.Rating < 0 || *u.Rating > 5) {
			writeJSONError(w, fmt.Sprintf("rating %d for %s is out of range 0-5", *u.Rating, u.ID), http.StatusUnprocessableEntity)
			return
		}
		if u.Rotation != nil && *u.Rotation%90 != 0 {
			writeJSONError(w, fmt.Sprintf("rotation %d for %s is not a multiple of 90", *u.Rotation, u.ID), http.StatusUnprocessableEntity)
			return
		}

		if u.Culled != nil || u.Starred != nil || u.Rating != nil || u.Rotation != nil {
			err := h.db.UpdateStagedImage(ctx, u.ID, database.StagedUpdate{
				Culled:   u.Culled,
				Starred:  u.Starred,
				Rating:   u.Rating,
				Rotation: u.Rotation,
			})
			if errors.Is(err, database.ErrStagedImageNotFound) {
				writeJSONError(w, "staged image not found: "+u.ID, http.StatusNotFound)
				return
			}
			if err != nil {
				writeJSONError(w, "update failed", http.StatusInternalServerError)
				return
			}
		}

		for _, ref := range u.AddTags {
			tag, err := h.db.FindOrCreateTag(ctx, ref.Name, database.TagKind(ref.Kind))
			if err != nil {
				writeJSONError(w, err.Error(), http.StatusBadRequest)
				return
			}
			err = h.db.AttachTagToStaged(ctx, u.ID, tag.ID)
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
		}

		for _, tagID := range u.RemoveTagIDs {
			if err := h.db.DetachTagFromStaged(ctx, u.ID, tagID); err != nil {
				writeJSONError(w, "failed to detach tag", http.StatusInternalServerError)
				return
			}
		}
	}

	writeJSON(w, map[string]string{"status": "ok"})
}

// ReorderStaged sets display order from the given id list.
func (h *Handlers) ReorderStaged(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		writeJSONError(w, "no ids in request", http.StatusBadRequest)
		return
	}
	if err := h.db.SetOrderIndices(r.Context(), req.IDs); err != nil {
		writeJSONError(w, "failed to reorder", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// StagedStatus is the lightweight poll endpoint the browser hits while
// previews and enhancements are in flight.
func (h *Handlers) StagedStatus(w http.ResponseWriter, r *http.Request) {
	idsParam := r.URL.Query().Get("ids")
	if idsParam == "" {
		writeJSONError(w, "ids query parameter required", http.StatusBadRequest)
		return
	}

	images, err := h.db.GetStagedImages(r.Context(), strings.Split(idsParam, ","))
	if err != nil {
		writeJSONError(w, "failed to load statuses", http.StatusInternalServerError)
		return
	}

	type status struct {
		ID            string  `json:"id"`
		ThumbnailURL  *string `json:"thumbnailUrl"`
		PreviewURL    *string `json:"previewUrl"`
		PreviewReady  bool    `json:"previewReady"`
		PreviewStatus string  `json:"previewStatus"`
		PreviewError  string  `json:"previewError,omitempty"`
		PreviewWidth  int     `json:"previewWidth,omitempty"`
		EnhanceStatus string  `json:"enhanceStatus"`
		EnhanceReady  bool    `json:"enhanceReady"`
	}
	statuses := make([]status, 0, len(images))
	for _, img := range images {
		fillArtifactURLs(img)
		statuses = append(statuses, status{
			ID:            img.ID,
			ThumbnailURL:  img.ThumbnailURL,
			PreviewURL:    img.PreviewURL,
			PreviewReady:  img.PreviewStatus == database.PreviewReady,
			PreviewStatus: string(img.PreviewStatus),
			PreviewError:  img.PreviewError,
			PreviewWidth:  img.PreviewWidth,
			EnhanceStatus: string(img.EnhanceStatus),
			EnhanceReady:  img.EnhanceStatus == database.EnhancementReady,
		})
	}
	writeJSON(w, map[string]interface{}{"statuses": statuses})
}

// DeleteStaged removes a staged image and its files.
func (h *Handlers) DeleteStaged(w http.ResponseWriter, r *http.Request) {
	img, err := h.db.DeleteStagedImage(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, database.ErrStagedImageNotFound) {
		writeJSONError(w, "staged image not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, "failed to delete staged image", http.StatusInternalServerError)
		return
	}
	ingest.RemoveStagedFiles(img)
	writeJSON(w, map[string]string{"status": "deleted"})
}

// enhanceResult is the per-id outcome of a batch enhancement request.
type enhanceResult struct {
	Status      string `json:"status"`
	Width       int    `json:"width,omitempty"`
	TargetWidth int    `json:"targetWidth,omitempty"`
}

// EnhanceStaged queues higher resolution previews for a set of staged
// images. Each id resolves independently to queued, already_max,
// not_ready, or not_found.
func (h *Handlers) EnhanceStaged(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		writeJSONError(w, "ids is required", http.StatusBadRequest)
		return
	}

	results := make(map[string]enhanceResult, len(req.IDs))
	for _, id := range req.IDs {
		results[id] = h.enhanceOne(r.Context(), id)
	}
	writeJSON(w, map[string]interface{}{"results": results})
}

func (h *Handlers) enhanceOne(ctx context.Context, id string) enhanceResult {
	img, err := h.db.GetStagedImage(ctx, id)
	if errors.Is(err, database.ErrStagedImageNotFound) {
		return enhanceResult{Status: "not_found"}
	}
	if err != nil {
		logging.Error("enhance %s: %v", id, err)
		return enhanceResult{Status: "error"}
	}
	if img.PreviewStatus != database.PreviewReady {
		return enhanceResult{Status: "not_ready"}
	}

	target, ok := h.gen.EnhanceTarget(img.PreviewWidth)
	if !ok {
		return enhanceResult{Status: "already_max", Width: img.PreviewWidth}
	}

	if err := h.db.SetEnhanceStatus(ctx, id, database.EnhancementRequested); err != nil {
		logging.Error("enhance %s: %v", id, err)
		return enhanceResult{Status: "error"}
	}
	if err := h.pipeline.EnqueueEnhance(id, target); err != nil {
		logging.Error("enhance %s: queue: %v", id, err)
		return enhanceResult{Status: "error"}
	}
	return enhanceResult{Status: "queued", TargetWidth: target}
}

// ServePreview streams the preview JPEG.
func (h *Handlers) ServePreview(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, func(img *database.StagedImage) string { return img.PreviewPath })
}

// ServeThumbnail streams the thumbnail JPEG.
func (h *Handlers) ServeThumbnail(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, func(img *database.StagedImage) string { return img.ThumbnailPath })
}

func (h *Handlers) serveArtifact(w http.ResponseWriter, r *http.Request, pick func(*database.StagedImage) string) {
	img, err := h.db.GetStagedImage(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, database.ErrStagedImageNotFound) {
		writeJSONError(w, "staged image not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, "failed to load staged image", http.StatusInternalServerError)
		return
	}

	path := pick(img)
	if path == "" {
		writeJSONError(w, "not generated yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	http.ServeFile(w, r, path)
}
