package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"photostage/internal/database"
	"photostage/internal/jobs"
	"photostage/internal/logging"
	"photostage/internal/metadata"
	"photostage/internal/metrics"
	"photostage/internal/preview"
	"photostage/internal/storage"
)

// Retry schedules. Preview work fails transiently (subprocess hiccups,
// slow disks) and recovers quickly; commits move user data and get a
// longer leash plus a wall-clock deadline.
var (
	previewBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}
	commitBackoff  = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
)

const (
	previewDeadline = 10 * time.Minute
	commitDeadline  = 30 * time.Minute

	// verifyRequeueDelay spaces out re-checks when a generated preview
	// is not yet visible to a stat call.
	verifyRequeueDelay = 2 * time.Second
)

// Pipeline owns the background half of the ingest flow: full metadata
// extraction, preview and thumbnail generation, enhancement, promotion to
// permanent storage, and the staging reaper.
type Pipeline struct {
	db     *database.Database
	engine *metadata.Engine
	gen    *preview.Generator
	store  storage.Store
	queue  *jobs.Queue
	verify storage.VerifyConfig
}

// NewPipeline wires the pipeline and registers its job kinds on the queue.
func NewPipeline(db *database.Database, engine *metadata.Engine, gen *preview.Generator, store storage.Store, queue *jobs.Queue) *Pipeline {
	p := &Pipeline{
		db:     db,
		engine: engine,
		gen:    gen,
		store:  store,
		queue:  queue,
		verify: storage.DefaultVerifyConfig(),
	}
	queue.Register(jobs.KindExtractPreview, p.handleExtractPreview, p.previewFailed, previewBackoff, previewDeadline)
	queue.Register(jobs.KindEnhance, p.handleEnhance, p.enhanceFailed, previewBackoff, previewDeadline)
	queue.Register(jobs.KindCommit, p.handleCommit, p.commitFailed, commitBackoff, commitDeadline)
	return p
}

// EnqueueExtractPreview schedules the full extraction and preview job for
// a staged image.
func (p *Pipeline) EnqueueExtractPreview(id string) error {
	return p.queue.Enqueue(&jobs.Job{Kind: jobs.KindExtractPreview, StagedID: id})
}

// EnqueueEnhance schedules re-rendering the preview at targetWidth.
func (p *Pipeline) EnqueueEnhance(id string, targetWidth int) error {
	return p.queue.Enqueue(&jobs.Job{Kind: jobs.KindEnhance, StagedID: id, Payload: targetWidth})
}

// EnqueueCommit schedules promotion of one staged image.
func (p *Pipeline) EnqueueCommit(id string, payload *CommitPayload) error {
	return p.queue.Enqueue(&jobs.Job{Kind: jobs.KindCommit, StagedID: id, Payload: payload})
}

// handleExtractPreview claims the record, refreshes metadata with a full
// extraction, renders the preview and thumbnail, and flips the status to
// ready once both files are verified on disk.
func (p *Pipeline) handleExtractPreview(ctx context.Context, job *jobs.Job) error {
	claimed, err := p.db.ClaimPreview(ctx, job.StagedID)
	if errors.Is(err, database.ErrStagedImageNotFound) {
		return jobs.ErrSkip
	}
	if err != nil {
		return err
	}
	if !claimed {
		// A duplicate dispatch after the preview already became ready.
		return jobs.ErrSkip
	}

	img, err := p.db.GetStagedImage(ctx, job.StagedID)
	if errors.Is(err, database.ErrStagedImageNotFound) {
		return jobs.ErrSkip
	}
	if err != nil {
		return err
	}

	if _, err := os.Stat(img.SourcePath); os.IsNotExist(err) {
		return &jobs.PermanentError{Err: fmt.Errorf("source file missing: %s", img.SourcePath)}
	}

	// The upload path ran a fast pass; this is the thorough one. A failed
	// extraction is recorded but does not block the preview.
	res := p.engine.Extract(ctx, img.SourcePath, metadata.ModeFull)
	extractionErr := ""
	if res.Err != nil {
		extractionErr = res.Err.Error()
		logging.Warn("full extraction failed for %s: %v", job.StagedID, res.Err)
	}
	if err := p.db.SetExtraction(ctx, job.StagedID, res.Metadata, res.Raw, res.Method, extractionErr); err != nil {
		return err
	}

	previewPath, thumbPath, width, source, err := p.gen.Generate(ctx, img.ID, img.SourcePath, img.OriginalFilename)
	if err != nil {
		return fmt.Errorf("preview generation: %w", err)
	}

	// Writes can land before they are observable on networked volumes.
	// Do not mark ready until both files stat successfully; requeueing
	// keeps the claim so no second worker re-renders.
	for _, path := range []string{previewPath, thumbPath} {
		if err := storage.VerifyFile(path, p.verify); err != nil {
			metrics.PreviewVerifyRequeues.Inc()
			return &jobs.RequeueError{Delay: verifyRequeueDelay}
		}
	}

	logging.Debug("preview ready for %s (%dpx, %s)", job.StagedID, width, source)
	return p.db.SetPreviewReady(ctx, job.StagedID, previewPath, thumbPath, width)
}

func (p *Pipeline) previewFailed(ctx context.Context, job *jobs.Job, cause error) {
	if err := p.db.SetPreviewFailed(ctx, job.StagedID, cause.Error()); err != nil {
		logging.Error("failed to record preview failure for %s: %v", job.StagedID, err)
	}
}

// handleEnhance re-renders the preview at the requested width.
func (p *Pipeline) handleEnhance(ctx context.Context, job *jobs.Job) error {
	targetWidth, ok := job.Payload.(int)
	if !ok || targetWidth <= 0 {
		return &jobs.PermanentError{Err: fmt.Errorf("invalid enhance target %v", job.Payload)}
	}

	img, err := p.db.GetStagedImage(ctx, job.StagedID)
	if errors.Is(err, database.ErrStagedImageNotFound) {
		return jobs.ErrSkip
	}
	if err != nil {
		return err
	}

	if img.PreviewWidth >= targetWidth {
		// Another enhancement got there first.
		return jobs.ErrSkip
	}

	if err := p.db.SetEnhanceStatus(ctx, job.StagedID, database.EnhancementProcessing); err != nil {
		return err
	}

	previewPath, width, err := p.gen.Enhance(ctx, img.ID, img.SourcePath, img.OriginalFilename, targetWidth)
	if err != nil {
		// Pollers see failed during retry waits; the next attempt flips
		// back to processing before rendering again.
		p.markEnhanceFailed(ctx, job.StagedID)
		return fmt.Errorf("enhancement: %w", err)
	}

	if err := storage.VerifyFile(previewPath, p.verify); err != nil {
		metrics.PreviewVerifyRequeues.Inc()
		return &jobs.RequeueError{Delay: verifyRequeueDelay}
	}

	if err := p.db.SetEnhanceReady(ctx, job.StagedID, previewPath, width); err != nil {
		p.markEnhanceFailed(ctx, job.StagedID)
		return err
	}
	return nil
}

func (p *Pipeline) markEnhanceFailed(ctx context.Context, id string) {
	if err := p.db.SetEnhanceStatus(ctx, id, database.EnhancementFailed); err != nil {
		logging.Error("failed to record enhancement failure for %s: %v", id, err)
	}
}

func (p *Pipeline) enhanceFailed(ctx context.Context, job *jobs.Job, cause error) {
	p.markEnhanceFailed(ctx, job.StagedID)
}

// RecoverPending re-enqueues preview work for records a previous process
// left unfinished. The queue is in-memory, so pending and processing rows
// found at boot have no job behind them.
func (p *Pipeline) RecoverPending(ctx context.Context) error {
	images, err := p.db.ListByPreviewStatus(ctx, database.PreviewPending, database.PreviewProcessing)
	if err != nil {
		return fmt.Errorf("listing unfinished previews: %w", err)
	}

	recovered := 0
	for _, img := range images {
		if err := p.EnqueueExtractPreview(img.ID); err != nil {
			logging.Error("recovery: failed to enqueue preview for %s: %v", img.ID, err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		logging.Info("recovered %d unfinished preview jobs", recovered)
	}
	return nil
}

// RunReaper periodically removes staged images older than ttl, files
// included. Runs until ctx is cancelled.
func (p *Pipeline) RunReaper(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reap(ctx, ttl)
		}
	}
}

func (p *Pipeline) reap(ctx context.Context, ttl time.Duration) {
	abandoned, err := p.db.ListAbandoned(ctx, time.Now().Add(-ttl))
	if err != nil {
		logging.Error("reaper: failed to list abandoned images: %v", err)
		return
	}
	for _, img := range abandoned {
		if _, err := p.db.DeleteStagedImage(ctx, img.ID); err != nil {
			logging.Error("reaper: failed to delete %s: %v", img.ID, err)
			continue
		}
		RemoveStagedFiles(img)
		metrics.StagedImagesReaped.Inc()
		logging.Info("reaper: removed abandoned staged image %s (%s)", img.ID, img.OriginalFilename)
	}
}

// RemoveStagedFiles deletes a staged image's on-disk artifacts, best
// effort.
func RemoveStagedFiles(img *database.StagedImage) {
	for _, path := range []string{img.SourcePath, img.PreviewPath, img.ThumbnailPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warn("failed to remove %s: %v", path, err)
		}
	}
}
