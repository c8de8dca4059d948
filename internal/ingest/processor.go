package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"photostage/internal/database"
	"photostage/internal/jobs"
	"photostage/internal/logging"
	"photostage/internal/metrics"
)

// Promotion failure reasons surfaced on the commit path.
var (
	ErrSourceMissing   = errors.New("staged source file is missing")
	ErrWriteUnverified = errors.New("storage write could not be verified")
)

// CommitRequest is the batch-level half of a commit. Each image in the
// batch shares these settings and gets its own sequence number.
type CommitRequest struct {
	OwnerID         string   `json:"ownerId"`
	PathPattern     string   `json:"pathPattern"`
	FilenamePattern string   `json:"filenamePattern"`
	SequencePadding int      `json:"sequencePadding"`
	AssociationType string   `json:"associationType"`
	AssociationID   string   `json:"associationId"`
	TagNames        []string `json:"tagNames"`
}

// CommitPayload is the per-image job payload.
type CommitPayload struct {
	Request  CommitRequest
	Sequence int
}

// handleCommit promotes one staged image: render its storage key, copy
// and verify the original, write the permanent record with its tag union,
// then clean staging up. Cleanup failures are logged, not retried; the
// permanent record already exists at that point.
func (p *Pipeline) handleCommit(ctx context.Context, job *jobs.Job) error {
	payload, ok := job.Payload.(*CommitPayload)
	if !ok {
		return &jobs.PermanentError{Err: fmt.Errorf("invalid commit payload %T", job.Payload)}
	}
	req := payload.Request

	img, err := p.db.GetStagedImage(ctx, job.StagedID)
	if errors.Is(err, database.ErrStagedImageNotFound) {
		return jobs.ErrSkip
	}
	if err != nil {
		return err
	}

	src, err := os.Open(img.SourcePath)
	if os.IsNotExist(err) {
		return &jobs.PermanentError{Err: fmt.Errorf("%w: %s", ErrSourceMissing, img.SourcePath)}
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logging.Error("error closing %s: %v", img.SourcePath, err)
		}
	}()

	srcInfo, err := src.Stat()
	if err != nil {
		return err
	}

	key, err := p.storageKey(ctx, img, payload)
	if err != nil {
		return err
	}

	written, err := p.store.Put(key, src)
	if err != nil {
		return fmt.Errorf("storage write for %s: %w", key, err)
	}
	size, err := p.store.Size(key)
	if err != nil || size != written || size != srcInfo.Size() {
		return fmt.Errorf("%w: %s (wrote %d, stored %d, source %d)",
			ErrWriteUnverified, key, written, size, srcInfo.Size())
	}

	permanent := p.buildRecord(img, req, key, written)
	if err := p.db.CreatePermanentImage(ctx, permanent); err != nil {
		return fmt.Errorf("permanent record for %s: %w", key, err)
	}

	if err := p.applyTagUnion(ctx, img, permanent.ID, req.TagNames); err != nil {
		// The image is committed; a missed tag is not worth re-copying it.
		logging.Warn("tag union incomplete for %s: %v", permanent.ID, err)
	}

	if _, err := p.db.DeleteStagedImage(ctx, img.ID); err != nil {
		logging.Warn("failed to delete staged record %s after commit: %v", img.ID, err)
	}
	RemoveStagedFiles(img)

	metrics.ImagesPromoted.Inc()
	logging.Info("promoted %s to %s", img.ID, key)
	return nil
}

func (p *Pipeline) commitFailed(ctx context.Context, job *jobs.Job, cause error) {
	metrics.PromotionFailures.Inc()
	logging.Error("commit abandoned for %s: %v", job.StagedID, cause)
}

// storageKey renders the destination key from the configured patterns.
func (p *Pipeline) storageKey(ctx context.Context, img *database.StagedImage, payload *CommitPayload) (string, error) {
	fields := ExtractFields(img)

	tc := TemplateContext{
		Sequence:    payload.Sequence,
		Padding:     payload.Request.SequencePadding,
		Original:    img.OriginalFilename,
		UID:         img.ID,
		CameraMake:  fields.String("camera_make"),
		CameraModel: fields.String("camera_model"),
	}
	if t := fields.Time("date_taken"); t != nil {
		tc.Date = *t
	} else {
		tc.Date = time.Now()
	}

	if tag, err := p.db.SingletonTag(ctx, img.ID, database.TagProject); err != nil {
		return "", err
	} else if tag != nil {
		tc.Project = tag.Name
	}
	if tag, err := p.db.SingletonTag(ctx, img.ID, database.TagFilename); err != nil {
		return "", err
	} else if tag != nil {
		tc.Filename = tag.Name
	}

	dir := RenderPath(payload.Request.PathPattern, tc)
	name := RenderFilename(payload.Request.FilenamePattern, tc)
	return path.Join(dir, name), nil
}

// buildRecord maps staged metadata onto the permanent image row, reading
// each field through the normalized-then-raw chain.
func (p *Pipeline) buildRecord(img *database.StagedImage, req CommitRequest, key string, byteSize int64) *database.PermanentImage {
	fields := ExtractFields(img)

	return &database.PermanentImage{
		ID:                  uuid.NewString(),
		OwnerID:             img.OwnerID,
		StorageKey:          key,
		Disk:                "local",
		ByteSize:            byteSize,
		OriginalFilename:    img.OriginalFilename,
		CameraMake:          fields.String("camera_make"),
		CameraModel:         fields.String("camera_model"),
		ISO:                 fields.Int("iso"),
		FStop:               fields.Float("f_stop"),
		ShutterSpeed:        fields.Float("shutter_speed"),
		ShutterSpeedDisplay: fields.String("shutter_speed_display"),
		FocalLength:         fields.Float("focal_length"),
		GPSLatitude:         fields.FloatPtr("gps_latitude"),
		GPSLongitude:        fields.FloatPtr("gps_longitude"),
		DateTaken:           fields.Time("date_taken"),
		RawMetadata:         img.RawMetadata,
		AssociationType:     req.AssociationType,
		AssociationID:       req.AssociationID,
	}
}

// applyTagUnion attaches the union of the staged image's relational tags
// and the request's flat tag names to the permanent image. Duplicates
// collapse on the association table.
func (p *Pipeline) applyTagUnion(ctx context.Context, img *database.StagedImage, imageID string, names []string) error {
	tags, err := p.db.TagsForStaged(ctx, img.ID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, tag := range tags {
		if err := p.db.AttachTagToImage(ctx, imageID, tag.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, name := range names {
		tag, err := p.db.FindOrCreateTag(ctx, name, database.TagNormal)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := p.db.AttachTagToImage(ctx, imageID, tag.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
