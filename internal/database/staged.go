package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"photostage/internal/logging"
)

// ErrStagedImageNotFound is returned when a staged image id does not exist.
// Jobs treat this as a benign no-op (the record was deleted mid-flight).
var ErrStagedImageNotFound = errors.New("staged image not found")

// maxStoredErrorLen caps error messages persisted for diagnostics.
const maxStoredErrorLen = 500

func truncateError(msg string) string {
	if len(msg) > maxStoredErrorLen {
		return msg[:maxStoredErrorLen]
	}
	return msg
}

// normalizeRotation stores rotation mod 360 with a non-negative result.
func normalizeRotation(deg int) int {
	return ((deg % 360) + 360) % 360
}

const stagedColumns = `id, owner_id, original_filename, source_path, thumbnail_path, preview_path,
	preview_status, preview_error, enhance_status, preview_width, culled, starred, rating,
	rotation, order_index, metadata, raw_metadata, extraction_method, extraction_error,
	created_at, updated_at`

// CreateStagedImage inserts a new staging record.
func (d *Database) CreateStagedImage(ctx context.Context, img *StagedImage) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_staged", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	meta, err := marshalMeta(img.Metadata)
	if err != nil {
		return err
	}
	raw, err := marshalMeta(img.RawMetadata)
	if err != nil {
		return err
	}

	if img.PreviewStatus == "" {
		img.PreviewStatus = PreviewPending
	}
	if img.EnhanceStatus == "" {
		img.EnhanceStatus = EnhancementNone
	}
	if img.ExtractionMethod == "" {
		img.ExtractionMethod = "none"
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO staged_images (
			id, owner_id, original_filename, source_path, thumbnail_path, preview_path,
			preview_status, preview_error, enhance_status, preview_width, culled, starred,
			rating, rotation, order_index, metadata, raw_metadata, extraction_method, extraction_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.OwnerID, img.OriginalFilename, img.SourcePath,
		nullString(img.ThumbnailPath), nullString(img.PreviewPath),
		string(img.PreviewStatus), nullString(img.PreviewError), string(img.EnhanceStatus),
		nullInt(img.PreviewWidth), img.Culled, img.Starred, img.Rating,
		normalizeRotation(img.Rotation), img.OrderIndex, meta, raw,
		img.ExtractionMethod, nullString(img.ExtractionError),
	)
	return err
}

// GetStagedImage retrieves a staged image with its tags.
func (d *Database) GetStagedImage(ctx context.Context, id string) (*StagedImage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return d.getStagedUnlocked(ctx, id)
}

func (d *Database) getStagedUnlocked(ctx context.Context, id string) (*StagedImage, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+stagedColumns+" FROM staged_images WHERE id = ?", id)

	img, err := scanStaged(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStagedImageNotFound
	}
	if err != nil {
		return nil, err
	}

	img.Tags, err = d.tagsForStagedUnlocked(ctx, id)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// GetStagedImages retrieves multiple staged images by id, skipping missing
// ids silently. Order follows the input ids.
func (d *Database) GetStagedImages(ctx context.Context, ids []string) ([]*StagedImage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	images := make([]*StagedImage, 0, len(ids))
	for _, id := range ids {
		img, err := d.getStagedUnlocked(ctx, id)
		if errors.Is(err, ErrStagedImageNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// ListStagedImages returns all staged images for an owner ordered by
// order index, then creation time.
func (d *Database) ListStagedImages(ctx context.Context, ownerID string) ([]*StagedImage, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_staged", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+stagedColumns+" FROM staged_images WHERE owner_id = ? ORDER BY order_index, created_at", ownerID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Error("error closing rows: %v", err)
		}
	}()

	var images []*StagedImage
	for rows.Next() {
		img, scanErr := scanStaged(rows)
		if scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		images = append(images, img)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	for _, img := range images {
		img.Tags, err = d.tagsForStagedUnlocked(ctx, img.ID)
		if err != nil {
			return nil, err
		}
	}
	return images, nil
}

// StagedUpdate is a partial update applied to a set of staged images.
// Nil fields are left unchanged.
type StagedUpdate struct {
	Culled   *bool
	Starred  *bool
	Rating   *int
	Rotation *int
}

// UpdateStagedImage applies a partial update to one staged image.
func (d *Database) UpdateStagedImage(ctx context.Context, id string, update StagedUpdate) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_staged", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var sets []string
	var args []interface{}

	if update.Culled != nil {
		sets = append(sets, "culled = ?")
		args = append(args, *update.Culled)
	}
	if update.Starred != nil {
		sets = append(sets, "starred = ?")
		args = append(args, *update.Starred)
	}
	if update.Rating != nil {
		sets = append(sets, "rating = ?")
		args = append(args, *update.Rating)
	}
	if update.Rotation != nil {
		sets = append(sets, "rotation = ?")
		args = append(args, normalizeRotation(*update.Rotation))
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = strftime('%s', 'now')")
	args = append(args, id)

	result, execErr := d.db.ExecContext(ctx,
		"UPDATE staged_images SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if execErr != nil {
		err = execErr
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		err = ErrStagedImageNotFound
		return err
	}
	return nil
}

// SetOrderIndices assigns order indices by position in ids.
func (d *Database) SetOrderIndices(ctx context.Context, ids []string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("reorder_staged", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error("rollback failed: %v", rbErr)
			}
		}
	}()

	for i, id := range ids {
		if _, err = tx.ExecContext(ctx,
			"UPDATE staged_images SET order_index = ?, updated_at = strftime('%s', 'now') WHERE id = ?",
			i, id); err != nil {
			return err
		}
	}

	err = tx.Commit()
	committed = err == nil
	return err
}

// SetExtraction stores the synchronous extraction result for a record.
func (d *Database) SetExtraction(ctx context.Context, id string, metadata, raw map[string]interface{}, method, extractionError string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_extraction", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	meta, err := marshalMeta(metadata)
	if err != nil {
		return err
	}
	rawMeta, err := marshalMeta(raw)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, `
		UPDATE staged_images
		SET metadata = ?, raw_metadata = ?, extraction_method = ?, extraction_error = ?,
		    updated_at = strftime('%s', 'now')
		WHERE id = ?`,
		meta, rawMeta, method, nullString(truncateError(extractionError)), id)
	return err
}

// SetThumbnail stores the thumbnail path (upload-time tiny thumb or the
// background job's upgraded thumb).
func (d *Database) SetThumbnail(ctx context.Context, id, thumbnailPath string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_thumbnail", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		"UPDATE staged_images SET thumbnail_path = ?, updated_at = strftime('%s', 'now') WHERE id = ?",
		thumbnailPath, id)
	return err
}

// ClaimPreview is the status-gated entry into preview generation: it flips
// preview_status to processing unless the record is already ready. Returns
// false when another worker completed the phase (the caller should no-op).
// This is the compare-and-set that stands in for a lock.
func (d *Database) ClaimPreview(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("claim_preview", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, `
		UPDATE staged_images
		SET preview_status = ?, updated_at = strftime('%s', 'now')
		WHERE id = ? AND preview_status != ?`,
		string(PreviewProcessing), id, string(PreviewReady))
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}

	// Either the record is gone or the phase is already complete.
	var status string
	err = d.db.QueryRowContext(ctx,
		"SELECT preview_status FROM staged_images WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrStagedImageNotFound
	}
	return false, err
}

// SetPreviewReady records the generated preview and thumbnail. A ready
// record always has a non-null thumbnail path.
func (d *Database) SetPreviewReady(ctx context.Context, id, previewPath, thumbnailPath string, width int) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_preview_ready", start, err) }()

	if thumbnailPath == "" {
		err = fmt.Errorf("refusing to mark preview ready without a thumbnail for %s", id)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		UPDATE staged_images
		SET preview_path = ?, thumbnail_path = ?, preview_width = ?,
		    preview_status = ?, preview_error = NULL, updated_at = strftime('%s', 'now')
		WHERE id = ?`,
		previewPath, thumbnailPath, width, string(PreviewReady), id)
	return err
}

// SetPreviewFailed marks preview generation as terminally failed, retaining
// a truncated error message for diagnostics.
func (d *Database) SetPreviewFailed(ctx context.Context, id, message string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_preview_failed", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		UPDATE staged_images
		SET preview_status = ?, preview_error = ?, updated_at = strftime('%s', 'now')
		WHERE id = ?`,
		string(PreviewFailed), truncateError(message), id)
	return err
}

// SetEnhanceStatus transitions the enhancement status.
func (d *Database) SetEnhanceStatus(ctx context.Context, id string, status EnhancementStatus) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_enhance_status", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		"UPDATE staged_images SET enhance_status = ?, updated_at = strftime('%s', 'now') WHERE id = ?",
		string(status), id)
	return err
}

// SetEnhanceReady stores the enhanced preview and flips enhancement to ready.
func (d *Database) SetEnhanceReady(ctx context.Context, id, previewPath string, width int) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_enhance_ready", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		UPDATE staged_images
		SET preview_path = ?, preview_width = ?, enhance_status = ?, updated_at = strftime('%s', 'now')
		WHERE id = ?`,
		previewPath, width, string(EnhancementReady), id)
	return err
}

// DeleteStagedImage removes the record and returns it so the caller can
// clean up temporary files. Returns ErrStagedImageNotFound if absent.
func (d *Database) DeleteStagedImage(ctx context.Context, id string) (*StagedImage, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_staged", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	img, err := d.getStagedUnlocked(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err = d.db.ExecContext(ctx, "DELETE FROM staged_image_tags WHERE staged_image_id = ?", id); err != nil {
		return nil, err
	}
	if _, err = d.db.ExecContext(ctx, "DELETE FROM staged_images WHERE id = ?", id); err != nil {
		return nil, err
	}
	return img, nil
}

// ListAbandoned returns staged images created before the cutoff, for the
// staging reaper.
func (d *Database) ListAbandoned(ctx context.Context, cutoff time.Time) ([]*StagedImage, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_abandoned", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+stagedColumns+" FROM staged_images WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Error("error closing rows: %v", err)
		}
	}()

	var images []*StagedImage
	for rows.Next() {
		img, scanErr := scanStaged(rows)
		if scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		images = append(images, img)
	}
	err = rows.Err()
	return images, err
}

// ListByPreviewStatus returns staged images whose preview status is any
// of the given states. Used at boot to re-enqueue work the previous
// process never finished.
func (d *Database) ListByPreviewStatus(ctx context.Context, statuses ...PreviewStatus) ([]*StagedImage, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_by_preview_status", start, err) }()

	if len(statuses) == 0 {
		return nil, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+stagedColumns+" FROM staged_images WHERE preview_status IN ("+
			strings.Join(placeholders, ", ")+") ORDER BY created_at", args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Error("error closing rows: %v", err)
		}
	}()

	var images []*StagedImage
	for rows.Next() {
		img, scanErr := scanStaged(rows)
		if scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		images = append(images, img)
	}
	err = rows.Err()
	return images, err
}

// Stats summarizes staging state for the stats endpoint.
func (d *Database) Stats(ctx context.Context) (StagingStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats StagingStats
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(preview_status = 'pending'), 0),
			COALESCE(SUM(preview_status = 'processing'), 0),
			COALESCE(SUM(preview_status = 'ready'), 0),
			COALESCE(SUM(preview_status = 'failed'), 0),
			COALESCE(SUM(culled), 0)
		FROM staged_images`).Scan(
		&stats.Total, &stats.Pending, &stats.Processing, &stats.Ready, &stats.Failed, &stats.Culled)
	if err != nil {
		return stats, err
	}

	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tags").Scan(&stats.TotalTags); err != nil {
		return stats, err
	}
	err = d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&stats.TotalCommits)
	return stats, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStaged(row rowScanner) (*StagedImage, error) {
	var img StagedImage
	var thumbnail, preview, previewErr, extractionErr sql.NullString
	var meta, raw sql.NullString
	var previewWidth sql.NullInt64
	var createdAt, updatedAt int64
	var previewStatus, enhanceStatus string

	err := row.Scan(
		&img.ID, &img.OwnerID, &img.OriginalFilename, &img.SourcePath,
		&thumbnail, &preview, &previewStatus, &previewErr, &enhanceStatus,
		&previewWidth, &img.Culled, &img.Starred, &img.Rating, &img.Rotation,
		&img.OrderIndex, &meta, &raw, &img.ExtractionMethod, &extractionErr,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	img.ThumbnailPath = thumbnail.String
	img.PreviewPath = preview.String
	img.PreviewStatus = PreviewStatus(previewStatus)
	img.PreviewError = previewErr.String
	img.EnhanceStatus = EnhancementStatus(enhanceStatus)
	img.PreviewWidth = int(previewWidth.Int64)
	img.Metadata = unmarshalMeta(meta)
	img.RawMetadata = unmarshalMeta(raw)
	img.ExtractionError = extractionErr.String
	img.CreatedAt = time.Unix(createdAt, 0)
	img.UpdatedAt = time.Unix(updatedAt, 0)
	return &img, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}
