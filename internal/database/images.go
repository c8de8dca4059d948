package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"photostage/internal/logging"
)

// CreatePermanentImage inserts the committed record. Only the promotion
// processor calls this, and only after the storage copy has been verified.
func (d *Database) CreatePermanentImage(ctx context.Context, img *PermanentImage) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_image", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	raw, err := marshalMeta(img.RawMetadata)
	if err != nil {
		return err
	}

	var dateTaken sql.NullInt64
	if img.DateTaken != nil {
		dateTaken = sql.NullInt64{Int64: img.DateTaken.Unix(), Valid: true}
	}
	var lat, lng sql.NullFloat64
	if img.GPSLatitude != nil {
		lat = sql.NullFloat64{Float64: *img.GPSLatitude, Valid: true}
	}
	if img.GPSLongitude != nil {
		lng = sql.NullFloat64{Float64: *img.GPSLongitude, Valid: true}
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO images (
			id, owner_id, storage_key, disk, byte_size, original_filename,
			camera_make, camera_model, iso, f_stop, shutter_speed, shutter_speed_display,
			focal_length, gps_latitude, gps_longitude, date_taken, raw_metadata,
			association_type, association_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.OwnerID, img.StorageKey, img.Disk, img.ByteSize, img.OriginalFilename,
		nullString(img.CameraMake), nullString(img.CameraModel), nullInt(img.ISO),
		nullFloat(img.FStop), nullFloat(img.ShutterSpeed), nullString(img.ShutterSpeedDisplay),
		nullFloat(img.FocalLength), lat, lng, dateTaken, raw,
		nullString(img.AssociationType), nullString(img.AssociationID),
	)
	return err
}

// GetPermanentImage retrieves a committed image by id.
func (d *Database) GetPermanentImage(ctx context.Context, id string) (*PermanentImage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var img PermanentImage
	var make, model, display, assocType, assocID sql.NullString
	var iso sql.NullInt64
	var fStop, shutter, focal, lat, lng sql.NullFloat64
	var dateTaken sql.NullInt64
	var raw sql.NullString
	var createdAt int64

	err := d.db.QueryRowContext(ctx, `
		SELECT id, owner_id, storage_key, disk, byte_size, original_filename,
			camera_make, camera_model, iso, f_stop, shutter_speed, shutter_speed_display,
			focal_length, gps_latitude, gps_longitude, date_taken, raw_metadata,
			association_type, association_id, created_at
		FROM images WHERE id = ?`, id).Scan(
		&img.ID, &img.OwnerID, &img.StorageKey, &img.Disk, &img.ByteSize, &img.OriginalFilename,
		&make, &model, &iso, &fStop, &shutter, &display,
		&focal, &lat, &lng, &dateTaken, &raw,
		&assocType, &assocID, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("permanent image not found")
	}
	if err != nil {
		return nil, err
	}

	img.CameraMake = make.String
	img.CameraModel = model.String
	img.ISO = int(iso.Int64)
	img.FStop = fStop.Float64
	img.ShutterSpeed = shutter.Float64
	img.ShutterSpeedDisplay = display.String
	img.FocalLength = focal.Float64
	if lat.Valid {
		v := lat.Float64
		img.GPSLatitude = &v
	}
	if lng.Valid {
		v := lng.Float64
		img.GPSLongitude = &v
	}
	if dateTaken.Valid {
		t := time.Unix(dateTaken.Int64, 0)
		img.DateTaken = &t
	}
	img.RawMetadata = unmarshalMeta(raw)
	img.AssociationType = assocType.String
	img.AssociationID = assocID.String
	img.CreatedAt = time.Unix(createdAt, 0)
	return &img, nil
}

// AttachTagToImage associates a tag with a permanent image.
func (d *Database) AttachTagToImage(ctx context.Context, imageID string, tagID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("attach_image_tag", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO image_tags (image_id, tag_id) VALUES (?, ?)",
		imageID, tagID)
	return err
}

// TagsForImage returns the tags attached to a permanent image.
func (d *Database) TagsForImage(ctx context.Context, imageID string) ([]Tag, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.slug, t.kind, t.color, t.created_at
		FROM tags t
		INNER JOIN image_tags it ON t.id = it.tag_id
		WHERE it.image_id = ?
		ORDER BY t.name COLLATE NOCASE`, imageID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Error("error closing rows: %v", err)
		}
	}()

	var tags []Tag
	for rows.Next() {
		var tag Tag
		var createdAt int64
		var color sql.NullString
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Slug, &tag.Kind, &color, &createdAt); err != nil {
			return nil, err
		}
		tag.CreatedAt = time.Unix(createdAt, 0)
		if color.Valid {
			tag.Color = color.String
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: f != 0}
}
