package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"

	"photostage/internal/logging"
)

// ErrTagNotFound is returned when a tag id does not exist.
var ErrTagNotFound = errors.New("tag not found")

// FindOrCreateTag looks a tag up by its (slug, kind) pair, creating it when
// absent. Lookup is by slug so "Summer Wedding" and "summer-wedding" resolve
// to the same tag.
func (d *Database) FindOrCreateTag(ctx context.Context, name string, kind TagKind) (*Tag, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("find_or_create_tag", start, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		err = errors.New("tag name cannot be empty")
		return nil, err
	}
	if !ValidTagKind(kind) {
		err = fmt.Errorf("invalid tag kind %q", kind)
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tagSlug := slug.Make(name)

	var tag Tag
	var createdAt int64
	var color sql.NullString

	err = d.db.QueryRowContext(ctx,
		"SELECT id, name, slug, kind, color, created_at FROM tags WHERE slug = ? AND kind = ?",
		tagSlug, string(kind),
	).Scan(&tag.ID, &tag.Name, &tag.Slug, &tag.Kind, &color, &createdAt)

	if err == nil {
		tag.CreatedAt = time.Unix(createdAt, 0)
		if color.Valid {
			tag.Color = color.String
		}
		return &tag, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	result, err := d.db.ExecContext(ctx,
		"INSERT INTO tags (name, slug, kind) VALUES (?, ?, ?)",
		name, tagSlug, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tag: %w", err)
	}

	tag.ID, _ = result.LastInsertId()
	tag.Name = name
	tag.Slug = tagSlug
	tag.Kind = kind
	tag.CreatedAt = time.Now()
	return &tag, nil
}

// GetTag retrieves a tag by id.
func (d *Database) GetTag(ctx context.Context, id int64) (*Tag, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var tag Tag
	var createdAt int64
	var color sql.NullString

	err := d.db.QueryRowContext(ctx,
		"SELECT id, name, slug, kind, color, created_at FROM tags WHERE id = ?", id,
	).Scan(&tag.ID, &tag.Name, &tag.Slug, &tag.Kind, &color, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTagNotFound
	}
	if err != nil {
		return nil, err
	}

	tag.CreatedAt = time.Unix(createdAt, 0)
	if color.Valid {
		tag.Color = color.String
	}
	return &tag, nil
}

// ListTags returns tags, optionally filtered by kind and a name substring.
func (d *Database) ListTags(ctx context.Context, kind TagKind, query string) ([]Tag, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_tags", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	sqlQuery := "SELECT id, name, slug, kind, color, created_at FROM tags"
	var conds []string
	var args []interface{}

	if kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(kind))
	}
	if query != "" {
		conds = append(conds, "name LIKE ? COLLATE NOCASE")
		args = append(args, "%"+query+"%")
	}
	if len(conds) > 0 {
		sqlQuery += " WHERE " + strings.Join(conds, " AND ")
	}
	sqlQuery += " ORDER BY name COLLATE NOCASE"

	rows, err := d.db.QueryContext(ctx, sqlQuery, args...)
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
		if err = rows.Scan(&tag.ID, &tag.Name, &tag.Slug, &tag.Kind, &color, &createdAt); err != nil {
			return nil, err
		}
		tag.CreatedAt = time.Unix(createdAt, 0)
		if color.Valid {
			tag.Color = color.String
		}
		tags = append(tags, tag)
	}
	err = rows.Err()
	return tags, err
}

// AttachTagToStaged associates a tag with a staged image. For project and
// filename kinds, a second tag of the same kind is rejected with a
// TagLimitError naming the offending tag; the existing tag is untouched.
func (d *Database) AttachTagToStaged(ctx context.Context, stagedID string, tagID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("attach_tag", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var name string
	var kind TagKind
	err = d.db.QueryRowContext(ctx,
		"SELECT name, kind FROM tags WHERE id = ?", tagID).Scan(&name, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrTagNotFound
		return err
	}
	if err != nil {
		return err
	}

	if kind == TagProject || kind == TagFilename {
		var existing int
		err = d.db.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM staged_image_tags sit
			INNER JOIN tags t ON t.id = sit.tag_id
			WHERE sit.staged_image_id = ? AND t.kind = ? AND t.id != ?`,
			stagedID, string(kind), tagID).Scan(&existing)
		if err != nil {
			return err
		}
		if existing > 0 {
			err = &TagLimitError{Kind: kind, Name: name}
			return err
		}
	}

	_, err = d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO staged_image_tags (staged_image_id, tag_id) VALUES (?, ?)",
		stagedID, tagID)
	return err
}

// DetachTagFromStaged removes a tag association from a staged image.
func (d *Database) DetachTagFromStaged(ctx context.Context, stagedID string, tagID int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("detach_tag", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx,
		"DELETE FROM staged_image_tags WHERE staged_image_id = ? AND tag_id = ?",
		stagedID, tagID)
	return err
}

// TagsForStaged returns the tags attached to a staged image.
func (d *Database) TagsForStaged(ctx context.Context, stagedID string) ([]Tag, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return d.tagsForStagedUnlocked(ctx, stagedID)
}

// tagsForStagedUnlocked returns tags without acquiring the lock.
// Caller must hold at least a read lock.
func (d *Database) tagsForStagedUnlocked(ctx context.Context, stagedID string) ([]Tag, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.slug, t.kind, t.color, t.created_at
		FROM tags t
		INNER JOIN staged_image_tags sit ON t.id = sit.tag_id
		WHERE sit.staged_image_id = ?
		ORDER BY t.name COLLATE NOCASE`, stagedID)
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

// SingletonTag returns the staged image's single tag of the given kind, or
// nil when absent. Used by the commit templating path for the project and
// filename placeholders.
func (d *Database) SingletonTag(ctx context.Context, stagedID string, kind TagKind) (*Tag, error) {
	tags, err := d.TagsForStaged(ctx, stagedID)
	if err != nil {
		return nil, err
	}
	for i := range tags {
		if tags[i].Kind == kind {
			return &tags[i], nil
		}
	}
	return nil, nil
}

// DeleteTag removes a tag and all its associations.
func (d *Database) DeleteTag(ctx context.Context, id int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_tag", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", id)
	return err
}
