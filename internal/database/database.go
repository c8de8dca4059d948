package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"photostage/internal/logging"
	"photostage/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Database manages all persistence for the ingest pipeline.
type Database struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// New creates a new Database instance. dbPath must be the full path to the
// database file; the parent directory must already exist and be writable
// (startup.LoadConfig validates this).
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	// WAL mode and busy_timeout prevent "database is locked" errors when
	// jobs and handlers write concurrently.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	-- Staged images: one row per in-flight upload
	CREATE TABLE IF NOT EXISTS staged_images (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		source_path TEXT NOT NULL,
		thumbnail_path TEXT,
		preview_path TEXT,
		preview_status TEXT NOT NULL DEFAULT 'pending',
		preview_error TEXT,
		enhance_status TEXT NOT NULL DEFAULT 'none',
		preview_width INTEGER,
		culled INTEGER NOT NULL DEFAULT 0,
		starred INTEGER NOT NULL DEFAULT 0,
		rating INTEGER NOT NULL DEFAULT 0,
		rotation INTEGER NOT NULL DEFAULT 0,
		order_index INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		raw_metadata TEXT,
		extraction_method TEXT NOT NULL DEFAULT 'none',
		extraction_error TEXT,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_staged_owner ON staged_images(owner_id);
	CREATE INDEX IF NOT EXISTS idx_staged_status ON staged_images(preview_status);
	CREATE INDEX IF NOT EXISTS idx_staged_created ON staged_images(created_at);
	CREATE INDEX IF NOT EXISTS idx_staged_order ON staged_images(owner_id, order_index);

	-- Tags, unique per (slug, kind)
	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'normal',
		color TEXT,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		UNIQUE(slug, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_tags_kind ON tags(kind);
	CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(name COLLATE NOCASE);

	-- Staged image <-> tag associations
	CREATE TABLE IF NOT EXISTS staged_image_tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		staged_image_id TEXT NOT NULL,
		tag_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (staged_image_id) REFERENCES staged_images(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE,
		UNIQUE(staged_image_id, tag_id)
	);

	CREATE INDEX IF NOT EXISTS idx_sit_image ON staged_image_tags(staged_image_id);
	CREATE INDEX IF NOT EXISTS idx_sit_tag ON staged_image_tags(tag_id);

	-- Permanent images, created only by the commit processor
	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		storage_key TEXT NOT NULL UNIQUE,
		disk TEXT NOT NULL DEFAULT 'local',
		byte_size INTEGER NOT NULL DEFAULT 0,
		original_filename TEXT NOT NULL,
		camera_make TEXT,
		camera_model TEXT,
		iso INTEGER,
		f_stop REAL,
		shutter_speed REAL,
		shutter_speed_display TEXT,
		focal_length REAL,
		gps_latitude REAL,
		gps_longitude REAL,
		date_taken INTEGER,
		raw_metadata TEXT,
		association_type TEXT,
		association_id TEXT,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_images_owner ON images(owner_id);
	CREATE INDEX IF NOT EXISTS idx_images_association ON images(association_type, association_id);

	-- Permanent image <-> tag associations
	CREATE TABLE IF NOT EXISTS image_tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_id TEXT NOT NULL,
		tag_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (image_id) REFERENCES images(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE,
		UNIQUE(image_id, tag_id)
	);

	CREATE INDEX IF NOT EXISTS idx_it_image ON image_tags(image_id);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the connection is alive. Used by readiness checks.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// UpdateDBMetrics updates database connection metrics.
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// marshalMeta serializes a metadata map for storage. Nil maps are stored as
// SQL NULL so missing and empty stay distinguishable.
func marshalMeta(m map[string]interface{}) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMeta(s sql.NullString) map[string]interface{} {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		logging.Warn("failed to unmarshal stored metadata: %v", err)
		return nil
	}
	return m
}
