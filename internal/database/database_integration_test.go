package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close database: %v", err)
		}
	})
	return db
}

func newStaged(t *testing.T, db *Database, owner string) *StagedImage {
	t.Helper()
	img := &StagedImage{
		ID:               uuid.NewString(),
		OwnerID:          owner,
		OriginalFilename: "IMG_0001.CR2",
		SourcePath:       "/staging/src/IMG_0001.CR2",
	}
	if err := db.CreateStagedImage(context.Background(), img); err != nil {
		t.Fatalf("CreateStagedImage failed: %v", err)
	}
	return img
}

func TestCreateAndGetStagedImage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	img := &StagedImage{
		ID:               uuid.NewString(),
		OwnerID:          "user-1",
		OriginalFilename: "IMG_0042.NEF",
		SourcePath:       "/staging/src/IMG_0042.NEF",
		Metadata:         map[string]interface{}{"camera_make": "NIKON", "iso": float64(400)},
		RawMetadata:      map[string]interface{}{"Make": "NIKON"},
		ExtractionMethod: "tool_fast",
		Rotation:         -90,
	}
	if err := db.CreateStagedImage(ctx, img); err != nil {
		t.Fatalf("CreateStagedImage failed: %v", err)
	}

	got, err := db.GetStagedImage(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetStagedImage failed: %v", err)
	}

	if got.PreviewStatus != PreviewPending {
		t.Errorf("PreviewStatus = %s, want pending", got.PreviewStatus)
	}
	if got.EnhanceStatus != EnhancementNone {
		t.Errorf("EnhanceStatus = %s, want none", got.EnhanceStatus)
	}
	if got.Rotation != 270 {
		t.Errorf("Rotation = %d, want 270 (stored mod 360)", got.Rotation)
	}
	if got.Metadata["camera_make"] != "NIKON" {
		t.Errorf("Metadata[camera_make] = %v, want NIKON", got.Metadata["camera_make"])
	}
	if got.ExtractionMethod != "tool_fast" {
		t.Errorf("ExtractionMethod = %s, want tool_fast", got.ExtractionMethod)
	}
}

func TestGetStagedImageNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetStagedImage(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrStagedImageNotFound) {
		t.Errorf("error = %v, want ErrStagedImageNotFound", err)
	}
}

func TestClaimPreviewStatusGating(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	img := newStaged(t, db, "user-1")

	claimed, err := db.ClaimPreview(ctx, img.ID)
	if err != nil || !claimed {
		t.Fatalf("first claim = %v, %v, want true, nil", claimed, err)
	}

	got, _ := db.GetStagedImage(ctx, img.ID)
	if got.PreviewStatus != PreviewProcessing {
		t.Errorf("status = %s, want processing", got.PreviewStatus)
	}

	// A concurrent duplicate dispatch may also claim while processing;
	// that is benign. Once ready, claims must be refused.
	if err := db.SetPreviewReady(ctx, img.ID, "/p.jpg", "/t.jpg", 2048); err != nil {
		t.Fatalf("SetPreviewReady failed: %v", err)
	}

	claimed, err = db.ClaimPreview(ctx, img.ID)
	if err != nil {
		t.Fatalf("claim after ready errored: %v", err)
	}
	if claimed {
		t.Error("claim after ready should be refused")
	}

	got, _ = db.GetStagedImage(ctx, img.ID)
	if got.PreviewStatus != PreviewReady {
		t.Errorf("status regressed to %s after refused claim", got.PreviewStatus)
	}
}

func TestClaimPreviewMissingRecord(t *testing.T) {
	db := newTestDB(t)
	_, err := db.ClaimPreview(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrStagedImageNotFound) {
		t.Errorf("error = %v, want ErrStagedImageNotFound", err)
	}
}

func TestSetPreviewReadyRequiresThumbnail(t *testing.T) {
	db := newTestDB(t)
	img := newStaged(t, db, "user-1")

	if err := db.SetPreviewReady(context.Background(), img.ID, "/p.jpg", "", 1024); err == nil {
		t.Error("SetPreviewReady without a thumbnail should fail")
	}
}

func TestSetPreviewFailedTruncatesError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	img := newStaged(t, db, "user-1")

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	if err := db.SetPreviewFailed(ctx, img.ID, string(long)); err != nil {
		t.Fatalf("SetPreviewFailed failed: %v", err)
	}

	got, _ := db.GetStagedImage(ctx, img.ID)
	if got.PreviewStatus != PreviewFailed {
		t.Errorf("status = %s, want failed", got.PreviewStatus)
	}
	if len(got.PreviewError) != maxStoredErrorLen {
		t.Errorf("stored error length = %d, want %d", len(got.PreviewError), maxStoredErrorLen)
	}
}

func TestUpdateStagedImagePartial(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	img := newStaged(t, db, "user-1")

	culled := true
	rating := 4
	rotation := 450 // 450 mod 360 = 90
	err := db.UpdateStagedImage(ctx, img.ID, StagedUpdate{Culled: &culled, Rating: &rating, Rotation: &rotation})
	if err != nil {
		t.Fatalf("UpdateStagedImage failed: %v", err)
	}

	got, _ := db.GetStagedImage(ctx, img.ID)
	if !got.Culled || got.Rating != 4 || got.Rotation != 90 {
		t.Errorf("got culled=%v rating=%d rotation=%d", got.Culled, got.Rating, got.Rotation)
	}
	if got.Starred {
		t.Error("Starred should be untouched by a partial update")
	}
}

func TestSetOrderIndices(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := newStaged(t, db, "user-1")
	b := newStaged(t, db, "user-1")
	c := newStaged(t, db, "user-1")

	if err := db.SetOrderIndices(ctx, []string{c.ID, a.ID, b.ID}); err != nil {
		t.Fatalf("SetOrderIndices failed: %v", err)
	}

	images, err := db.ListStagedImages(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListStagedImages failed: %v", err)
	}
	if len(images) != 3 {
		t.Fatalf("got %d images, want 3", len(images))
	}
	wantOrder := []string{c.ID, a.ID, b.ID}
	for i, img := range images {
		if img.ID != wantOrder[i] {
			t.Errorf("position %d = %s, want %s", i, img.ID, wantOrder[i])
		}
	}
}

func TestSingletonProjectTagConstraint(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	img := newStaged(t, db, "user-1")

	first, err := db.FindOrCreateTag(ctx, "Summer Wedding", TagProject)
	if err != nil {
		t.Fatalf("FindOrCreateTag failed: %v", err)
	}
	if err := db.AttachTagToStaged(ctx, img.ID, first.ID); err != nil {
		t.Fatalf("first attach failed: %v", err)
	}

	second, err := db.FindOrCreateTag(ctx, "Winter Shoot", TagProject)
	if err != nil {
		t.Fatalf("FindOrCreateTag failed: %v", err)
	}

	err = db.AttachTagToStaged(ctx, img.ID, second.ID)
	var limitErr *TagLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("error = %v, want TagLimitError", err)
	}
	if limitErr.Name != "Winter Shoot" {
		t.Errorf("TagLimitError.Name = %s, want the offending tag name", limitErr.Name)
	}

	// The first tag must remain attached, unmodified.
	tags, err := db.TagsForStaged(ctx, img.ID)
	if err != nil {
		t.Fatalf("TagsForStaged failed: %v", err)
	}
	if len(tags) != 1 || tags[0].ID != first.ID || tags[0].Name != "Summer Wedding" {
		t.Errorf("tags after rejected attach = %+v, want only the first project tag", tags)
	}
}

func TestNormalTagsUnbounded(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	img := newStaged(t, db, "user-1")

	for _, name := range []string{"portrait", "landscape", "keeper"} {
		tag, err := db.FindOrCreateTag(ctx, name, TagNormal)
		if err != nil {
			t.Fatalf("FindOrCreateTag(%s) failed: %v", name, err)
		}
		if err := db.AttachTagToStaged(ctx, img.ID, tag.ID); err != nil {
			t.Fatalf("attach %s failed: %v", name, err)
		}
	}

	tags, _ := db.TagsForStaged(ctx, img.ID)
	if len(tags) != 3 {
		t.Errorf("got %d normal tags, want 3", len(tags))
	}
}

func TestFindOrCreateTagBySlugKindPair(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := db.FindOrCreateTag(ctx, "Summer Wedding", TagNormal)
	if err != nil {
		t.Fatal(err)
	}
	b, err := db.FindOrCreateTag(ctx, "summer wedding", TagNormal)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Error("same slug and kind should resolve to the same tag")
	}

	// Same slug under a different kind is a distinct tag.
	c, err := db.FindOrCreateTag(ctx, "Summer Wedding", TagProject)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID == a.ID {
		t.Error("same slug with different kind should be a distinct tag")
	}
}

func TestDeleteStagedImageReturnsRecord(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	img := newStaged(t, db, "user-1")

	got, err := db.DeleteStagedImage(ctx, img.ID)
	if err != nil {
		t.Fatalf("DeleteStagedImage failed: %v", err)
	}
	if got.SourcePath != img.SourcePath {
		t.Errorf("returned SourcePath = %s, want %s", got.SourcePath, img.SourcePath)
	}

	if _, err := db.GetStagedImage(ctx, img.ID); !errors.Is(err, ErrStagedImageNotFound) {
		t.Error("record should be gone after delete")
	}
}

func TestListAbandoned(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	img := newStaged(t, db, "user-1")

	// Nothing is older than an hour ago.
	old, err := db.ListAbandoned(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListAbandoned failed: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("got %d abandoned, want 0", len(old))
	}

	// Everything is older than a future cutoff.
	old, err = db.ListAbandoned(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListAbandoned failed: %v", err)
	}
	if len(old) != 1 || old[0].ID != img.ID {
		t.Errorf("expected the staged image to be listed as abandoned")
	}
}

func TestListByPreviewStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	pending := newStaged(t, db, "user-1")
	processing := newStaged(t, db, "user-1")
	finished := newStaged(t, db, "user-1")

	if _, err := db.ClaimPreview(ctx, processing.ID); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPreviewReady(ctx, finished.ID, "/p.jpg", "/t.jpg", 2048); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListByPreviewStatus(ctx, PreviewPending, PreviewProcessing)
	if err != nil {
		t.Fatalf("ListByPreviewStatus failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2 unfinished", len(got))
	}
	for _, img := range got {
		if img.ID == finished.ID {
			t.Error("ready record should not be listed as unfinished")
		}
	}
	if got[0].ID != pending.ID && got[1].ID != pending.ID {
		t.Error("pending record missing from the unfinished list")
	}
}

func TestCreateAndGetPermanentImage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	lat := -33.8568
	taken := time.Date(2025, 10, 23, 12, 21, 28, 0, time.UTC)
	img := &PermanentImage{
		ID:               uuid.NewString(),
		OwnerID:          "user-1",
		StorageKey:       "2025/10/0007-IMG_0001.cr2",
		Disk:             "local",
		ByteSize:         123456,
		OriginalFilename: "IMG_0001.CR2",
		CameraMake:       "Canon",
		CameraModel:      "EOS R5",
		ISO:              400,
		FStop:            7.1,
		ShutterSpeed:     0.004,
		GPSLatitude:      &lat,
		DateTaken:        &taken,
		RawMetadata:      map[string]interface{}{"Make": "Canon"},
		AssociationType:  "shoot",
		AssociationID:    "shoot-9",
	}
	if err := db.CreatePermanentImage(ctx, img); err != nil {
		t.Fatalf("CreatePermanentImage failed: %v", err)
	}

	got, err := db.GetPermanentImage(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetPermanentImage failed: %v", err)
	}
	if got.StorageKey != img.StorageKey || got.CameraMake != "Canon" || got.ISO != 400 {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.GPSLatitude == nil || *got.GPSLatitude != lat {
		t.Error("GPS latitude not preserved")
	}
	if got.DateTaken == nil || !got.DateTaken.Equal(taken) {
		t.Error("date taken not preserved")
	}
	if got.AssociationType != "shoot" || got.AssociationID != "shoot-9" {
		t.Error("association not preserved")
	}
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := newStaged(t, db, "user-1")
	newStaged(t, db, "user-1")
	if _, err := db.ClaimPreview(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 || stats.Processing != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
