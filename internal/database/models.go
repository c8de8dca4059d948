package database

import (
	"fmt"
	"time"
)

// PreviewStatus tracks preview generation for a staged image.
// Transitions are pending -> processing -> ready|failed only.
type PreviewStatus string

const (
	PreviewPending    PreviewStatus = "pending"
	PreviewProcessing PreviewStatus = "processing"
	PreviewReady      PreviewStatus = "ready"
	PreviewFailed     PreviewStatus = "failed"
)

// EnhancementStatus tracks on-demand preview enhancement.
type EnhancementStatus string

const (
	EnhancementNone       EnhancementStatus = "none"
	EnhancementRequested  EnhancementStatus = "requested"
	EnhancementProcessing EnhancementStatus = "processing"
	EnhancementReady      EnhancementStatus = "ready"
	EnhancementFailed     EnhancementStatus = "failed"
)

// TagKind partitions tags. A staged image holds at most one project tag
// and at most one filename tag; normal tags are unbounded.
type TagKind string

const (
	TagNormal   TagKind = "normal"
	TagProject  TagKind = "project"
	TagFilename TagKind = "filename"
)

// ValidTagKind reports whether k is a known tag kind.
func ValidTagKind(k TagKind) bool {
	switch k {
	case TagNormal, TagProject, TagFilename:
		return true
	}
	return false
}

// StagedImage is the mutable record for one uploaded file that has not yet
// been committed to permanent storage.
type StagedImage struct {
	ID               string                 `json:"id"`
	OwnerID          string                 `json:"ownerId"`
	OriginalFilename string                 `json:"originalFilename"`
	SourcePath       string                 `json:"-"`
	ThumbnailPath    string                 `json:"-"`
	PreviewPath      string                 `json:"-"`
	ThumbnailURL     *string                `json:"thumbnailUrl"`
	PreviewURL       *string                `json:"previewUrl"`
	PreviewStatus    PreviewStatus          `json:"previewStatus"`
	PreviewError     string                 `json:"previewError,omitempty"`
	EnhanceStatus    EnhancementStatus      `json:"enhanceStatus"`
	PreviewWidth     int                    `json:"previewWidth,omitempty"`
	Culled           bool                   `json:"culled"`
	Starred          bool                   `json:"starred"`
	Rating           int                    `json:"rating"`
	Rotation         int                    `json:"rotation"`
	OrderIndex       int                    `json:"orderIndex"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	RawMetadata      map[string]interface{} `json:"-"`
	ExtractionMethod string                 `json:"extractionMethod"`
	ExtractionError  string                 `json:"extractionError,omitempty"`
	Tags             []Tag                  `json:"tags,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

// Tag is found-or-created by its (slug, kind) pair.
type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Kind      TagKind   `json:"kind"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PermanentImage is the committed artifact. Immutable after creation except
// for tag associations.
type PermanentImage struct {
	ID                  string                 `json:"id"`
	OwnerID             string                 `json:"ownerId"`
	StorageKey          string                 `json:"storageKey"`
	Disk                string                 `json:"disk"`
	ByteSize            int64                  `json:"byteSize"`
	OriginalFilename    string                 `json:"originalFilename"`
	CameraMake          string                 `json:"cameraMake,omitempty"`
	CameraModel         string                 `json:"cameraModel,omitempty"`
	ISO                 int                    `json:"iso,omitempty"`
	FStop               float64                `json:"fStop,omitempty"`
	ShutterSpeed        float64                `json:"shutterSpeed,omitempty"`
	ShutterSpeedDisplay string                 `json:"shutterSpeedDisplay,omitempty"`
	FocalLength         float64                `json:"focalLength,omitempty"`
	GPSLatitude         *float64               `json:"gpsLatitude,omitempty"`
	GPSLongitude        *float64               `json:"gpsLongitude,omitempty"`
	DateTaken           *time.Time             `json:"dateTaken,omitempty"`
	RawMetadata         map[string]interface{} `json:"-"`
	AssociationType     string                 `json:"associationType,omitempty"`
	AssociationID       string                 `json:"associationId,omitempty"`
	CreatedAt           time.Time              `json:"createdAt"`
}

// TagLimitError reports an attempt to attach a second singleton-kind tag.
type TagLimitError struct {
	Kind TagKind
	Name string
}

func (e *TagLimitError) Error() string {
	return fmt.Sprintf("a %s tag is already attached; cannot attach %q", e.Kind, e.Name)
}

// StagingStats summarizes the staging table for the stats endpoint.
type StagingStats struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Processing   int `json:"processing"`
	Ready        int `json:"ready"`
	Failed       int `json:"failed"`
	Culled       int `json:"culled"`
	TotalTags    int `json:"totalTags"`
	TotalCommits int `json:"totalCommits"`
}
