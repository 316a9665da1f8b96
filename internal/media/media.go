// Package media holds the Media entity and its enumerations. The document
// shape mirrors the `media` mongo collection.
package media

import "time"

type Type string

const (
	TypeImage Type = "IMAGE"
	TypeVideo Type = "VIDEO"
	TypeZip   Type = "ZIP"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRejected  Status = "REJECTED"
)

type Visibility string

const (
	VisibilityPublic      Visibility = "PUBLIC"
	VisibilityFriendsOnly Visibility = "FRIENDS_ONLY"
	VisibilityPrivate     Visibility = "PRIVATE"
)

// Technical carries the type-specific metadata filled in by processing.
// Image and video fields share one sub-document; unused fields stay zero.
type Technical struct {
	Width     int     `bson:"width,omitempty" json:"width,omitempty"`
	Height    int     `bson:"height,omitempty" json:"height,omitempty"`
	Duration  float64 `bson:"duration,omitempty" json:"duration,omitempty"`
	Codec     string  `bson:"codec,omitempty" json:"codec,omitempty"`
	Bitrate   int     `bson:"bitrate,omitempty" json:"bitrate,omitempty"`
	Framerate float64 `bson:"framerate,omitempty" json:"framerate,omitempty"`
}

// IsZero reports whether no technical field has been populated yet.
func (t Technical) IsZero() bool { return t == Technical{} }

// ZipOptions are captured at intake time and consulted when the archive
// worker reports its extracted entries.
type ZipOptions struct {
	PreserveStructure bool   `bson:"preserve_structure" json:"preserveStructure"`
	MaxFileSize       int64  `bson:"max_file_size,omitempty" json:"maxFileSize,omitempty"`
	AllowedTypes      []Type `bson:"allowed_types,omitempty" json:"allowedTypes,omitempty"`
	// ChildVisibility applies to extracted items; empty means inherit the
	// parent zip's visibility.
	ChildVisibility Visibility `bson:"child_visibility,omitempty" json:"childVisibility,omitempty"`
}

// Allows reports whether the given classification may be extracted.
// An empty allow list permits everything.
func (o ZipOptions) Allows(t Type) bool {
	if len(o.AllowedTypes) == 0 {
		return true
	}
	for _, a := range o.AllowedTypes {
		if a == t {
			return true
		}
	}
	return false
}

type Media struct {
	ID       string `bson:"_id" json:"id"`
	AuthorID string `bson:"author_id" json:"authorId"`

	MediaType Type       `bson:"media_type" json:"mediaType"`
	Status    Status     `bson:"processing_status" json:"processingStatus"`
	Visible   Visibility `bson:"visibility" json:"visibility"`

	// Storage pointers. StorageKey holds the original bytes; derived keys
	// stay empty until processing populates them.
	StorageKey    string `bson:"storage_key" json:"storageKey"`
	ThumbnailKey  string `bson:"thumbnail_key,omitempty" json:"thumbnailKey,omitempty"`
	TranscodedKey string `bson:"transcoded_key,omitempty" json:"transcodedKey,omitempty"`

	Filename    string   `bson:"filename" json:"filename"`
	AltText     string   `bson:"alt_text,omitempty" json:"altText,omitempty"`
	Caption     string   `bson:"caption,omitempty" json:"caption,omitempty"`
	Tags        []string `bson:"tags,omitempty" json:"tags,omitempty"`
	Size        int64    `bson:"size" json:"size"`
	ContentType string   `bson:"content_type" json:"contentType"`

	Technical Technical `bson:"technical,omitempty" json:"technical,omitempty"`

	// Organization. Gallery membership is exclusive: at most one gallery.
	GalleryID string `bson:"gallery_id,omitempty" json:"galleryId,omitempty"`
	PostID    string `bson:"post_id,omitempty" json:"postId,omitempty"`
	MessageID string `bson:"message_id,omitempty" json:"messageId,omitempty"`
	Position  int    `bson:"position,omitempty" json:"position,omitempty"`

	// OriginID links a zip-derived item back to the producing archive.
	OriginID string `bson:"origin_id,omitempty" json:"originId,omitempty"`

	ZipOptions *ZipOptions `bson:"zip_options,omitempty" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// Reprocessable reports whether the reprocess transition is legal from the
// current status. Only terminal failure states qualify.
func (m *Media) Reprocessable() bool {
	return m.Status == StatusFailed || m.Status == StatusRejected
}
