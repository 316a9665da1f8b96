// Package processing owns the media state machine: job dispatch to the
// type-specific workers, the asynchronous completion callbacks that move a
// record out of PENDING, and the zip expansion sub-flow.
package processing

import (
	"context"
	"time"

	"github.com/suffus/reedi-media-service/internal/media"
)

// ProgressOptions asks a worker to emit periodic progress events for the
// owner's websocket stream.
type ProgressOptions struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"intervalSeconds,omitempty"`
}

// Job is the submission payload handed to a worker.
type Job struct {
	MediaID     string          `json:"media_id"`
	OwnerID     string          `json:"owner_id"`
	BlobKey     string          `json:"blob_key"`
	Filename    string          `json:"filename"`
	ContentType string          `json:"content_type"`
	Size        int64           `json:"size"`
	Progress    ProgressOptions `json:"progress"`
}

type JobHandle struct {
	ID          string    `json:"id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Worker submits a job to an out-of-process processor. Submission must be
// quick; the actual work completes through the callback path.
type Worker interface {
	Submit(ctx context.Context, job Job) (JobHandle, error)
}

// DerivedEntry describes one item a zip worker extracted. The worker has
// already written the bytes to BlobKey.
type DerivedEntry struct {
	BlobKey      string          `json:"blob_key"`
	Filename     string          `json:"filename"`
	ContentType  string          `json:"content_type"`
	Size         int64           `json:"size"`
	Technical    media.Technical `json:"technical,omitempty"`
	ThumbnailKey string          `json:"thumbnail_key,omitempty"`
}

// Result is the success payload of a completion callback.
type Result struct {
	MediaID       string          `json:"media_id"`
	Technical     media.Technical `json:"technical,omitempty"`
	ThumbnailKey  string          `json:"thumbnail_key,omitempty"`
	TranscodedKey string          `json:"transcoded_key,omitempty"`
	Entries       []DerivedEntry  `json:"entries,omitempty"`
}
