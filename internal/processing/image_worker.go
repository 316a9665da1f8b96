package processing

import (
	"bytes"
	"context"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/storage"
)

// ImageWorker is the embedded development-mode image processor, used when no
// broker is configured. It decodes the original, records its dimensions, and
// writes a thumbnail, reporting back through the same callback path an
// external worker would use.
type ImageWorker struct {
	blobs      storage.BlobStore
	dispatcher *Dispatcher
	log        *zap.SugaredLogger
}

func NewImageWorker(blobs storage.BlobStore, d *Dispatcher, log *zap.SugaredLogger) *ImageWorker {
	return &ImageWorker{blobs: blobs, dispatcher: d, log: log}
}

func (w *ImageWorker) Submit(ctx context.Context, job Job) (JobHandle, error) {
	go w.process(job)
	return JobHandle{ID: uuid.NewString(), SubmittedAt: time.Now().UTC()}, nil
}

func (w *ImageWorker) process(job Job) {
	// Detached from the request context; the upload has already returned.
	ctx := context.Background()

	data, err := w.blobs.Get(ctx, job.BlobKey)
	if err != nil {
		w.log.Warnw("image worker: fetch original", "media_id", job.MediaID, "err", err)
		_ = w.dispatcher.HandleFailed(ctx, job.MediaID, "could not fetch original")
		return
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		_ = w.dispatcher.HandleRejected(ctx, job.MediaID, "undecodable image")
		return
	}

	thumb := imaging.Resize(img, 320, 0, imaging.Lanczos)
	var buf bytes.Buffer
	thumbKey := ""
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err == nil {
		thumbKey = job.BlobKey + "_thumb.jpg"
		if err := w.blobs.Put(ctx, thumbKey, "image/jpeg", buf.Bytes()); err != nil {
			w.log.Warnw("image worker: store thumbnail", "media_id", job.MediaID, "err", err)
			thumbKey = ""
		}
	}

	bounds := img.Bounds()
	_ = w.dispatcher.HandleCompleted(ctx, Result{
		MediaID:      job.MediaID,
		Technical:    media.Technical{Width: bounds.Dx(), Height: bounds.Dy()},
		ThumbnailKey: thumbKey,
	})
}
