package uploads

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/apperr"
	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/metrics"
	"github.com/suffus/reedi-media-service/internal/repository"
	"github.com/suffus/reedi-media-service/internal/storage"
)

// Dispatcher submits a processing job for a freshly created media record.
// Implementations never return an error to the upload path; a failed or
// impossible dispatch leaves the record PENDING.
type Dispatcher interface {
	Dispatch(ctx context.Context, m *media.Media)
}

// Request carries the descriptive metadata common to both upload paths.
type Request struct {
	Filename    string            `json:"filename"`
	ContentType string            `json:"contentType"`
	AltText     string            `json:"altText"`
	Caption     string            `json:"caption"`
	Tags        []string          `json:"tags"`
	Visibility  media.Visibility  `json:"visibility"`
	GalleryID   string            `json:"galleryId"`
	PostID      string            `json:"postId"`
	MessageID   string            `json:"messageId"`
	Position    int               `json:"position"`
	ZipOptions  *media.ZipOptions `json:"zipOptions"`
}

// Intake is the convergence point of the single-shot and chunked paths.
type Intake struct {
	repo       repository.MediaStore
	links      repository.LinkStore
	blobs      storage.BlobStore
	dispatcher Dispatcher
	maxBytes   int64
	log        *zap.SugaredLogger
}

func NewIntake(repo repository.MediaStore, links repository.LinkStore, blobs storage.BlobStore, d Dispatcher, maxBytes int64, log *zap.SugaredLogger) *Intake {
	return &Intake{repo: repo, links: links, blobs: blobs, dispatcher: d, maxBytes: maxBytes, log: log}
}

// SingleShot stores the full payload, creates the PENDING record, and
// dispatches processing. The hard byte ceiling is enforced here as well as
// at the HTTP body limit.
func (i *Intake) SingleShot(ctx context.Context, ownerID string, req Request, data []byte) (*media.Media, error) {
	if req.Filename == "" {
		return nil, fmt.Errorf("%w: filename is required", apperr.ErrValidation)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", apperr.ErrValidation)
	}
	if int64(len(data)) > i.maxBytes {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", apperr.ErrValidation, i.maxBytes)
	}
	mediaType, err := media.Classify(req.ContentType)
	if err != nil {
		return nil, err
	}
	key := objectKey(ownerID, req.Filename)
	if err := i.blobs.Put(ctx, key, req.ContentType, data); err != nil {
		return nil, fmt.Errorf("%w: store payload: %v", apperr.ErrDependencyUnavailable, err)
	}
	return i.finalize(ctx, ownerID, mediaType, key, int64(len(data)), req)
}

// FinalizeChunked creates the record for a blob already assembled by the
// multipart coordinator. The session supplies the storage facts; req
// supplies the same descriptive metadata a single-shot caller would.
func (i *Intake) FinalizeChunked(ctx context.Context, sess *Session, req Request) (*media.Media, error) {
	if req.Filename == "" {
		req.Filename = sess.Filename
	}
	if req.ContentType == "" {
		req.ContentType = sess.ContentType
	}
	mediaType, err := media.Classify(req.ContentType)
	if err != nil {
		return nil, err
	}
	return i.finalize(ctx, sess.OwnerID, mediaType, sess.Key, sess.DeclaredSize, req)
}

func (i *Intake) finalize(ctx context.Context, ownerID string, mediaType media.Type, key string, size int64, req Request) (*media.Media, error) {
	visibility := req.Visibility
	if visibility == "" {
		visibility = media.VisibilityPrivate
	}
	m := &media.Media{
		ID:          uuid.NewString(),
		AuthorID:    ownerID,
		MediaType:   mediaType,
		Status:      media.StatusPending,
		Visible:     visibility,
		StorageKey:  key,
		Filename:    req.Filename,
		AltText:     req.AltText,
		Caption:     req.Caption,
		Tags:        req.Tags,
		Size:        size,
		ContentType: req.ContentType,
		GalleryID:   req.GalleryID,
		PostID:      req.PostID,
		MessageID:   req.MessageID,
		Position:    req.Position,
		ZipOptions:  req.ZipOptions,
	}
	if err := i.repo.Insert(ctx, m); err != nil {
		return nil, err
	}
	if err := i.saveLinks(ctx, m); err != nil {
		i.log.Warnw("save media links", "media_id", m.ID, "err", err)
	}
	metrics.UploadsTotal.WithLabelValues(string(mediaType)).Inc()

	// Fire-and-forget: the bytes are durable, dispatch failure only delays
	// processing.
	i.dispatcher.Dispatch(ctx, m)
	return m, nil
}

func (i *Intake) saveLinks(ctx context.Context, m *media.Media) error {
	if m.GalleryID != "" {
		if err := i.links.SetParent(ctx, repository.Link{MediaID: m.ID, ParentType: repository.ParentGallery, ParentID: m.GalleryID, Position: m.Position}); err != nil {
			return err
		}
	}
	if m.PostID != "" {
		if err := i.links.SetParent(ctx, repository.Link{MediaID: m.ID, ParentType: repository.ParentPost, ParentID: m.PostID, Position: m.Position}); err != nil {
			return err
		}
	}
	if m.MessageID != "" {
		if err := i.links.SetParent(ctx, repository.Link{MediaID: m.ID, ParentType: repository.ParentMessage, ParentID: m.MessageID}); err != nil {
			return err
		}
	}
	return nil
}
