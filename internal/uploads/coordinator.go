package uploads

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/apperr"
	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/storage"
)

// CoordinatorConfig carries the chunking parameters handed to clients at
// initiate time.
type CoordinatorConfig struct {
	ChunkSize      int64
	MaxConcurrency int
}

// Coordinator drives the resumable upload protocol against the blob store.
// Atomicity is delegated to the store; the coordinator's own job is session
// bookkeeping and part validation at completion time.
type Coordinator struct {
	blobs    storage.BlobStore
	sessions SessionStore
	cfg      CoordinatorConfig
	log      *zap.SugaredLogger
}

func NewCoordinator(blobs storage.BlobStore, sessions SessionStore, cfg CoordinatorConfig, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{blobs: blobs, sessions: sessions, cfg: cfg, log: log}
}

type InitiateResult struct {
	UploadID       string `json:"uploadId"`
	Key            string `json:"key"`
	ChunkSize      int64  `json:"chunkSize"`
	MaxConcurrency int    `json:"maxConcurrentChunks"`
}

// objectKey derives the blob key from the owner and a timestamp component so
// concurrent uploads of the same filename never collide.
func objectKey(ownerID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	return fmt.Sprintf("%s/%d_%s", ownerID, time.Now().UnixNano(), base)
}

func (c *Coordinator) Initiate(ctx context.Context, ownerID, filename, contentType string, declaredSize int64, metadata map[string]string) (*InitiateResult, error) {
	if filename == "" || contentType == "" || declaredSize <= 0 {
		return nil, fmt.Errorf("%w: filename, contentType and size are required", apperr.ErrValidation)
	}
	// Reject unsupported types before any bytes move; completion classifies
	// again in case the declared type was corrected along the way.
	if _, err := media.Classify(contentType); err != nil {
		return nil, err
	}
	key := objectKey(ownerID, filename)
	uploadID, err := c.blobs.InitiateMultipart(ctx, key, contentType, metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: initiate multipart: %v", apperr.ErrDependencyUnavailable, err)
	}
	sess := &Session{
		UploadID:     uploadID,
		Key:          key,
		OwnerID:      ownerID,
		Filename:     filename,
		ContentType:  contentType,
		DeclaredSize: declaredSize,
		Parts:        make(map[int32]string),
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.sessions.Put(ctx, sess); err != nil {
		_ = c.blobs.AbortMultipart(ctx, key, uploadID)
		return nil, err
	}
	c.log.Infow("multipart upload initiated", "upload_id", uploadID, "key", key, "owner", ownerID)
	return &InitiateResult{
		UploadID:       uploadID,
		Key:            key,
		ChunkSize:      c.cfg.ChunkSize,
		MaxConcurrency: c.cfg.MaxConcurrency,
	}, nil
}

// claim verifies that callerID initiated the session and that key matches.
// Every mutation of a session goes through this before touching the blob
// store; only the initiator may add parts, complete, or abort.
func (c *Coordinator) claim(ctx context.Context, callerID, key, uploadID string) (*Session, error) {
	sess, err := c.sessions.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if sess.Key != key {
		return nil, apperr.ErrUploadSession
	}
	if sess.OwnerID != callerID {
		return nil, apperr.Denied("not your upload session")
	}
	return sess, nil
}

// UploadPart stores one chunk. Re-sending the same part number with the same
// bytes is a safe retry; the store returns the same eTag and the session
// record is simply overwritten.
func (c *Coordinator) UploadPart(ctx context.Context, callerID, key, uploadID string, partNumber int32, data []byte) (string, error) {
	if partNumber < 1 {
		return "", fmt.Errorf("%w: part numbers start at 1", apperr.ErrValidation)
	}
	if _, err := c.claim(ctx, callerID, key, uploadID); err != nil {
		return "", err
	}
	eTag, err := c.blobs.UploadPart(ctx, key, uploadID, partNumber, data)
	if err != nil {
		return "", fmt.Errorf("%w: upload part %d: %v", apperr.ErrDependencyUnavailable, partNumber, err)
	}
	if err := c.sessions.SavePart(ctx, uploadID, partNumber, eTag); err != nil {
		return "", err
	}
	return eTag, nil
}

// Complete validates the supplied part list against what the session has
// acknowledged, finalizes the blob, and retires the session. The list must
// be non-empty, strictly ascending, and cover every acknowledged part.
func (c *Coordinator) Complete(ctx context.Context, callerID, key, uploadID string, parts []storage.Part) (*Session, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty part list", apperr.ErrValidation)
	}
	sess, err := c.claim(ctx, callerID, key, uploadID)
	if err != nil {
		return nil, err
	}

	supplied := make(map[int32]string, len(parts))
	last := int32(0)
	for _, p := range parts {
		if p.PartNumber <= last {
			return nil, fmt.Errorf("%w: parts must be in ascending order", apperr.ErrValidation)
		}
		last = p.PartNumber
		recorded, ok := sess.Parts[p.PartNumber]
		if !ok {
			return nil, fmt.Errorf("%w: part %d was never uploaded", apperr.ErrIncompleteParts, p.PartNumber)
		}
		if recorded != p.ETag {
			return nil, fmt.Errorf("%w: part %d", apperr.ErrChecksumMismatch, p.PartNumber)
		}
		supplied[p.PartNumber] = p.ETag
	}
	for n := range sess.Parts {
		if _, ok := supplied[n]; !ok {
			return nil, fmt.Errorf("%w: acknowledged part %d missing from completion", apperr.ErrIncompleteParts, n)
		}
	}

	if err := c.blobs.CompleteMultipart(ctx, key, uploadID, parts); err != nil {
		return nil, fmt.Errorf("%w: complete multipart: %v", apperr.ErrDependencyUnavailable, err)
	}
	if err := c.sessions.Delete(ctx, uploadID); err != nil {
		c.log.Warnw("retire upload session", "upload_id", uploadID, "err", err)
	}
	c.log.Infow("multipart upload completed", "upload_id", uploadID, "key", key, "parts", len(parts))
	return sess, nil
}

// Abort tears the session down. Safe to call after the session is already
// gone; an unknown uploadID is a no-op, but aborting someone else's live
// session is refused.
func (c *Coordinator) Abort(ctx context.Context, callerID, key, uploadID string) error {
	sess, err := c.claim(ctx, callerID, key, uploadID)
	if err != nil {
		if errors.Is(err, apperr.ErrPermissionDenied) {
			return err
		}
		return nil
	}
	if err := c.blobs.AbortMultipart(ctx, sess.Key, uploadID); err != nil {
		c.log.Warnw("abort multipart", "upload_id", uploadID, "err", err)
	}
	return c.sessions.Delete(ctx, uploadID)
}
