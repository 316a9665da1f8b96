// Package service implements the caller-facing media operations on top of
// the repositories, the permission filter and the blob store. Handlers stay
// thin; everything authorization-sensitive happens here.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/apperr"
	"github.com/suffus/reedi-media-service/internal/cache"
	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/permissions"
	"github.com/suffus/reedi-media-service/internal/repository"
	"github.com/suffus/reedi-media-service/internal/storage"
)

type MediaService struct {
	repo       repository.MediaStore
	links      repository.LinkStore
	blobs      storage.BlobStore
	perms      *permissions.Filter
	urls       cache.Cache // nil disables presign caching
	presignTTL time.Duration
	log        *zap.SugaredLogger
}

func NewMediaService(repo repository.MediaStore, links repository.LinkStore, blobs storage.BlobStore, perms *permissions.Filter, urls cache.Cache, presignTTL time.Duration, log *zap.SugaredLogger) *MediaService {
	return &MediaService{
		repo:       repo,
		links:      links,
		blobs:      blobs,
		perms:      perms,
		urls:       urls,
		presignTTL: presignTTL,
		log:        log,
	}
}

// Get returns the media if the viewer may read it.
func (s *MediaService) Get(ctx context.Context, viewerID, id string) (*media.Media, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dec := s.perms.CanRead(ctx, viewerID, m); !dec.Granted {
		return nil, apperr.Denied(dec.Reason)
	}
	return m, nil
}

// UpdateRequest carries the owner-mutable fields. Nil pointers leave a
// field untouched; MergeTags selects merge-vs-replace tag semantics.
type UpdateRequest struct {
	AltText    *string           `json:"altText"`
	Caption    *string           `json:"caption"`
	Visibility *media.Visibility `json:"visibility"`
	Tags       []string          `json:"tags"`
	MergeTags  bool              `json:"mergeTags"`
	GalleryID  *string           `json:"galleryId"`
	PostID     *string           `json:"postId"`
	MessageID  *string           `json:"messageId"`
	Position   *int              `json:"position"`
}

func validVisibility(v media.Visibility) bool {
	switch v {
	case media.VisibilityPublic, media.VisibilityFriendsOnly, media.VisibilityPrivate:
		return true
	}
	return false
}

func (s *MediaService) Update(ctx context.Context, actorID, id string, req UpdateRequest) (*media.Media, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dec := s.perms.CanUpdate(ctx, actorID, m); !dec.Granted {
		return nil, apperr.Denied(dec.Reason)
	}
	if err := s.apply(ctx, m, req); err != nil {
		return nil, err
	}
	if err := s.repo.Replace(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MediaService) apply(ctx context.Context, m *media.Media, req UpdateRequest) error {
	if req.AltText != nil {
		m.AltText = *req.AltText
	}
	if req.Caption != nil {
		m.Caption = *req.Caption
	}
	if req.Visibility != nil {
		if !validVisibility(*req.Visibility) {
			return fmt.Errorf("%w: unknown visibility %q", apperr.ErrValidation, *req.Visibility)
		}
		m.Visible = *req.Visibility
	}
	if req.Tags != nil {
		if req.MergeTags {
			m.Tags = mergeTags(m.Tags, req.Tags)
		} else {
			m.Tags = dedupe(req.Tags)
		}
	}
	if req.Position != nil {
		m.Position = *req.Position
	}
	if req.GalleryID != nil {
		if err := s.setParent(ctx, m, repository.ParentGallery, *req.GalleryID, &m.GalleryID); err != nil {
			return err
		}
	}
	if req.PostID != nil {
		if err := s.setParent(ctx, m, repository.ParentPost, *req.PostID, &m.PostID); err != nil {
			return err
		}
	}
	if req.MessageID != nil {
		if err := s.setParent(ctx, m, repository.ParentMessage, *req.MessageID, &m.MessageID); err != nil {
			return err
		}
	}
	return nil
}

// setParent keeps the link rows aligned with the document fields. An empty
// parent id detaches; gallery membership stays exclusive because SetParent
// replaces any prior link of the same kind.
func (s *MediaService) setParent(ctx context.Context, m *media.Media, parentType, parentID string, field *string) error {
	*field = parentID
	if parentID == "" {
		return s.links.RemoveParent(ctx, m.ID, parentType)
	}
	return s.links.SetParent(ctx, repository.Link{
		MediaID:    m.ID,
		ParentType: parentType,
		ParentID:   parentID,
		Position:   m.Position,
	})
}

func mergeTags(existing, added []string) []string {
	return dedupe(append(append([]string{}, existing...), added...))
}

func dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Delete removes the media: association links first, then zip children are
// detached, then the record itself, and finally best-effort blob cleanup.
// Blob failures are logged only; the record deletion has already won.
func (s *MediaService) Delete(ctx context.Context, actorID, id string) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if dec := s.perms.CanDelete(ctx, actorID, m); !dec.Granted {
		return apperr.Denied(dec.Reason)
	}
	if err := s.links.RemoveAll(ctx, id); err != nil {
		return err
	}
	if m.MediaType == media.TypeZip {
		if err := s.repo.DetachChildren(ctx, id); err != nil {
			return err
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	for _, key := range []string{m.StorageKey, m.ThumbnailKey, m.TranscodedKey} {
		if key == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.log.Warnw("orphaned blob left for out-of-band cleanup", "media_id", id, "key", key, "err", err)
		}
	}
	return nil
}

// BulkUpdate applies one update to many items, all-or-nothing: every id must
// exist and be writable by the actor before any record is touched.
func (s *MediaService) BulkUpdate(ctx context.Context, actorID string, ids []string, req UpdateRequest) ([]*media.Media, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty id list", apperr.ErrValidation)
	}
	items, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*media.Media, len(items))
	for _, m := range items {
		byID[m.ID] = m
	}
	ordered := make([]*media.Media, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: media %s", apperr.ErrNotFound, id)
		}
		ordered = append(ordered, m)
	}
	for _, m := range ordered {
		if dec := s.perms.CanUpdate(ctx, actorID, m); !dec.Granted {
			return nil, apperr.Denied(dec.Reason)
		}
	}
	for _, m := range ordered {
		if err := s.apply(ctx, m, req); err != nil {
			return nil, err
		}
		if err := s.repo.Replace(ctx, m); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// Page is one slice of a filtered listing. Totals reflect the viewer-visible
// set, never the author's full count.
type Page struct {
	Items      []*media.Media `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"totalPages"`
}

// ListByAuthor returns the viewer-visible media of one author. Visibility
// filtering runs over the full result set before the page is sliced, so
// page boundaries never leak hidden items.
func (s *MediaService) ListByAuthor(ctx context.Context, viewerID, authorID string, f repository.ListFilter, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	all, err := s.repo.ListByAuthor(ctx, authorID, f)
	if err != nil {
		return nil, err
	}
	visible := s.perms.FilterReadable(ctx, viewerID, all)

	total := len(visible)
	totalPages := (total + limit - 1) / limit
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return &Page{
		Items:      visible[start:end],
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

// DownloadURL presigns a GET for the requested variant, caching the result
// for a little less than the presign TTL.
func (s *MediaService) DownloadURL(ctx context.Context, viewerID, id, variant string) (string, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if dec := s.perms.CanRead(ctx, viewerID, m); !dec.Granted {
		return "", apperr.Denied(dec.Reason)
	}
	key := m.StorageKey
	switch variant {
	case "", "original":
	case "thumbnail":
		if m.ThumbnailKey == "" {
			return "", fmt.Errorf("%w: no thumbnail", apperr.ErrNotFound)
		}
		key = m.ThumbnailKey
	case "transcoded":
		if m.TranscodedKey == "" {
			return "", fmt.Errorf("%w: no transcoded variant", apperr.ErrNotFound)
		}
		key = m.TranscodedKey
	default:
		return "", fmt.Errorf("%w: unknown variant %q", apperr.ErrValidation, variant)
	}

	if s.urls != nil {
		if url, ok, err := s.urls.Get(ctx, key); err == nil && ok {
			return url, nil
		}
	}
	url, err := s.blobs.PresignGet(ctx, key, s.presignTTL)
	if err != nil {
		return "", fmt.Errorf("%w: presign: %v", apperr.ErrDependencyUnavailable, err)
	}
	if s.urls != nil {
		ttl := s.presignTTL - 30*time.Second
		if ttl > 0 {
			if err := s.urls.Set(ctx, key, url, ttl); err != nil {
				s.log.Debugw("presign cache set", "key", key, "err", err)
			}
		}
	}
	return url, nil
}
