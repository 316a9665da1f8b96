package processing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/apperr"
	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/metrics"
	"github.com/suffus/reedi-media-service/internal/permissions"
	"github.com/suffus/reedi-media-service/internal/repository"
)

// StatusEvent is pushed to the owner's websocket stream on every state
// change and progress report.
type StatusEvent struct {
	MediaID  string       `json:"mediaId"`
	Status   media.Status `json:"status,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Progress int          `json:"progress,omitempty"`
}

// Notifier delivers status events to a user's open connections.
// Implementations must not block.
type Notifier interface {
	StatusChanged(userID string, ev StatusEvent)
}

// Dispatcher runs the processing state machine. Workers are an injected
// optional capability: a media type with no registered worker is a degraded
// mode, not an error, and the record simply stays PENDING.
type Dispatcher struct {
	repo     repository.MediaStore
	workers  map[media.Type]Worker
	perms    *permissions.Filter
	notifier Notifier
	progress ProgressOptions
	log      *zap.SugaredLogger
}

func NewDispatcher(repo repository.MediaStore, perms *permissions.Filter, notifier Notifier, progress ProgressOptions, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		workers:  make(map[media.Type]Worker),
		perms:    perms,
		notifier: notifier,
		progress: progress,
		log:      log,
	}
}

// Register installs the worker for a media type. Call before serving.
func (d *Dispatcher) Register(t media.Type, w Worker) {
	d.workers[t] = w
}

// Dispatch submits a processing job for m. Errors never propagate: the
// caller already holds a durable record and the bytes are stored, so a
// failed submission only delays processing.
func (d *Dispatcher) Dispatch(ctx context.Context, m *media.Media) {
	w, ok := d.workers[m.MediaType]
	if !ok {
		metrics.DispatchFailuresTotal.WithLabelValues(string(m.MediaType)).Inc()
		d.log.Warnw("no processing worker registered, media left pending",
			"media_id", m.ID, "media_type", m.MediaType)
		return
	}
	job := Job{
		MediaID:     m.ID,
		OwnerID:     m.AuthorID,
		BlobKey:     m.StorageKey,
		Filename:    m.Filename,
		ContentType: m.ContentType,
		Size:        m.Size,
		Progress:    d.progress,
	}
	handle, err := w.Submit(ctx, job)
	if err != nil {
		metrics.DispatchFailuresTotal.WithLabelValues(string(m.MediaType)).Inc()
		d.log.Errorw("processing dispatch failed, media left pending",
			"media_id", m.ID, "media_type", m.MediaType, "err", err)
		return
	}
	d.log.Infow("processing job submitted", "media_id", m.ID, "job_id", handle.ID)
}

// HandleCompleted applies a success callback. Duplicate deliveries and
// callbacks for media no longer PENDING are absorbed silently.
func (d *Dispatcher) HandleCompleted(ctx context.Context, res Result) error {
	m, err := d.repo.GetByID(ctx, res.MediaID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			d.log.Debugw("completion callback for unknown media", "media_id", res.MediaID)
			return nil
		}
		return err
	}
	if m.Status != media.StatusPending {
		d.log.Debugw("completion callback absorbed", "media_id", m.ID, "status", m.Status)
		return nil
	}

	target := media.StatusCompleted
	if m.MediaType == media.TypeZip {
		created := d.expandZip(ctx, m, res.Entries)
		if created == 0 {
			// Nothing usable came out of the archive.
			target = media.StatusRejected
		}
	}

	m.Status = target
	if target == media.StatusCompleted {
		m.Technical = res.Technical
		m.ThumbnailKey = res.ThumbnailKey
		m.TranscodedKey = res.TranscodedKey
	}
	if err := d.repo.ReplaceIfStatus(ctx, m, media.StatusPending); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			d.log.Debugw("completion lost status race", "media_id", m.ID)
			return nil
		}
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(string(target)).Inc()
	d.notify(m.AuthorID, StatusEvent{MediaID: m.ID, Status: target})
	return nil
}

// HandleFailed applies a recoverable-failure callback.
func (d *Dispatcher) HandleFailed(ctx context.Context, mediaID, reason string) error {
	return d.toTerminal(ctx, mediaID, media.StatusFailed, reason)
}

// HandleRejected marks the input fundamentally invalid. The transition is
// identical to FAILED; the distinction is carried to callers in the status.
func (d *Dispatcher) HandleRejected(ctx context.Context, mediaID, reason string) error {
	return d.toTerminal(ctx, mediaID, media.StatusRejected, reason)
}

func (d *Dispatcher) toTerminal(ctx context.Context, mediaID string, target media.Status, reason string) error {
	m, err := d.repo.GetByID(ctx, mediaID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if m.Status != media.StatusPending {
		d.log.Debugw("terminal callback absorbed", "media_id", m.ID, "status", m.Status)
		return nil
	}
	m.Status = target
	m.Technical = media.Technical{}
	m.ThumbnailKey = ""
	m.TranscodedKey = ""
	if err := d.repo.ReplaceIfStatus(ctx, m, media.StatusPending); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(string(target)).Inc()
	d.log.Infow("processing finished unsuccessfully",
		"media_id", m.ID, "status", target, "reason", reason)
	d.notify(m.AuthorID, StatusEvent{MediaID: m.ID, Status: target, Reason: reason})
	return nil
}

// HandleProgress forwards a worker progress report to the owner's stream.
func (d *Dispatcher) HandleProgress(ctx context.Context, mediaID string, percent int) {
	m, err := d.repo.GetByID(ctx, mediaID)
	if err != nil {
		return
	}
	d.notify(m.AuthorID, StatusEvent{MediaID: m.ID, Status: m.Status, Progress: percent})
}

// Reprocess resets a terminally failed media to PENDING and re-dispatches.
// Only callers with update permission may trigger it, and only FAILED or
// REJECTED media are eligible.
func (d *Dispatcher) Reprocess(ctx context.Context, actorID, mediaID string) (*media.Media, error) {
	m, err := d.repo.GetByID(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if dec := d.perms.CanUpdate(ctx, actorID, m); !dec.Granted {
		return nil, apperr.Denied(dec.Reason)
	}
	if !m.Reprocessable() {
		return nil, &apperr.StateError{Op: "reprocess", Current: string(m.Status)}
	}
	prev := m.Status
	m.Status = media.StatusPending
	m.Technical = media.Technical{}
	m.ThumbnailKey = ""
	m.TranscodedKey = ""
	if err := d.repo.ReplaceIfStatus(ctx, m, prev); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, &apperr.StateError{Op: "reprocess", Current: "concurrently changed"}
		}
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(string(media.StatusPending)).Inc()
	d.Dispatch(ctx, m)
	return m, nil
}

// expandZip creates one media record per extracted entry, honoring the zip
// options captured at intake. Entry failures are skipped, not fatal; the
// return value is the number of records created.
func (d *Dispatcher) expandZip(ctx context.Context, parent *media.Media, entries []DerivedEntry) int {
	opts := media.ZipOptions{}
	if parent.ZipOptions != nil {
		opts = *parent.ZipOptions
	}
	childVisibility := opts.ChildVisibility
	if childVisibility == "" {
		childVisibility = parent.Visible
	}

	created := 0
	for _, e := range entries {
		t, err := media.Classify(e.ContentType)
		if err != nil {
			d.log.Infow("zip entry skipped: unsupported type",
				"zip_id", parent.ID, "entry", e.Filename, "content_type", e.ContentType)
			continue
		}
		if !opts.Allows(t) {
			d.log.Infow("zip entry skipped: type not allowed",
				"zip_id", parent.ID, "entry", e.Filename, "media_type", t)
			continue
		}
		if opts.MaxFileSize > 0 && e.Size > opts.MaxFileSize {
			d.log.Infow("zip entry skipped: too large",
				"zip_id", parent.ID, "entry", e.Filename, "size", e.Size)
			continue
		}
		child := &media.Media{
			ID:           uuid.NewString(),
			AuthorID:     parent.AuthorID,
			MediaType:    t,
			Status:       media.StatusPending,
			Visible:      childVisibility,
			StorageKey:   e.BlobKey,
			ThumbnailKey: e.ThumbnailKey,
			Filename:     e.Filename,
			Size:         e.Size,
			ContentType:  e.ContentType,
			Technical:    e.Technical,
			OriginID:     parent.ID,
		}
		// Entries that arrive fully described need no further processing.
		if !e.Technical.IsZero() {
			child.Status = media.StatusCompleted
		}
		if err := d.repo.Insert(ctx, child); err != nil {
			d.log.Warnw("zip entry skipped: insert failed",
				"zip_id", parent.ID, "entry", e.Filename, "err", err)
			continue
		}
		created++
		if child.Status == media.StatusPending {
			d.Dispatch(ctx, child)
		}
	}
	if created < len(entries) {
		d.log.Infow("zip expansion partially applied",
			"zip_id", parent.ID, "entries", len(entries), "created", created)
	}
	return created
}

func (d *Dispatcher) notify(userID string, ev StatusEvent) {
	if d.notifier == nil {
		return
	}
	d.notifier.StatusChanged(userID, ev)
}

// HasWorker reports whether a worker is registered for t, for health and
// startup logging.
func (d *Dispatcher) HasWorker(t media.Type) bool {
	_, ok := d.workers[t]
	return ok
}
