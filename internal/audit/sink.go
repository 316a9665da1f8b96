// Package audit emits permission-denial events for offline review. The
// default sink drops them; deployments wire the kafka sink.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/suffus/reedi-media-service/internal/queue"
)

type deniedEvent struct {
	ViewerID string    `json:"viewer_id,omitempty"`
	MediaID  string    `json:"media_id"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// KafkaSink publishes denial events onto the audit topic. Emission is
// best-effort and never blocks the request path beyond the produce call.
type KafkaSink struct {
	prod *queue.Producer
	log  *zap.SugaredLogger
}

func NewKafkaSink(prod *queue.Producer, log *zap.SugaredLogger) *KafkaSink {
	return &KafkaSink{prod: prod, log: log}
}

func (s *KafkaSink) Denied(ctx context.Context, viewerID, mediaID, reason string) {
	ev := deniedEvent{ViewerID: viewerID, MediaID: mediaID, Reason: reason, At: time.Now().UTC()}
	if err := s.prod.Publish(ctx, mediaID, ev); err != nil {
		s.log.Warnw("audit emit failed", "media_id", mediaID, "err", err)
	}
}
