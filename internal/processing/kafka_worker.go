package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/suffus/reedi-media-service/internal/apperr"
	"github.com/suffus/reedi-media-service/internal/queue"
)

// KafkaWorker submits jobs by producing onto the worker's topic. The actual
// processor is an out-of-process consumer of that topic.
type KafkaWorker struct {
	prod *queue.Producer
}

func NewKafkaWorker(p *queue.Producer) *KafkaWorker {
	return &KafkaWorker{prod: p}
}

func (w *KafkaWorker) Submit(ctx context.Context, job Job) (JobHandle, error) {
	if err := w.prod.Publish(ctx, job.MediaID, job); err != nil {
		return JobHandle{}, fmt.Errorf("%w: produce job: %v", apperr.ErrDependencyUnavailable, err)
	}
	return JobHandle{ID: uuid.NewString(), SubmittedAt: time.Now().UTC()}, nil
}

// CallbackEvent is the wire shape workers produce onto the callback topic.
type CallbackEvent struct {
	Type     string  `json:"type"` // completed | failed | rejected | progress
	MediaID  string  `json:"media_id"`
	Reason   string  `json:"reason,omitempty"`
	Progress int     `json:"progress,omitempty"`
	Result   *Result `json:"result,omitempty"`
}

// HandleCallback decodes one callback message and applies it to the state
// machine. Unknown event types are logged and dropped.
func (d *Dispatcher) HandleCallback(ctx context.Context, value []byte) error {
	var ev CallbackEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		d.log.Warnw("undecodable callback event", "err", err)
		return nil
	}
	switch ev.Type {
	case "completed":
		res := Result{MediaID: ev.MediaID}
		if ev.Result != nil {
			res = *ev.Result
			res.MediaID = ev.MediaID
		}
		return d.HandleCompleted(ctx, res)
	case "failed":
		return d.HandleFailed(ctx, ev.MediaID, ev.Reason)
	case "rejected":
		return d.HandleRejected(ctx, ev.MediaID, ev.Reason)
	case "progress":
		d.HandleProgress(ctx, ev.MediaID, ev.Progress)
		return nil
	default:
		d.log.Warnw("unknown callback type", "type", ev.Type, "media_id", ev.MediaID)
		return nil
	}
}
