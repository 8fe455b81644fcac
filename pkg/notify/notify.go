package notify

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/logger"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

// Notifier posts the final task snapshot to the hook URL carried on the
// task's property bag. Delivery is best effort: failures are logged, never
// retried, and never affect task state.
type Notifier struct {
	client      *resty.Client
	defaultHook string
}

func New(defaultHook string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Notifier{
		client:      resty.New().SetTimeout(timeout),
		defaultHook: defaultHook,
	}
}

// OnFinished fires the hook for a terminal task, if one is configured.
func (n *Notifier) OnFinished(t *task.Task) {
	hook := t.StringProperty(task.PropHookURL)
	if hook == "" {
		hook = n.defaultHook
	}
	if hook == "" {
		return
	}

	snapshot := t.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		resp, err := n.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(snapshot).
			Post(hook)
		if err != nil {
			logger.WarnCF("notify", "hook delivery failed", map[string]interface{}{
				"task":  snapshot.ID,
				"hook":  hook,
				"error": err.Error(),
			})
			return
		}
		if resp.IsError() {
			logger.WarnCF("notify", "hook rejected", map[string]interface{}{
				"task":   snapshot.ID,
				"hook":   hook,
				"status": resp.StatusCode(),
			})
		}
	}()
}
