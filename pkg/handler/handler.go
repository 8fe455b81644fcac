package handler

import (
	"sort"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/cache"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/discord"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/logger"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/metrics"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

// InstanceView is the read-mostly window the pipeline gets into the owning
// instance. The pipeline never holds a back-pointer to the instance itself.
type InstanceView interface {
	AccountID() string
	RunningTasks() []*task.Task
	FindRunning(match func(*task.Task) bool) *task.Task
	// FinishTask releases the capacity slot a terminal task was holding.
	FinishTask(t *task.Task)
	// MarkChallenge locks the account on an upstream verification challenge.
	MarkChallenge(url string)
}

// Notifier is told about terminal transitions so hooks can fire. It must not
// block the event loop.
type Notifier interface {
	OnFinished(t *task.Task)
}

// HandlerFunc inspects one message event and returns true when it consumed
// it. Handlers are pure with respect to I/O: they mutate tasks and nothing
// else.
type HandlerFunc func(p *Pipeline, evt *discord.MessageEvent) bool

type registeredHandler struct {
	name  string
	order int
	fn    HandlerFunc
}

// Pipeline is the ordered handler chain for one instance. OnMessage is only
// ever called from the instance's single gateway event loop, so handlers run
// strictly in arrival order and never concurrently.
type Pipeline struct {
	view     InstanceView
	dedup    *cache.DedupCache
	notifier Notifier
	handlers []registeredHandler
}

func NewPipeline(view InstanceView, dedup *cache.DedupCache, notifier Notifier) *Pipeline {
	p := &Pipeline{view: view, dedup: dedup, notifier: notifier}
	p.register("error-banner", 10, handleErrorBanner)
	p.register("describe-completed", 20, handleDescribe)
	p.register("start-progress", 30, handleStartAndProgress)
	p.register("upscale-completed", 40, handleUpscale)
	p.register("show-completed", 50, handleShow)
	p.register("imagine-completed", 60, handleImagine)
	p.register("action-completed", 70, handleActionCompleted)
	return p
}

func (p *Pipeline) register(name string, order int, fn HandlerFunc) {
	p.handlers = append(p.handlers, registeredHandler{name: name, order: order, fn: fn})
	sort.SliceStable(p.handlers, func(i, j int) bool {
		return p.handlers[i].order < p.handlers[j].order
	})
}

// OnMessage implements the gateway event sink. Unmatched events are dropped
// silently: cross-talk from other users in the channel is expected.
func (p *Pipeline) OnMessage(evt *discord.MessageEvent) {
	if evt == nil || evt.Class == discord.ClassDelete {
		return
	}
	if p.dedup != nil && p.dedup.Finalized(evt.Message.ID.String()) {
		return
	}
	for _, h := range p.handlers {
		if h.fn(p, evt) {
			logger.DebugCF("handler", "event consumed", map[string]interface{}{
				"account": p.view.AccountID(),
				"handler": h.name,
				"message": evt.Message.ID.String(),
			})
			return
		}
	}
}

// finalizeSuccess applies the terminal success transition exactly once per
// message id.
func (p *Pipeline) finalizeSuccess(t *task.Task, evt *discord.MessageEvent) {
	msgID := evt.Message.ID.String()
	if p.dedup != nil && !p.dedup.MarkFinalized(msgID) {
		return
	}
	t.PushMessageID(msgID)
	t.SetInteractionMetadataID(evt.Message.InteractionMetadataID())

	imageURL := firstAttachmentURL(&evt.Message)
	if imageURL != "" {
		if hash := messageHash(imageURL); hash != "" {
			t.SetProperty(task.PropMessageHash, hash)
		}
	}
	t.Success(imageURL)
	t.SetButtons(buttonsFrom(evt.Message.Components))
	p.finish(t)
}

// finalizeFailure applies the terminal failure transition exactly once per
// message id.
func (p *Pipeline) finalizeFailure(t *task.Task, evt *discord.MessageEvent, reason string) {
	msgID := evt.Message.ID.String()
	if p.dedup != nil && !p.dedup.MarkFinalized(msgID) {
		return
	}
	t.PushMessageID(msgID)
	t.Fail(reason)
	p.finish(t)
}

func (p *Pipeline) finish(t *task.Task) {
	metrics.TasksFinished.WithLabelValues(string(t.GetStatus())).Inc()
	p.view.FinishTask(t)
	if p.notifier != nil {
		p.notifier.OnFinished(t)
	}
	logger.InfoCF("handler", "task finished", map[string]interface{}{
		"account": p.view.AccountID(),
		"task":    t.ID,
		"action":  string(t.Action),
		"status":  string(t.GetStatus()),
	})
}

// progress records a non-terminal advance and wakes pollers.
func (p *Pipeline) progress(t *task.Task, evt *discord.MessageEvent, percent string) {
	msgID := evt.Message.ID.String()
	if p.dedup != nil {
		p.dedup.MarkProgress(msgID)
	}
	t.PushMessageID(msgID)
	t.SetInteractionMetadataID(evt.Message.InteractionMetadataID())
	t.InProgress(percent, firstAttachmentURL(&evt.Message))
}
