package instance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/gateway"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/logger"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/metrics"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/sender"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/store"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

var (
	ErrQueueFull       = errors.New("task queue full")
	ErrInstanceStopped = errors.New("instance stopped")
)

// Notifier is told about terminal transitions the instance forces itself
// (submit rejection, timeout, shutdown). Gateway-driven terminals are
// reported by the correlation pipeline instead.
type Notifier interface {
	OnFinished(t *task.Task)
}

// Instance binds one account's capacity policy to its gateway link: a
// bounded wait queue, a concurrency-capped running set, and a single
// dispatch loop that spaces commands by the account's interval.
type Instance struct {
	account    *store.Account
	sender     sender.Sender
	link       *gateway.Link
	notifier   Notifier
	limiter    *rate.Limiter
	jobTimeout time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	queued  []*task.Task
	running map[string]*task.Task
	closed  bool
}

func New(account *store.Account, snd sender.Sender) *Instance {
	limit := rate.Inf
	if interval := account.CommandInterval(); interval > 0 {
		limit = rate.Every(interval)
	}
	i := &Instance{
		account:    account,
		sender:     snd,
		limiter:    rate.NewLimiter(limit, 1),
		jobTimeout: account.Timeout(),
		running:    make(map[string]*task.Task),
	}
	if i.jobTimeout <= 0 {
		i.jobTimeout = 30 * time.Minute
	}
	i.cond = sync.NewCond(&i.mu)
	return i
}

func (i *Instance) AccountID() string { return i.account.ID }

func (i *Instance) Account() *store.Account { return i.account }

// AttachLink wires the gateway connection. Must happen before Start.
func (i *Instance) AttachLink(l *gateway.Link) { i.link = l }

func (i *Instance) Link() *gateway.Link { return i.link }

// SetNotifier wires the hook delivery for instance-forced terminal
// transitions. Must happen before Start.
func (i *Instance) SetNotifier(n Notifier) { i.notifier = n }

// Available reports whether this instance can accept work right now. With a
// link attached, the account's health fields are read through the link's
// lock: the link worker writes them concurrently. An instance with no link
// yet is treated as reachable so callers can compose the pieces in any order.
func (i *Instance) Available() bool {
	if i.link != nil {
		return i.link.Healthy()
	}
	return i.account.Enable && !i.account.Locked
}

// MarkChallenge locks the account out of routing until the upstream
// verification challenge is cleared out of band.
func (i *Instance) MarkChallenge(url string) {
	if i.link != nil {
		i.link.MarkChallenge(url)
		return
	}
	i.account.Locked = true
	i.account.ChallengeURL = url
}

func (i *Instance) Start(ctx context.Context) {
	go i.dispatchLoop(ctx)
	go func() {
		<-ctx.Done()
		i.Stop()
	}()
}

func (i *Instance) Stop() {
	i.mu.Lock()
	i.closed = true
	i.cond.Broadcast()
	i.mu.Unlock()
}

// Enqueue admits a task to the wait queue, rejecting when the configured
// queue capacity is reached.
func (i *Instance) Enqueue(t *task.Task) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrInstanceStopped
	}
	if len(i.queued) >= i.account.QueueSize {
		return ErrQueueFull
	}
	t.InstanceID = i.account.ID
	i.queued = append(i.queued, t)
	metrics.TasksQueued.WithLabelValues(i.account.ID).Set(float64(len(i.queued)))
	i.cond.Signal()
	return nil
}

// dispatchLoop is the only goroutine that moves tasks from queued to
// running, which keeps the account's mutable capacity state single-writer.
func (i *Instance) dispatchLoop(ctx context.Context) {
	for {
		i.mu.Lock()
		for !i.closed && (len(i.queued) == 0 || len(i.running) >= i.account.CoreSize) {
			i.cond.Wait()
		}
		if i.closed {
			i.mu.Unlock()
			return
		}
		t := i.queued[0]
		i.queued = i.queued[1:]
		i.running[t.ID] = t
		queuedLen, runningLen := len(i.queued), len(i.running)
		i.mu.Unlock()

		metrics.TasksQueued.WithLabelValues(i.account.ID).Set(float64(queuedLen))
		metrics.TasksRunning.WithLabelValues(i.account.ID).Set(float64(runningLen))

		if err := i.limiter.Wait(ctx); err != nil {
			if t.Fail("instance shutting down") {
				i.notifyFinished(t)
			}
			i.FinishTask(t)
			return
		}
		i.submit(ctx, t)
	}
}

func (i *Instance) submit(ctx context.Context, t *task.Task) {
	sessionID := ""
	if i.link != nil {
		sessionID = i.link.SessionID()
	}
	req := sender.Request{Account: i.account, SessionID: sessionID, Task: t}
	if err := i.sender.Submit(ctx, req); err != nil {
		logger.WarnCF("instance", "submit failed", map[string]interface{}{
			"account": i.account.ID,
			"task":    t.ID,
			"error":   err.Error(),
		})
		if t.Fail(fmt.Sprintf("submit failed: %s", err)) {
			metrics.TasksFinished.WithLabelValues(string(task.StatusFailure)).Inc()
			i.notifyFinished(t)
		}
		i.FinishTask(t)
		return
	}
	t.Submitted()
	logger.InfoCF("instance", "command sent", map[string]interface{}{
		"account": i.account.ID,
		"task":    t.ID,
		"action":  string(t.Action),
	})
	go i.watchTimeout(ctx, t)
}

// watchTimeout forces FAILURE when no terminal event arrives within the
// account's job timeout, then frees the capacity slot.
func (i *Instance) watchTimeout(ctx context.Context, t *task.Task) {
	if t.WaitFinished(ctx, i.jobTimeout) {
		return
	}
	if t.Fail("task timeout") {
		metrics.TasksFinished.WithLabelValues(string(task.StatusFailure)).Inc()
		i.notifyFinished(t)
	}
	i.FinishTask(t)
}

func (i *Instance) notifyFinished(t *task.Task) {
	if i.notifier != nil {
		i.notifier.OnFinished(t)
	}
}

// FinishTask releases the capacity slot held by a terminal task. Safe to
// call more than once for the same task.
func (i *Instance) FinishTask(t *task.Task) {
	i.mu.Lock()
	if _, ok := i.running[t.ID]; ok {
		delete(i.running, t.ID)
		i.cond.Signal()
	}
	runningLen := len(i.running)
	i.mu.Unlock()
	metrics.TasksRunning.WithLabelValues(i.account.ID).Set(float64(runningLen))
}

func (i *Instance) RunningTasks() []*task.Task {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*task.Task, 0, len(i.running))
	for _, t := range i.running {
		out = append(out, t)
	}
	return out
}

func (i *Instance) QueuedTasks() []*task.Task {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*task.Task(nil), i.queued...)
}

func (i *Instance) FindRunning(match func(*task.Task) bool) *task.Task {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, t := range i.running {
		if match(t) {
			return t
		}
	}
	return nil
}

func (i *Instance) RunningCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.running)
}

func (i *Instance) QueuedCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.queued)
}

// FreeCapacity is the number of jobs this instance could start immediately.
func (i *Instance) FreeCapacity() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	free := i.account.CoreSize - len(i.running)
	if free < 0 {
		free = 0
	}
	return free
}
