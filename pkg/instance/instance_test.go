package instance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/sender"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/store"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

type fakeSender struct {
	submitted chan *task.Task
	err       error
}

type countingNotifier struct {
	mu       sync.Mutex
	finished []*task.Task
}

func (n *countingNotifier) OnFinished(t *task.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, t)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.finished)
}

func newFakeSender() *fakeSender {
	return &fakeSender{submitted: make(chan *task.Task, 16)}
}

func (f *fakeSender) Submit(ctx context.Context, req sender.Request) error {
	if f.err != nil {
		return f.err
	}
	f.submitted <- req.Task
	return nil
}

func testAccount() *store.Account {
	return &store.Account{
		ID:             "acct-1",
		ChannelID:      "chan-1",
		Enable:         true,
		CoreSize:       1,
		QueueSize:      2,
		TimeoutMinutes: 5,
	}
}

func waitSubmitted(t *testing.T, snd *fakeSender) *task.Task {
	t.Helper()
	select {
	case tk := <-snd.submitted:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatalf("no task submitted")
		return nil
	}
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	inst := New(testAccount(), newFakeSender())

	if err := inst.Enqueue(task.New(task.ActionImagine, "one")); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := inst.Enqueue(task.New(task.ActionImagine, "two")); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if err := inst.Enqueue(task.New(task.ActionImagine, "three")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if inst.QueuedCount() != 2 {
		t.Fatalf("queued = %d", inst.QueuedCount())
	}
}

func TestEnqueueRejectsAfterStop(t *testing.T) {
	inst := New(testAccount(), newFakeSender())
	inst.Stop()
	if err := inst.Enqueue(task.New(task.ActionImagine, "x")); !errors.Is(err, ErrInstanceStopped) {
		t.Fatalf("expected ErrInstanceStopped, got %v", err)
	}
}

func TestDispatchRespectsConcurrencyCap(t *testing.T) {
	snd := newFakeSender()
	inst := New(testAccount(), snd)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst.Start(ctx)

	first := task.New(task.ActionImagine, "one")
	second := task.New(task.ActionImagine, "two")
	if err := inst.Enqueue(first); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := inst.Enqueue(second); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got := waitSubmitted(t, snd)
	if got != first {
		t.Fatalf("wrong task dispatched first")
	}
	if first.GetStatus() != task.StatusSubmitted {
		t.Fatalf("submitted task status = %s", first.GetStatus())
	}

	select {
	case <-snd.submitted:
		t.Fatalf("second task dispatched beyond core size")
	case <-time.After(100 * time.Millisecond):
	}
	if inst.RunningCount() != 1 || inst.QueuedCount() != 1 {
		t.Fatalf("running=%d queued=%d", inst.RunningCount(), inst.QueuedCount())
	}

	first.Success("https://cdn.example/final.png")
	inst.FinishTask(first)

	if got := waitSubmitted(t, snd); got != second {
		t.Fatalf("second task not dispatched after slot freed")
	}
}

func TestSubmitFailureFailsTask(t *testing.T) {
	snd := newFakeSender()
	snd.err = errors.New("interaction rejected: status 401")
	inst := New(testAccount(), snd)
	noted := &countingNotifier{}
	inst.SetNotifier(noted)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst.Start(ctx)

	tk := task.New(task.ActionImagine, "one")
	if err := inst.Enqueue(tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !tk.WaitFinished(ctx, 2*time.Second) {
		t.Fatalf("task did not fail")
	}
	if tk.GetStatus() != task.StatusFailure {
		t.Fatalf("status = %s", tk.GetStatus())
	}
	if inst.RunningCount() != 0 {
		t.Fatalf("failed submit still holds a slot")
	}
	waitCondition(t, func() bool { return noted.count() == 1 }, "hook not fired for submit rejection")
}

func TestJobTimeoutForcesFailure(t *testing.T) {
	snd := newFakeSender()
	inst := New(testAccount(), snd)
	inst.jobTimeout = 50 * time.Millisecond
	noted := &countingNotifier{}
	inst.SetNotifier(noted)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst.Start(ctx)

	tk := task.New(task.ActionImagine, "one")
	if err := inst.Enqueue(tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitSubmitted(t, snd)

	if !tk.WaitFinished(ctx, 2*time.Second) {
		t.Fatalf("timeout never fired")
	}
	if tk.GetStatus() != task.StatusFailure || !strings.Contains(tk.GetFailReason(), "timeout") {
		t.Fatalf("status = %s reason = %q", tk.GetStatus(), tk.GetFailReason())
	}
	waitCondition(t, func() bool { return inst.RunningCount() == 0 }, "timed-out task still holds a slot")
	waitCondition(t, func() bool { return noted.count() == 1 }, "hook not fired for timeout")
}

func TestAvailableHonorsAccountLock(t *testing.T) {
	account := testAccount()
	inst := New(account, newFakeSender())

	if !inst.Available() {
		t.Fatalf("enabled account with no link must be available")
	}
	inst.MarkChallenge("https://upstream.example/verify/abc")
	if inst.Available() {
		t.Fatalf("locked account must not take work")
	}
	if account.ChallengeURL != "https://upstream.example/verify/abc" {
		t.Fatalf("challenge url = %q", account.ChallengeURL)
	}
}

func waitCondition(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s", msg)
}

func TestFinishTaskIsIdempotent(t *testing.T) {
	snd := newFakeSender()
	inst := New(testAccount(), snd)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst.Start(ctx)

	tk := task.New(task.ActionImagine, "one")
	if err := inst.Enqueue(tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitSubmitted(t, snd)

	tk.Success("")
	inst.FinishTask(tk)
	inst.FinishTask(tk)
	if inst.RunningCount() != 0 {
		t.Fatalf("running = %d", inst.RunningCount())
	}
}

func TestFindRunning(t *testing.T) {
	snd := newFakeSender()
	inst := New(testAccount(), snd)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inst.Start(ctx)

	tk := task.New(task.ActionImagine, "one")
	if err := inst.Enqueue(tk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitSubmitted(t, snd)

	found := inst.FindRunning(func(c *task.Task) bool { return c.Nonce == tk.Nonce })
	if found != tk {
		t.Fatalf("running task not found by nonce")
	}
	if inst.FindRunning(func(*task.Task) bool { return false }) != nil {
		t.Fatalf("predicate false must find nothing")
	}
}
