package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/instance"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/sender"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/store"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

type nopSender struct{}

func (nopSender) Submit(ctx context.Context, req sender.Request) error { return nil }

func newInstance(id string, coreSize, weight, sortOrder int) *instance.Instance {
	return instance.New(&store.Account{
		ID:        id,
		ChannelID: "chan-" + id,
		Enable:    true,
		CoreSize:  coreSize,
		QueueSize: 10,
		Weight:    weight,
		Sort:      sortOrder,
	}, nopSender{})
}

func TestChooseFailsOnEmptyPool(t *testing.T) {
	p := New(RuleBestWaitIdle)
	if _, err := p.Choose(nil); !errors.Is(err, ErrNoInstance) {
		t.Fatalf("expected ErrNoInstance, got %v", err)
	}
}

func TestChooseSkipsDisabledAccounts(t *testing.T) {
	p := New(RuleBestWaitIdle)
	disabled := newInstance("a", 3, 1, 0)
	disabled.Account().Enable = false
	p.Add(disabled)

	if _, err := p.Choose(nil); !errors.Is(err, ErrNoInstance) {
		t.Fatalf("expected ErrNoInstance, got %v", err)
	}
}

func TestChooseBestWaitIdlePrefersFreeCapacity(t *testing.T) {
	p := New(RuleBestWaitIdle)
	small := newInstance("small", 1, 1, 0)
	big := newInstance("big", 5, 1, 1)
	p.Add(small)
	p.Add(big)

	picked, err := p.Choose(nil)
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if picked.AccountID() != "big" {
		t.Fatalf("picked %s, want big", picked.AccountID())
	}
}

func TestChooseBestWaitIdleBreaksTiesByQueue(t *testing.T) {
	p := New(RuleBestWaitIdle)
	busy := newInstance("busy", 3, 1, 0)
	idle := newInstance("idle", 3, 1, 1)
	if err := busy.Enqueue(task.New(task.ActionImagine, "queued")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	p.Add(busy)
	p.Add(idle)

	picked, err := p.Choose(nil)
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if picked.AccountID() != "idle" {
		t.Fatalf("picked %s, want idle", picked.AccountID())
	}
}

func TestChooseRoundRobinCycles(t *testing.T) {
	p := New(RuleRoundRobin)
	p.Add(newInstance("a", 3, 1, 0))
	p.Add(newInstance("b", 3, 1, 1))

	var order []string
	for i := 0; i < 4; i++ {
		picked, err := p.Choose(nil)
		if err != nil {
			t.Fatalf("choose %d: %v", i, err)
		}
		order = append(order, picked.AccountID())
	}
	want := []string{"a", "b", "a", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("round robin order = %v", order)
		}
	}
}

func TestChooseByWeightReturnsCandidate(t *testing.T) {
	p := New(RuleWeight)
	p.Add(newInstance("a", 3, 5, 0))
	p.Add(newInstance("b", 3, 0, 1))

	for i := 0; i < 20; i++ {
		picked, err := p.Choose(nil)
		if err != nil {
			t.Fatalf("choose: %v", err)
		}
		if id := picked.AccountID(); id != "a" && id != "b" {
			t.Fatalf("picked unknown instance %s", id)
		}
	}
}

func TestChooseHonorsFilter(t *testing.T) {
	p := New(RuleBestWaitIdle)
	p.Add(newInstance("a", 5, 1, 0))
	p.Add(newInstance("b", 1, 1, 1))

	picked, err := p.Choose(func(i *instance.Instance) bool { return i.AccountID() == "b" })
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if picked.AccountID() != "b" {
		t.Fatalf("filter ignored, picked %s", picked.AccountID())
	}
}

func TestCrossInstanceQueries(t *testing.T) {
	p := New(RuleBestWaitIdle)
	a := newInstance("a", 3, 1, 0)
	b := newInstance("b", 3, 1, 1)
	p.Add(a)
	p.Add(b)

	queued := task.New(task.ActionImagine, "queued on b")
	if err := b.Enqueue(queued); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if got := p.QueuedTasks(); len(got) != 1 || got[0] != queued {
		t.Fatalf("queued tasks = %v", got)
	}
	if len(p.RunningTasks()) != 0 {
		t.Fatalf("no tasks should be running")
	}
	if p.FindTask(queued.ID) != queued {
		t.Fatalf("FindTask missed a queued task")
	}
	if p.FindTask("missing") != nil {
		t.Fatalf("FindTask invented a task")
	}
	if p.Instance("b") != b {
		t.Fatalf("instance lookup by account id failed")
	}
	if p.InstanceByChannel("chan-a") != a {
		t.Fatalf("instance lookup by channel failed")
	}
}
