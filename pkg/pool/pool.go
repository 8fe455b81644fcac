package pool

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/trueai-org/midjourney-proxy-sub002/pkg/instance"
	"github.com/trueai-org/midjourney-proxy-sub002/pkg/task"
)

var ErrNoInstance = errors.New("no available instance")

// Rule names a selection policy.
type Rule string

const (
	RuleBestWaitIdle Rule = "best_wait_idle"
	RuleWeight       Rule = "weight"
	RuleRoundRobin   Rule = "round_robin"
)

// Pool is the router over every configured instance: selection by policy
// plus the cross-instance queries admin surfaces need.
type Pool struct {
	rule Rule

	mu        sync.Mutex
	instances []*instance.Instance
	rrCounter int
}

func New(rule Rule) *Pool {
	if rule == "" {
		rule = RuleBestWaitIdle
	}
	return &Pool{rule: rule}
}

func (p *Pool) Add(i *instance.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances = append(p.instances, i)
	sort.SliceStable(p.instances, func(a, b int) bool {
		return p.instances[a].Account().Sort < p.instances[b].Account().Sort
	})
}

func (p *Pool) Instances() []*instance.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*instance.Instance(nil), p.instances...)
}

func (p *Pool) Instance(accountID string) *instance.Instance {
	for _, i := range p.Instances() {
		if i.AccountID() == accountID {
			return i
		}
	}
	return nil
}

func (p *Pool) InstanceByChannel(channelID string) *instance.Instance {
	for _, i := range p.Instances() {
		if i.Account().ChannelID == channelID {
			return i
		}
	}
	return nil
}

// Choose picks an available instance by the configured rule. The optional
// filter narrows the candidate set (explicit account, mode or tag
// constraints from the caller).
func (p *Pool) Choose(filter func(*instance.Instance) bool) (*instance.Instance, error) {
	var candidates []*instance.Instance
	for _, i := range p.Instances() {
		if !i.Available() {
			continue
		}
		if filter != nil && !filter(i) {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return nil, ErrNoInstance
	}

	switch p.rule {
	case RuleWeight:
		return chooseByWeight(candidates), nil
	case RuleRoundRobin:
		p.mu.Lock()
		picked := candidates[p.rrCounter%len(candidates)]
		p.rrCounter++
		p.mu.Unlock()
		return picked, nil
	default:
		return chooseBestWaitIdle(candidates), nil
	}
}

// chooseBestWaitIdle prefers the instance with the most free capacity,
// breaking ties by the shorter wait queue.
func chooseBestWaitIdle(candidates []*instance.Instance) *instance.Instance {
	best := candidates[0]
	bestFree, bestQueued := best.FreeCapacity(), best.QueuedCount()
	for _, i := range candidates[1:] {
		free, queued := i.FreeCapacity(), i.QueuedCount()
		if free > bestFree || (free == bestFree && queued < bestQueued) {
			best, bestFree, bestQueued = i, free, queued
		}
	}
	return best
}

func chooseByWeight(candidates []*instance.Instance) *instance.Instance {
	total := 0
	for _, i := range candidates {
		total += weightOf(i)
	}
	n := rand.Intn(total)
	for _, i := range candidates {
		n -= weightOf(i)
		if n < 0 {
			return i
		}
	}
	return candidates[len(candidates)-1]
}

func weightOf(i *instance.Instance) int {
	if w := i.Account().Weight; w > 0 {
		return w
	}
	return 1
}

// RunningTasks returns every running task across all instances.
func (p *Pool) RunningTasks() []*task.Task {
	var out []*task.Task
	for _, i := range p.Instances() {
		out = append(out, i.RunningTasks()...)
	}
	return out
}

// QueuedTasks returns every queued task across all instances.
func (p *Pool) QueuedTasks() []*task.Task {
	var out []*task.Task
	for _, i := range p.Instances() {
		out = append(out, i.QueuedTasks()...)
	}
	return out
}

// FindRunning searches running tasks across all instances.
func (p *Pool) FindRunning(match func(*task.Task) bool) *task.Task {
	for _, i := range p.Instances() {
		if t := i.FindRunning(match); t != nil {
			return t
		}
	}
	return nil
}

// FindTask looks a task up by id in both running and queued sets.
func (p *Pool) FindTask(id string) *task.Task {
	if t := p.FindRunning(func(t *task.Task) bool { return t.ID == id }); t != nil {
		return t
	}
	for _, i := range p.Instances() {
		for _, t := range i.QueuedTasks() {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

// Run starts every instance and its gateway link, then blocks until ctx is
// cancelled and everything has shut down.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, inst := range p.Instances() {
		inst := inst
		g.Go(func() error {
			inst.Start(ctx)
			if l := inst.Link(); l != nil {
				l.Start(ctx)
			}
			<-ctx.Done()
			inst.Stop()
			if l := inst.Link(); l != nil {
				l.Stop()
			}
			return nil
		})
	}
	return g.Wait()
}
