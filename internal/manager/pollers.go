package manager

import (
	"slices"
	"sync"

	"github.com/chinmina/console-sync/internal/scheduler"
)

type owner struct {
	id   any
	task scheduler.Task
}

// pollers tracks which bindings share a scheduler key. Several bindings on
// the same identity share one task: the most recent claimant's task is the
// one registered, and the key is only unregistered when its last owner
// leaves.
type pollers struct {
	registry scheduler.Registry

	mu     sync.Mutex
	owners map[string][]owner
}

func newPollers(registry scheduler.Registry) *pollers {
	return &pollers{
		registry: registry,
		owners:   map[string][]owner{},
	}
}

// claim registers task under key on behalf of id, replacing any task id
// held there before.
func (p *pollers) claim(key string, id any, task scheduler.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	owners := slices.DeleteFunc(p.owners[key], func(o owner) bool { return o.id == id })
	p.owners[key] = append(owners, owner{id: id, task: task})
	p.registry.Register(key, task)
}

// release gives up id's hold on key. When id owned the registered task and
// others remain, the next most recent owner's task takes over.
func (p *pollers) release(key string, id any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	owners := p.owners[key]
	i := slices.IndexFunc(owners, func(o owner) bool { return o.id == id })
	if i < 0 {
		return
	}
	active := i == len(owners)-1
	owners = slices.Delete(owners, i, i+1)

	if len(owners) == 0 {
		delete(p.owners, key)
		p.registry.Unregister(key)
		return
	}

	p.owners[key] = owners
	if active {
		p.registry.Register(key, owners[len(owners)-1].task)
	}
}
