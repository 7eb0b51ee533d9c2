// Package deferred schedules actions to run on a later simulation tick.
// Queues are keyed by world and touched only from the simulation goroutine.
package deferred

import (
	"container/heap"
	"fmt"
)

// Action is a deferred callback. It runs on the simulation goroutine.
type Action func()

// Liveness reports whether the owner captured by a task still exists.
type Liveness func(world, owner string) bool

// Task is a scheduled action.
type Task struct {
	World    string
	Owner    string
	Deadline uint64
	seq      uint64
	action   Action
}

// Stats summarises one Process pass.
type Stats struct {
	Executed int
	Stale    int
	Panicked int
}

// PanicHandler receives panics recovered from deferred actions.
type PanicHandler func(task Task, recovered any)

// Queue holds one deadline-ordered heap per world.
type Queue struct {
	worlds  map[string]*taskHeap
	nextSeq uint64
	alive   Liveness
	onPanic PanicHandler
}

// Option customises a Queue.
type Option func(*Queue)

// WithLiveness installs the owner liveness check consulted before each
// owned task runs.
func WithLiveness(alive Liveness) Option {
	return func(q *Queue) { q.alive = alive }
}

// WithPanicHandler installs a handler for panics raised by actions.
func WithPanicHandler(handler PanicHandler) Option {
	return func(q *Queue) { q.onPanic = handler }
}

// NewQueue constructs an empty queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{worlds: make(map[string]*taskHeap)}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

// Schedule enqueues an action for the world at the absolute deadline tick.
func (q *Queue) Schedule(world string, deadline uint64, action Action) {
	q.ScheduleOwned(world, "", deadline, action)
}

// ScheduleOwned enqueues an action that only runs while owner is alive.
func (q *Queue) ScheduleOwned(world, owner string, deadline uint64, action Action) {
	if q == nil || action == nil {
		return
	}
	h, ok := q.worlds[world]
	if !ok {
		h = &taskHeap{}
		q.worlds[world] = h
	}
	q.nextSeq++
	heap.Push(h, Task{World: world, Owner: owner, Deadline: deadline, seq: q.nextSeq, action: action})
}

// Len returns the number of pending tasks for the world.
func (q *Queue) Len(world string) int {
	if q == nil {
		return 0
	}
	h, ok := q.worlds[world]
	if !ok {
		return 0
	}
	return h.Len()
}

// Pending returns the total number of pending tasks across worlds.
func (q *Queue) Pending() int {
	if q == nil {
		return 0
	}
	total := 0
	for _, h := range q.worlds {
		total += h.Len()
	}
	return total
}

// DropWorld discards every task scheduled for the world.
func (q *Queue) DropWorld(world string) int {
	if q == nil {
		return 0
	}
	h, ok := q.worlds[world]
	if !ok {
		return 0
	}
	delete(q.worlds, world)
	return h.Len()
}

// Process runs every task of the world whose deadline is at or before tick,
// earliest deadline first and in insertion order within a deadline. Tasks
// scheduled while the pass runs wait for the next pass, even when already
// due, so a task re-enqueueing itself with no delay cannot stall the tick.
func (q *Queue) Process(world string, tick uint64) Stats {
	var stats Stats
	if q == nil {
		return stats
	}
	cutoff := q.nextSeq
	type heldTask struct {
		from *taskHeap
		task Task
	}
	var held []heldTask
	for {
		h, ok := q.worlds[world]
		if !ok || h.Len() == 0 {
			break
		}
		if (*h)[0].Deadline > tick {
			break
		}
		task := heap.Pop(h).(Task)
		if task.seq > cutoff {
			held = append(held, heldTask{from: h, task: task})
			continue
		}
		if task.Owner != "" && q.alive != nil && !q.alive(task.World, task.Owner) {
			stats.Stale++
			continue
		}
		if q.run(task) {
			stats.Executed++
		} else {
			stats.Panicked++
		}
	}
	// Held tasks go back only into the heap they came from; a world dropped
	// during the pass keeps them dropped.
	for _, entry := range held {
		if h, ok := q.worlds[world]; ok && h == entry.from {
			heap.Push(h, entry.task)
		}
	}
	if h, ok := q.worlds[world]; ok && h.Len() == 0 {
		delete(q.worlds, world)
	}
	return stats
}

func (q *Queue) run(task Task) (ok bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ok = false
			if q.onPanic != nil {
				q.onPanic(task, recovered)
			}
		}
	}()
	task.action()
	return true
}

func (t Task) String() string {
	return fmt.Sprintf("%s@%d#%d", t.World, t.Deadline, t.seq)
}

type taskHeap []Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline < h[j].Deadline
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = Task{}
	*h = old[:n-1]
	return task
}
