package stapled

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// queueCapacity is the buffer size backing each named stage queue. Stage
// queues are documented as "bounded (possibly unbounded)" in spec.md §3; a
// large fixed buffer is this implementation's "possibly unbounded" choice,
// since a genuinely unbounded channel isn't a thing Go offers and the
// alternative (a mutex + slice FIFO with a condition variable) buys nothing
// a sufficiently large channel doesn't already give a certificate-count
// workload like this one.
const queueCapacity = 1 << 16

// Rescheduler is the narrow interface a Task needs to be rescheduled or
// cancelled by subject, so error handling code never needs a pointer to the
// concrete *Scheduler (see spec.md §9's note about avoiding a task<->
// scheduler cycle).
type Rescheduler interface {
	AddTask(t *Task)
	CancelBySubject(subject *Record)
}

// Scheduler is the central queue registry + deadline heap of spec.md §4.5.
type Scheduler struct {
	logger *zap.Logger

	mu         sync.Mutex
	queues     map[string]chan *Task
	inFlight   map[string]*int64
	h          taskHeap
	deadlineOf map[*Task]time.Time
	bySubject  map[*Record]map[*Task]struct{}
	seq        uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates a Scheduler. Call AddQueue for every stage before
// starting any producers/consumers, then Start to begin the dispatch loop.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		logger:     logger,
		queues:     make(map[string]chan *Task),
		inFlight:   make(map[string]*int64),
		deadlineOf: make(map[*Task]time.Time),
		bySubject:  make(map[*Record]map[*Task]struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// AddQueue registers a named stage queue.
func (s *Scheduler) AddQueue(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[name]; ok {
		return
	}
	s.queues[name] = make(chan *Task, queueCapacity)
	var n int64
	s.inFlight[name] = &n
}

// AddTask enqueues t immediately if t.SchedTime is zero, otherwise places it
// on the deadline heap. Per spec.md §4.5's uniqueness rule, if t is already
// present on the deadline heap its prior entry is cancelled first and the
// new scheduled time wins.
func (s *Scheduler) AddTask(t *Task) {
	s.mu.Lock()
	s.cancelLocked(t)
	if t.ASAP() {
		q := s.queues[t.Stage]
		s.mu.Unlock()
		if q != nil {
			q <- t
		}
		return
	}
	s.seq++
	t.seq = s.seq
	heap.Push(&s.h, &heapEntry{task: t, time: t.SchedTime, seq: t.seq})
	s.deadlineOf[t] = t.SchedTime
	set := s.bySubject[t.Subject]
	if set == nil {
		set = make(map[*Task]struct{})
		s.bySubject[t.Subject] = set
	}
	set[t] = struct{}{}
	s.mu.Unlock()
}

// CancelTask removes t from the deadline heap, if present. Per spec.md
// §4.5's cancellation semantics, a task already moved to a stage queue is no
// longer visible here and cannot be cancelled.
func (s *Scheduler) CancelTask(t *Task) {
	s.mu.Lock()
	s.cancelLocked(t)
	s.mu.Unlock()
}

// cancelLocked must be called with s.mu held.
func (s *Scheduler) cancelLocked(t *Task) {
	if _, ok := s.deadlineOf[t]; !ok {
		return
	}
	delete(s.deadlineOf, t)
	if set := s.bySubject[t.Subject]; set != nil {
		delete(set, t)
		if len(set) == 0 {
			delete(s.bySubject, t.Subject)
		}
	}
	for i, e := range s.h {
		if e.task == t {
			heap.Remove(&s.h, i)
			break
		}
	}
}

// CancelBySubject removes every task on the deadline heap whose subject is
// the given record.
func (s *Scheduler) CancelBySubject(subject *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.bySubject[subject]
	if len(set) == 0 {
		return
	}
	tasks := make([]*Task, 0, len(set))
	for t := range set {
		tasks = append(tasks, t)
	}
	for _, t := range tasks {
		s.cancelLocked(t)
	}
}

// GetTask blocks until a task is available on the named queue or timeout
// elapses, returning (nil, false) on timeout. A successful dequeue counts
// towards that queue's in-flight total until TaskDone is called.
func (s *Scheduler) GetTask(name string, timeout time.Duration) (*Task, bool) {
	s.mu.Lock()
	q := s.queues[name]
	counter := s.inFlight[name]
	s.mu.Unlock()
	if q == nil {
		return nil, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case t := <-q:
		atomic.AddInt64(counter, 1)
		return t, true
	case <-timer.C:
		return nil, false
	}
}

// TaskDone marks the most recently dequeued task on the named queue as
// complete, for the completion counters Idle relies on.
func (s *Scheduler) TaskDone(name string) {
	s.mu.Lock()
	counter := s.inFlight[name]
	s.mu.Unlock()
	if counter != nil {
		atomic.AddInt64(counter, -1)
	}
}

// Idle reports whether the named stage queue is empty and has no in-flight
// tasks. Used by one-off mode to know when a stage has fully drained; it
// says nothing about tasks still waiting on the deadline heap, which is
// intentional (those are legitimately scheduled for later).
func (s *Scheduler) Idle(name string) bool {
	s.mu.Lock()
	q := s.queues[name]
	counter := s.inFlight[name]
	s.mu.Unlock()
	if q == nil {
		return true
	}
	return len(q) == 0 && atomic.LoadInt64(counter) == 0
}

// IdleAll reports whether every registered stage queue is Idle.
func (s *Scheduler) IdleAll() bool {
	s.mu.Lock()
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		if !s.Idle(name) {
			return false
		}
	}
	return true
}

// Start runs the dispatch loop until Stop is called. It wakes roughly once a
// second, moving every due deadline-heap entry to its stage queue in
// insertion order, matching spec.md §4.5.
func (s *Scheduler) Start() {
	defer close(s.doneCh)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatchDue()
		}
	}
}

// Stop signals the dispatch loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) dispatchDue() {
	now := time.Now()
	var due []*heapEntry
	s.mu.Lock()
	for len(s.h) > 0 && !s.h[0].time.After(now) {
		e := heap.Pop(&s.h).(*heapEntry)
		delete(s.deadlineOf, e.task)
		if set := s.bySubject[e.task.Subject]; set != nil {
			delete(set, e.task)
			if len(set) == 0 {
				delete(s.bySubject, e.task.Subject)
			}
		}
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.mu.Lock()
		q := s.queues[e.task.Stage]
		s.mu.Unlock()
		if q == nil {
			continue
		}
		q <- e.task
		lateness := now.Sub(e.time)
		s.logger.Debug("dispatched task",
			zap.String("stage", e.task.Stage),
			zap.Stringer("subject", e.task.Subject),
			zap.Duration("lateness", lateness),
		)
	}
}

// heapEntry is one entry in the deadline heap.
type heapEntry struct {
	task *Task
	time time.Time
	seq  uint64
}

// taskHeap is a container/heap.Interface ordering by (time, seq) so tasks
// with the same deadline dispatch in insertion order, per spec.md §4.5.
type taskHeap []*heapEntry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].time.Equal(h[j].time) {
		return h[i].seq < h[j].seq
	}
	return h[i].time.Before(h[j].time)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*heapEntry)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
