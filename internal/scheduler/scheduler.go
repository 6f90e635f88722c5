package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"tradeSentinel/internal/ports"
)

// Scheduler runs one repeating check per registered strategy. All entries are
// served by a single dispatcher goroutine over a time-ordered priority queue,
// so the goroutine count stays flat no matter how many strategies are
// registered. Each firing invokes the configured ports.FireHandler
// asynchronously and re-arms the entry at now + interval; the next fire time
// is never derived from the previous fire time, so a stalled callback does not
// cause catch-up bursts.
type Scheduler struct {
	mu      sync.Mutex
	logger  ports.Logger
	handler ports.FireHandler

	entries map[string]*entry
	queue   entryQueue
	wake    chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Config holds scheduler dependencies.
type Config struct {
	Logger  ports.Logger
	Handler ports.FireHandler
}

type entry struct {
	id       string
	interval time.Duration
	nextFire time.Time
	index    int // position in the queue
}

// New creates a scheduler. The handler is invoked once per firing, in its own
// goroutine.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for scheduler")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("fire handler is required for scheduler")
	}
	return &Scheduler{
		logger:  cfg.Logger,
		handler: cfg.Handler,
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Start launches the dispatcher goroutine.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ports.ErrAlreadyRunning
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.dispatchLoop()

	s.logger.Info(s.ctx, "Scheduler started")
	return nil
}

// Stop cancels all pending timers and blocks until the dispatcher and every
// in-flight callback invocation have completed.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.logger.Info(context.Background(), "Scheduler stopped")
	return nil
}

// Schedule arms a repeating check for id. Scheduling an id that already
// exists replaces its interval and re-arms it.
func (s *Scheduler) Schedule(id string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive: %w", ports.ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ports.ErrEngineNotRunning
	}

	next := time.Now().Add(interval)
	if e, ok := s.entries[id]; ok {
		e.interval = interval
		e.nextFire = next
		heap.Fix(&s.queue, e.index)
	} else {
		e := &entry{id: id, interval: interval, nextFire: next}
		heap.Push(&s.queue, e)
		s.entries[id] = e
	}
	s.notify()

	s.logger.Info(s.ctx, "Strategy scheduled", map[string]interface{}{
		"strategyID": id,
		"interval":   interval.String(),
		"nextFire":   next,
	})
	return nil
}

// Unschedule removes id from the schedule.
func (s *Scheduler) Unschedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ports.ErrEngineNotRunning
	}
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("unschedule %q: %w", id, ports.ErrNotScheduled)
	}
	heap.Remove(&s.queue, e.index)
	delete(s.entries, id)
	s.notify()

	s.logger.Info(s.ctx, "Strategy unscheduled", map[string]interface{}{"strategyID": id})
	return nil
}

// Reschedule changes the interval of an existing entry and re-arms it.
func (s *Scheduler) Reschedule(id string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive: %w", ports.ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ports.ErrEngineNotRunning
	}
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("reschedule %q: %w", id, ports.ErrNotScheduled)
	}
	e.interval = interval
	e.nextFire = time.Now().Add(interval)
	heap.Fix(&s.queue, e.index)
	s.notify()

	s.logger.Info(s.ctx, "Strategy rescheduled", map[string]interface{}{
		"strategyID": id,
		"interval":   interval.String(),
	})
	return nil
}

// NextFireTime returns when id will next fire.
func (s *Scheduler) NextFireTime(id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, fmt.Errorf("next fire time %q: %w", id, ports.ErrNotScheduled)
	}
	return e.nextFire, nil
}

// TriggerNow fires the handler for id immediately without touching its
// regular schedule.
func (s *Scheduler) TriggerNow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ports.ErrEngineNotRunning
	}
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("trigger %q: %w", id, ports.ErrNotScheduled)
	}

	s.logger.Info(s.ctx, "Immediate check triggered", map[string]interface{}{"strategyID": id})
	s.fire(id)
	return nil
}

// Scheduled returns the ids of all scheduled strategies.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// notify wakes the dispatcher after a queue mutation. Callers hold s.mu.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// fire invokes the handler for id in its own goroutine so a slow callback
// never blocks the dispatcher. Callback errors are logged; the schedule keeps
// running. Callers hold s.mu.
func (s *Scheduler) fire(id string) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.handler.OnFire(ctx, id); err != nil {
			s.logger.Error(ctx, err, "Strategy check failed", map[string]interface{}{"strategyID": id})
		}
	}()
}

// collectDue fires every entry whose deadline has passed, re-arms each at
// now + interval, and returns how long to sleep until the next deadline.
// A negative wait means the queue is empty.
func (s *Scheduler) collectDue() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for len(s.queue) > 0 && !s.queue[0].nextFire.After(now) {
		e := s.queue[0]
		s.logger.Debug(s.ctx, "Timer fired", map[string]interface{}{"strategyID": e.id})
		s.fire(e.id)
		e.nextFire = now.Add(e.interval)
		heap.Fix(&s.queue, 0)
	}

	if len(s.queue) == 0 {
		return -1
	}
	return time.Until(s.queue[0].nextFire)
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := s.collectDue()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}

		if wait < 0 {
			// Nothing scheduled; sleep until woken.
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		timer.Reset(wait)
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// --- priority queue ---

type entryQueue []*entry

func (q entryQueue) Len() int { return len(q) }

func (q entryQueue) Less(i, j int) bool { return q[i].nextFire.Before(q[j].nextFire) }

func (q entryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *entryQueue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *entryQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
