package validator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"valnode/internal/logging"
)

// TaskSupervisor owns every long-running background task spawned by the
// node. Each task gets a cancellation context checked cooperatively between
// iterations; ShutDown additionally cancels tasks that never poll it.
type TaskSupervisor struct {
	mu     sync.Mutex
	root   context.Context
	cancel context.CancelFunc
	tasks  map[string]*task
	seq    uint64
	down   atomic.Bool
	once   sync.Once
	logger logging.Logger
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTaskSupervisor(logger logging.Logger) *TaskSupervisor {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	root, cancel := context.WithCancel(context.Background())
	return &TaskSupervisor{
		root:   root,
		cancel: cancel,
		tasks:  map[string]*task{},
		logger: logger,
	}
}

// Spawn registers and starts a unit of background work. Fire-and-forget:
// nothing is returned; the supervisor retains the cancelable handle. Spawning
// after shutdown is a no-op.
func (s *TaskSupervisor) Spawn(name string, fn func(ctx context.Context)) {
	if s.down.Load() {
		s.logger.Warnf("Refusing to spawn task after shutdown name=%s", name)
		return
	}

	ctx, cancel := context.WithCancel(s.root)
	t := &task{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.seq++
	if _, exists := s.tasks[name]; exists {
		name = fmt.Sprintf("%s#%d", name, s.seq)
	}
	s.tasks[name] = t
	s.mu.Unlock()

	go func() {
		defer close(t.done)
		fn(ctx)
	}()
}

// ShuttingDown reports whether shutdown has been initiated. Loop-based tasks
// observe cancellation through their context; this flag exists for callers
// outside a task context.
func (s *TaskSupervisor) ShuttingDown() bool { return s.down.Load() }

// NumTasks returns the number of registered tasks.
func (s *TaskSupervisor) NumTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// ShutDown signals cooperative cancellation, force-cancels every registered
// handle and waits for the tasks to exit, bounded by the context. It runs at
// most once; errors are logged, never surfaced.
func (s *TaskSupervisor) ShutDown(ctx context.Context) {
	s.once.Do(func() {
		s.down.Store(true)
		s.cancel()

		s.mu.Lock()
		pending := make(map[string]*task, len(s.tasks))
		for name, t := range s.tasks {
			pending[name] = t
		}
		s.mu.Unlock()

		for name, t := range pending {
			t.cancel()
			select {
			case <-t.done:
			case <-ctx.Done():
				s.logger.Warnf("Task did not stop before deadline name=%s", name)
			}
		}
		s.logger.Infof("Task supervisor stopped tasks=%d", len(pending))
	})
}
