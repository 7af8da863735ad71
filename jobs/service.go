package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kzlab/vgs/workspace"
	"go.uber.org/zap"
)

// LogFile is the name of the captured tool output in a job directory.
const LogFile = "job.log"

// pollInterval bounds how long a queued task waits when a wakeup is missed.
const pollInterval = 5 * time.Second

// defaultLease is how long an in-progress task survives without a
// heartbeat from the process running it.
const defaultLease = 30 * time.Second

// Handler runs one task inside its work directory. Tool output goes to log.
// The returned value is stored as the task result.
type Handler func(ctx context.Context, task *Task, dir *workspace.Dir, log io.Writer) (any, error)

// Service queues and runs tasks.
type Service struct {
	store    *Store
	ws       *workspace.Workspace
	workers  int
	logger   *zap.Logger
	now      func() time.Time
	handlers map[string]Handler

	// owner identifies this service in the leases it takes.
	owner   string
	lease   time.Duration
	ownOnly bool
	mu      sync.Mutex
	pending map[string]struct{}

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option is a functional option for configuring the service.
type Option func(*Service)

// WithWorkers sets how many tasks run at the same time.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithLease sets how long a task claimed by a process that stopped renewing
// it stays in-progress before it is failed. Leases are renewed every third
// of that.
func WithLease(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lease = d
		}
	}
}

// WithOwnTasksOnly makes the workers run only tasks submitted through this
// service, leaving the rest of a shared queue to the server.
func WithOwnTasksOnly() Option {
	return func(s *Service) {
		s.ownOnly = true
	}
}

// NewService creates a service. Handlers must be registered before Start.
func NewService(store *Store, ws *workspace.Workspace, opts ...Option) *Service {
	s := &Service{
		store:    store,
		ws:       ws,
		workers:  1,
		logger:   zap.NewNop(),
		now:      time.Now,
		handlers: make(map[string]Handler),
		owner:    uuid.NewString(),
		lease:    defaultLease,
		pending:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register sets the handler for app.
func (s *Service) Register(app string, h Handler) {
	s.handlers[app] = h
}

// Start fails tasks whose lease has expired and starts the workers along
// with the lease keeper. Tasks still queued from an earlier run are picked
// up unless the service runs only its own tasks.
func (s *Service) Start(ctx context.Context) error {
	if err := s.reap(ctx); err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.wg.Add(1)
	go s.keepLeases(ctx)
	s.logger.Info("job workers started", zap.Int("workers", s.workers))
	return nil
}

// Close stops the workers, cancelling running tasks, and waits for them.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Submit queues a task for app. params is stored as JSON.
func (s *Service) Submit(ctx context.Context, app, reference string, params any) (*Task, error) {
	return s.SubmitWith(ctx, app, reference, params, nil)
}

// SubmitWith is Submit with a prepare step that fills the new work
// directory, such as storing an upload, before the task can be claimed.
// The directory is removed when prepare fails.
func (s *Service) SubmitWith(ctx context.Context, app, reference string, params any, prepare func(*workspace.Dir) error) (*Task, error) {
	if _, ok := s.handlers[app]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, app)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding parameters: %w", err)
	}

	id := uuid.NewString()
	dir, err := s.ws.Create(id)
	if err != nil {
		return nil, err
	}
	if prepare != nil {
		if err := prepare(dir); err != nil {
			s.ws.Remove(id)
			return nil, err
		}
	}
	t := &Task{
		ID:         id,
		App:        app,
		Reference:  reference,
		Parameters: raw,
		Status:     StatusQueued,
		SubmitTime: s.now(),
		Output:     dir.Path,
	}
	s.track(id, true)
	if err := s.store.Insert(ctx, t); err != nil {
		s.track(id, false)
		s.ws.Remove(id)
		return nil, err
	}

	s.logger.Info("job submitted",
		zap.String("job", id),
		zap.String("app", app),
		zap.String("reference", reference))
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return t, nil
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.store.Get(ctx, id)
}

// Query returns the known tasks among ids.
func (s *Service) Query(ctx context.Context, ids []string) (map[string]*Task, error) {
	return s.store.Query(ctx, ids)
}

// Enumerate lists tasks newest first.
func (s *Service) Enumerate(ctx context.Context, offset, count int) ([]*Task, error) {
	return s.store.Enumerate(ctx, offset, count)
}

// Summary counts tasks by status.
func (s *Service) Summary(ctx context.Context) (map[Status]int, error) {
	return s.store.Summary(ctx)
}

// Dir opens the work directory of a task.
func (s *Service) Dir(id string) (*workspace.Dir, error) {
	return s.ws.Open(id)
}

// Log returns the captured tool output of a task.
func (s *Service) Log(id string) (string, error) {
	dir, err := s.ws.Open(id)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := os.ReadFile(dir.File(LogFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return string(data), err
}

// Wait blocks until the task reaches a final status or ctx is done.
func (s *Service) Wait(ctx context.Context, id string, every time.Duration) (*Task, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		t, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status.Done() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) worker(ctx context.Context, n int) {
	defer s.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		for {
			t, err := s.claim(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("claiming job", zap.Int("worker", n), zap.Error(err))
				break
			}
			if t == nil {
				break
			}
			s.run(ctx, t)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

func (s *Service) claim(ctx context.Context) (*Task, error) {
	if !s.ownOnly {
		return s.store.Claim(ctx, s.owner, s.now())
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	t, err := s.store.ClaimAmong(ctx, s.owner, s.now(), ids)
	if t != nil {
		s.track(t.ID, false)
	}
	return t, err
}

// track records whether a submitted task is still waiting for one of this
// service's workers.
func (s *Service) track(id string, queued bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if queued {
		s.pending[id] = struct{}{}
	} else {
		delete(s.pending, id)
	}
}

// keepLeases renews the leases of running tasks and fails tasks left behind
// by processes that stopped renewing theirs.
func (s *Service) keepLeases(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.store.Heartbeat(ctx, s.owner, s.now()); err != nil && ctx.Err() == nil {
			s.logger.Error("renewing job leases", zap.Error(err))
		}
		if err := s.reap(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("failing interrupted jobs", zap.Error(err))
		}
	}
}

func (s *Service) reap(ctx context.Context) error {
	now := s.now()
	n, err := s.store.FailInterrupted(ctx, now, now.Add(-s.lease))
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("marked interrupted jobs as failed", zap.Int("count", n))
	}
	return nil
}

func (s *Service) run(ctx context.Context, t *Task) {
	log := s.logger.With(zap.String("job", t.ID), zap.String("app", t.App))
	log.Info("job started")

	result, err := s.execute(ctx, t)

	var raw []byte
	if err == nil && result != nil {
		if raw, err = json.Marshal(result); err != nil {
			err = fmt.Errorf("encoding result: %w", err)
		}
	}

	// Record the outcome even when the service is shutting down.
	finishCtx := context.WithoutCancel(ctx)
	if ferr := s.store.Finish(finishCtx, t.ID, s.now(), raw, err); ferr != nil {
		log.Error("recording job outcome", zap.Error(ferr))
	}
	if err != nil {
		log.Warn("job failed", zap.Error(err))
		return
	}
	log.Info("job completed")
}

func (s *Service) execute(ctx context.Context, t *Task) (result any, err error) {
	h, ok := s.handlers[t.App]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, t.App)
	}
	dir, err := s.ws.Open(t.ID)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(dir.File(LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening job log: %w", err)
	}
	defer f.Close()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, t, dir, f)
}
