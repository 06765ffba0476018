package tasks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/cache"
	"github.com/darkden-lab/taskflow/internal/metrics"
)

// steps records the order of side effects across fakes.
type steps struct {
	mu  sync.Mutex
	log []string
}

func (s *steps) add(step string) {
	s.mu.Lock()
	s.log = append(s.log, step)
	s.mu.Unlock()
}

func (s *steps) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

type memRepo struct {
	mu        sync.Mutex
	tasks     map[string]Task
	listCalls int
	failWith  error
	steps     *steps
}

func newMemRepo(st *steps) *memRepo {
	return &memRepo{tasks: make(map[string]Task), steps: st}
}

func (r *memRepo) Create(_ context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.tasks[t.ID] = cloneTask(*t)
	r.steps.add("persist")
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneTask(t)
	return &c, nil
}

func (r *memRepo) List(_ context.Context, f Filter) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	if r.failWith != nil {
		return nil, r.failWith
	}
	var out []Task
	for _, t := range r.tasks {
		if t.UserID != f.UserID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.CategoryID != "" && (t.CategoryID == nil || *t.CategoryID != f.CategoryID) {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) Update(_ context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	r.tasks[t.ID] = cloneTask(*t)
	r.steps.add("persist")
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.tasks, id)
	r.steps.add("persist")
	return nil
}

func (r *memRepo) ToggleSubtask(_ context.Context, taskID, subtaskID string) (*Subtask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == subtaskID {
			t.Subtasks[i].Completed = !t.Subtasks[i].Completed
			r.tasks[taskID] = t
			st := t.Subtasks[i]
			r.steps.add("persist")
			return &st, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) listCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

func cloneTask(t Task) Task {
	t.Subtasks = append([]Subtask{}, t.Subtasks...)
	return t
}

type published struct {
	pattern string
	data    interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
	steps  *steps
}

func (p *fakePublisher) Publish(_ context.Context, pattern string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{pattern: pattern, data: data})
	p.steps.add("publish")
	return p.err
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

// trackingCache records invalidations on top of a real advisory cache.
type trackingCache struct {
	*cache.Service
	steps *steps
}

func (c *trackingCache) DelByPrefix(ctx context.Context, prefix string) {
	c.steps.add("invalidate:" + prefix)
	c.Service.DelByPrefix(ctx, prefix)
}

// downStore fails every call like an unreachable Redis.
type downStore struct{}

var errDown = errors.New("dial tcp: connection refused")

func (downStore) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (downStore) Set(context.Context, string, []byte, time.Duration) error { return errDown }
func (downStore) Del(context.Context, string) error { return errDown }
func (downStore) DelByPrefix(context.Context, string) (int, error) { return 0, errDown }
func (downStore) Close() error { return nil }

type fixture struct {
	svc   *Service
	repo  *memRepo
	pub   *fakePublisher
	store cache.Store
	steps *steps
}

func newFixture(store cache.Store) *fixture {
	st := &steps{}
	if store == nil {
		store = cache.NewMemoryStore()
	}
	repo := newMemRepo(st)
	pub := &fakePublisher{steps: st}
	c := &trackingCache{Service: cache.NewService(store, 300*time.Second, zerolog.Nop(), metrics.New()), steps: st}

	svc := NewService(repo, c, pub, zerolog.Nop())
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return &fixture{svc: svc, repo: repo, pub: pub, store: store, steps: st}
}
