package notifications

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/darkden-lab/taskflow/internal/email"
	"github.com/darkden-lab/taskflow/internal/users"
)

type memRepo struct {
	mu       sync.Mutex
	items    map[string]Notification
	failWith error
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[string]Notification)}
}

func clone(n Notification) Notification {
	meta := make(map[string]interface{}, len(n.Metadata))
	for k, v := range n.Metadata {
		meta[k] = v
	}
	n.Metadata = meta
	return n
}

func (r *memRepo) Create(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.items[n.ID] = clone(*n)
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := clone(n)
	return &c, nil
}

func (r *memRepo) FindByUser(_ context.Context, userID string, status Status) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Notification{}
	for _, n := range r.items {
		if n.UserID != userID || (status != "" && n.Status != status) {
			continue
		}
		out = append(out, clone(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, n *Notification, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[n.ID]
	if !ok || cur.Status != from {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, n.ID)
	}
	cur.Status = n.Status
	cur.SentAt = n.SentAt
	r.items[n.ID] = cur
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *memRepo) CountByStatus(_ context.Context, userID string, status Status) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.UserID == userID && it.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) MarkAllRead(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, it := range r.items {
		if it.UserID == userID && it.Status == StatusPending {
			it.Status = StatusRead
			r.items[id] = it
			n++
		}
	}
	return n, nil
}

func (r *memRepo) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, 0, len(r.items))
	for _, n := range r.items {
		out = append(out, clone(n))
	}
	return out
}

type fakeUsers map[string]string // id -> email

func (f fakeUsers) FindByID(_ context.Context, id string) (*users.User, error) {
	addr, ok := f[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return &users.User{ID: id, Email: addr}, nil
}

type fakeMailer struct {
	mu     sync.Mutex
	ok     bool
	sent   []email.TaskMail
	sentTo []string
}

func (m *fakeMailer) SendTaskNotification(_ context.Context, to string, tm email.TaskMail) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, tm)
	m.sentTo = append(m.sentTo, to)
	return m.ok
}

type hookFunc struct {
	name string
	fn   func(ctx context.Context, n *Notification) error
}

func (h hookFunc) Name() string { return h.name }

func (h hookFunc) AfterCreate(ctx context.Context, n *Notification) error { return h.fn(ctx, n) }

type fakePusher struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (p *fakePusher) SendToUser(userID string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, userID)
	return p.err
}
