package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkden-lab/taskflow/internal/broker"
	"github.com/darkden-lab/taskflow/internal/cache"
	"github.com/darkden-lab/taskflow/internal/events"
	"github.com/darkden-lab/taskflow/internal/metrics"
	"github.com/darkden-lab/taskflow/internal/tasks"
)

// taskRepo is a minimal tasks.Repository for driving the producer side.
type taskRepo struct {
	mu    sync.Mutex
	tasks map[string]tasks.Task
}

func (r *taskRepo) Create(_ context.Context, t *tasks.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = *t
	return nil
}

func (r *taskRepo) FindByID(_ context.Context, id string) (*tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, tasks.ErrNotFound
	}
	return &t, nil
}

func (r *taskRepo) List(_ context.Context, f tasks.Filter) ([]tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []tasks.Task{}
	for _, t := range r.tasks {
		if t.UserID == f.UserID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *taskRepo) Update(_ context.Context, t *tasks.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = *t
	return nil
}

func (r *taskRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
	return nil
}

func (r *taskRepo) ToggleSubtask(context.Context, string, string) (*tasks.Subtask, error) {
	return nil, tasks.ErrNotFound
}

func newBrokerClient(t *testing.T, mb *broker.MemoryBroker) *broker.Client {
	t.Helper()
	c := broker.NewClient(mb, broker.Options{ReconnectDelay: 20 * time.Millisecond}, zerolog.Nop(), metrics.New())
	t.Cleanup(func() { c.Close() })
	c.Connect()
	waitUntil(t, "broker connected", func() bool { return c.State() == broker.StateConnected })
	return c
}

func TestPipeline_CreateTaskProducesUnreadNotification(t *testing.T) {
	ctx := context.Background()
	mb := broker.NewMemoryBroker()

	// Producer side.
	store := cache.NewMemoryStore()
	listCache := cache.NewService(store, 300*time.Second, zerolog.Nop(), metrics.New())
	repo := &taskRepo{tasks: make(map[string]tasks.Task)}
	producer := newBrokerClient(t, mb)
	taskSvc := tasks.NewService(repo, listCache, events.NewPublisher(producer), zerolog.Nop())

	// Consumer side, not yet subscribed so the queued message can be inspected.
	notifRepo := newMemRepo()
	notifSvc := NewService(notifRepo, zerolog.Nop())
	mailer := &fakeMailer{ok: true}
	consumer := NewConsumer(notifRepo, zerolog.Nop(), metrics.New(),
		NewEmailHook(fakeUsers{"u1": "u1@example.com"}, mailer, notifRepo, false, zerolog.Nop()))

	// Warm the cache for u1 under several keys, plus a key for another user.
	_, err := taskSvc.List(ctx, tasks.Filter{UserID: "u1"})
	require.NoError(t, err)
	_, err = taskSvc.List(ctx, tasks.Filter{UserID: "u1", Status: tasks.StatusPending})
	require.NoError(t, err)
	_, err = taskSvc.List(ctx, tasks.Filter{UserID: "u2"})
	require.NoError(t, err)
	require.Equal(t, 3, store.Len())

	before, err := notifSvc.UnreadCount(ctx, "u1")
	require.NoError(t, err)

	created, err := taskSvc.Create(ctx, "u1", tasks.CreateInput{Title: "Buy milk"})
	require.NoError(t, err)

	// (1) persisted
	_, err = repo.FindByID(ctx, created.ID)
	require.NoError(t, err)

	// (2) every tasks:u1: key removed, u2 untouched
	var cached []tasks.Task
	assert.False(t, listCache.GetJSON(ctx, tasks.ListKey("u1", "", ""), &cached))
	assert.False(t, listCache.GetJSON(ctx, tasks.ListKey("u1", tasks.StatusPending, ""), &cached))
	assert.True(t, listCache.GetJSON(ctx, tasks.ListKey("u2", "", ""), &cached))

	// (3) one task.created message on tasks_queue
	msgs := mb.Messages(events.QueueTasks)
	require.Len(t, msgs, 1)
	var env events.Envelope
	require.NoError(t, json.Unmarshal(msgs[0], &env))
	assert.Equal(t, events.PatternTaskCreated, env.Pattern)

	// (4) the consumer materializes it
	consumer.Register(newBrokerClient(t, mb))
	waitUntil(t, "notification created", func() bool { return len(notifRepo.all()) == 1 })

	n := notifRepo.all()[0]
	assert.Equal(t, "u1", n.UserID)
	assert.Equal(t, TypeTaskCreated, n.Type)
	assert.Equal(t, StatusPending, n.Status)
	assert.Equal(t, created.ID, n.Metadata["taskId"])

	// (5) unread count grows by exactly one
	after, err := notifSvc.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	waitUntil(t, "email attempted", func() bool {
		mailer.mu.Lock()
		defer mailer.mu.Unlock()
		return len(mailer.sent) == 1
	})
	waitUntil(t, "queue drained", func() bool { return mb.Depth(events.QueueTasks) == 0 })
}

func TestPipeline_MutationSucceedsWhileBrokerDown(t *testing.T) {
	ctx := context.Background()
	mb := broker.NewMemoryBroker()
	mb.SetDown(true)

	producer := broker.NewClient(mb, broker.Options{ReconnectDelay: 20 * time.Millisecond}, zerolog.Nop(), metrics.New())
	t.Cleanup(func() { producer.Close() })
	producer.Connect()

	store := cache.NewMemoryStore()
	listCache := cache.NewService(store, 300*time.Second, zerolog.Nop(), metrics.New())
	repo := &taskRepo{tasks: make(map[string]tasks.Task)}
	taskSvc := tasks.NewService(repo, listCache, events.NewPublisher(producer), zerolog.Nop())

	_, err := taskSvc.List(ctx, tasks.Filter{UserID: "u1"})
	require.NoError(t, err)

	created, err := taskSvc.Create(ctx, "u1", tasks.CreateInput{Title: "Offline"})
	require.NoError(t, err, "publish failure must not fail the mutation")

	list, err := taskSvc.List(ctx, tasks.Filter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 1, "cache was invalidated before the failed publish")
	assert.Equal(t, created.ID, list[0].ID)
	assert.Equal(t, 0, mb.Depth(events.QueueTasks), "event is dropped, not buffered")
}
