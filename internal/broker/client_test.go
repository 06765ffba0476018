package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/metrics"
)

const testDelay = 20 * time.Millisecond

func newTestClient(t *testing.T, dialer Dialer) (*Client, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	c := NewClient(dialer, Options{ReconnectDelay: testDelay}, zerolog.Nop(), m)
	t.Cleanup(func() { c.Close() })
	return c, m
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, still %s", want, c.State())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_PublishWhileDisconnectedDrops(t *testing.T) {
	mb := NewMemoryBroker()
	c, m := newTestClient(t, mb)

	if c.State() != StateDisconnected {
		t.Fatalf("expected initial state disconnected, got %s", c.State())
	}
	if ok := c.Publish(context.Background(), "tasks_queue", []byte(`{}`)); ok {
		t.Fatal("expected publish to report false while disconnected")
	}
	if mb.Depth("tasks_queue") != 0 {
		t.Errorf("expected nothing enqueued, got %d", mb.Depth("tasks_queue"))
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues("tasks_queue")); got != 1 {
		t.Errorf("expected 1 dropped message, got %v", got)
	}
}

func TestClient_ConnectAndPublish(t *testing.T) {
	mb := NewMemoryBroker()
	c, m := newTestClient(t, mb)

	c.Connect()
	waitForState(t, c, StateConnected)

	if ok := c.Publish(context.Background(), "tasks_queue", []byte(`{"pattern":"task.created"}`)); !ok {
		t.Fatal("expected publish to succeed")
	}

	msgs := mb.Messages("tasks_queue")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0]) != `{"pattern":"task.created"}` {
		t.Errorf("unexpected body %q", msgs[0])
	}
	if got := testutil.ToFloat64(m.Published.WithLabelValues("tasks_queue")); got != 1 {
		t.Errorf("expected 1 published message, got %v", got)
	}
	if got := testutil.ToFloat64(m.BrokerState); got != float64(StateConnected) {
		t.Errorf("expected state gauge %d, got %v", StateConnected, got)
	}
}

func TestClient_ConsumeAcksOnSuccess(t *testing.T) {
	mb := NewMemoryBroker()
	c, m := newTestClient(t, mb)
	c.Connect()
	waitForState(t, c, StateConnected)

	received := make(chan string, 1)
	c.Consume("tasks_queue", func(ctx context.Context, body []byte) error {
		received <- string(body)
		return nil
	})

	c.Publish(context.Background(), "tasks_queue", []byte("hello"))

	select {
	case got := <-received:
		if got != "hello" {
			t.Errorf("expected 'hello', got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	waitFor(t, "ack counter", func() bool {
		return testutil.ToFloat64(m.Deliveries.WithLabelValues("tasks_queue", metrics.OutcomeAck)) == 1
	})
	if mb.Depth("tasks_queue") != 0 {
		t.Errorf("expected empty queue after ack, got %d", mb.Depth("tasks_queue"))
	}
}

func TestClient_ConsumeNacksWithoutRequeueOnError(t *testing.T) {
	mb := NewMemoryBroker()
	c, m := newTestClient(t, mb)
	c.Connect()
	waitForState(t, c, StateConnected)

	var calls atomic.Int32
	c.Consume("tasks_queue", func(ctx context.Context, body []byte) error {
		calls.Add(1)
		return errors.New("store unavailable")
	})

	c.Publish(context.Background(), "tasks_queue", []byte("doomed"))

	waitFor(t, "nack counter", func() bool {
		return testutil.ToFloat64(m.Deliveries.WithLabelValues("tasks_queue", metrics.OutcomeNack)) == 1
	})

	// A requeued message would be redelivered right away.
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 handler call, got %d", calls.Load())
	}
	if mb.Depth("tasks_queue") != 0 {
		t.Errorf("expected message to be discarded, depth %d", mb.Depth("tasks_queue"))
	}
}

func TestClient_HandlerPanicIsNacked(t *testing.T) {
	mb := NewMemoryBroker()
	c, m := newTestClient(t, mb)
	c.Connect()
	waitForState(t, c, StateConnected)

	done := make(chan struct{})
	var n atomic.Int32
	c.Consume("tasks_queue", func(ctx context.Context, body []byte) error {
		if n.Add(1) == 1 {
			panic("boom")
		}
		close(done)
		return nil
	})

	c.Publish(context.Background(), "tasks_queue", []byte("first"))
	c.Publish(context.Background(), "tasks_queue", []byte("second"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer loop did not survive the panic")
	}
	waitFor(t, "ack after panic", func() bool {
		return testutil.ToFloat64(m.Deliveries.WithLabelValues("tasks_queue", metrics.OutcomeAck)) == 1
	})
	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("tasks_queue", metrics.OutcomeNack)); got != 1 {
		t.Errorf("expected 1 nack, got %v", got)
	}
}

func TestClient_ConsumeBeforeConnectRetries(t *testing.T) {
	mb := NewMemoryBroker()
	c, _ := newTestClient(t, mb)

	received := make(chan string, 1)
	c.Consume("tasks_queue", func(ctx context.Context, body []byte) error {
		received <- string(body)
		return nil
	})

	// Seed the durable queue through a separate connection.
	producer, _ := newTestClient(t, mb)
	producer.Connect()
	waitForState(t, producer, StateConnected)
	producer.Publish(context.Background(), "tasks_queue", []byte("queued"))

	c.Connect()

	select {
	case got := <-received:
		if got != "queued" {
			t.Errorf("expected 'queued', got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was never attached")
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	mb := NewMemoryBroker()
	c, _ := newTestClient(t, mb)
	c.Connect()
	waitForState(t, c, StateConnected)

	received := make(chan string, 4)
	c.Consume("tasks_queue", func(ctx context.Context, body []byte) error {
		received <- string(body)
		return nil
	})

	mb.SetDown(true)
	mb.Sever()
	waitForState(t, c, StateDisconnected)

	if ok := c.Publish(context.Background(), "tasks_queue", []byte("lost")); ok {
		t.Error("expected publish during outage to report false")
	}

	dialsDuringOutage := mb.Dials()
	waitFor(t, "retry dials", func() bool { return mb.Dials() >= dialsDuringOutage+2 })

	mb.SetDown(false)
	waitForState(t, c, StateConnected)

	if ok := c.Publish(context.Background(), "tasks_queue", []byte("after")); !ok {
		t.Fatal("expected publish to succeed after reconnect")
	}

	select {
	case got := <-received:
		if got != "after" {
			t.Errorf("expected 'after', got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not re-attached after reconnect")
	}
}

func TestClient_PrefetchOneSerializesHandling(t *testing.T) {
	mb := NewMemoryBroker()
	c, _ := newTestClient(t, mb)
	c.Connect()
	waitForState(t, c, StateConnected)

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	c.Consume("tasks_queue", func(ctx context.Context, body []byte) error {
		defer wg.Done()
		n := inFlight.Add(1)
		for {
			old := maxInFlight.Load()
			if n <= old || maxInFlight.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	for i := 0; i < 3; i++ {
		c.Publish(context.Background(), "tasks_queue", []byte("m"))
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
	if maxInFlight.Load() != 1 {
		t.Errorf("expected at most 1 message in flight, saw %d", maxInFlight.Load())
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	mb := NewMemoryBroker()
	c, _ := newTestClient(t, mb)
	c.Connect()
	waitForState(t, c, StateConnected)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close returned error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("expected disconnected after close, got %s", c.State())
	}
	if ok := c.Publish(context.Background(), "tasks_queue", []byte("late")); ok {
		t.Error("expected publish after close to report false")
	}
}

func TestClient_DialErrorKeepsRetrying(t *testing.T) {
	var attempts atomic.Int32
	dialer := DialerFunc(func(ctx context.Context) (Conn, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	})
	c, _ := newTestClient(t, dialer)
	c.Connect()

	waitFor(t, "three dial attempts", func() bool { return attempts.Load() >= 3 })
	if s := c.State(); s == StateConnected {
		t.Errorf("expected client to stay unconnected, got %s", s)
	}
}
