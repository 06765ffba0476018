package broker

import (
	"context"
	"errors"
	"sync"
)

// ErrBrokerDown is returned by MemoryBroker.Dial while the broker is down.
var ErrBrokerDown = errors.New("broker: memory broker is down")

type memoryQueue struct {
	messages [][]byte
	signal   chan struct{} // closed and replaced on every push
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{signal: make(chan struct{})}
}

// MemoryBroker is a single-process broker with durable queues. Queues and
// their messages outlive the connections dialed against it, so it can stand
// in for a real broker in development and tests, including outages via
// SetDown and Sever.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	conns  map[*memoryConn]struct{}
	down   bool
	dials  int
}

// NewMemoryBroker creates an empty, reachable MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*memoryQueue),
		conns:  make(map[*memoryConn]struct{}),
	}
}

// Dial opens a connection unless the broker is down.
func (b *MemoryBroker) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if b.down {
		return nil, ErrBrokerDown
	}

	c := &memoryConn{
		broker: b,
		done:   make(chan struct{}),
		closed: make(chan error, 1),
	}
	b.conns[c] = struct{}{}
	return c, nil
}

// SetDown makes subsequent dials fail (true) or succeed (false). Existing
// connections are unaffected; use Sever to drop them.
func (b *MemoryBroker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// Sever drops every open connection as a broker restart would. Unsettled
// deliveries go back to the head of their queue.
func (b *MemoryBroker) Sever() {
	b.mu.Lock()
	conns := make([]*memoryConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.shutdown(ErrConnectionLost)
	}
}

// Depth returns the number of ready messages in queue.
func (b *MemoryBroker) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.messages)
	}
	return 0
}

// Messages returns a copy of the ready messages in queue, oldest first.
func (b *MemoryBroker) Messages(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	out := make([][]byte, len(q.messages))
	copy(out, q.messages)
	return out
}

// Dials returns how many dial attempts the broker has seen.
func (b *MemoryBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// queueLocked returns queue name, declaring it if needed. b.mu must be held.
func (b *MemoryBroker) queueLocked(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = newMemoryQueue()
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) push(name string, body []byte, front bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueLocked(name)
	if front {
		q.messages = append([][]byte{body}, q.messages...)
	} else {
		q.messages = append(q.messages, body)
	}
	close(q.signal)
	q.signal = make(chan struct{})
}

// pop removes the head of queue name, or returns a channel that is closed
// when something is pushed.
func (b *MemoryBroker) pop(name string) ([]byte, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueLocked(name)
	if len(q.messages) == 0 {
		return nil, q.signal
	}
	body := q.messages[0]
	q.messages = q.messages[1:]
	return body, nil
}

type memoryConn struct {
	broker *MemoryBroker

	mu       sync.Mutex
	inflight map[*memoryDelivery]string // delivery -> queue
	isClosed bool

	done   chan struct{}
	closed chan error
	once   sync.Once
	wg     sync.WaitGroup
}

func (c *memoryConn) DeclareQueue(name string) error {
	if c.isDone() {
		return ErrClosed
	}
	c.broker.mu.Lock()
	c.broker.queueLocked(name)
	c.broker.mu.Unlock()
	return nil
}

func (c *memoryConn) Publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isDone() {
		return ErrClosed
	}
	msg := make([]byte, len(body))
	copy(msg, body)
	c.broker.push(queue, msg, false)
	return nil
}

func (c *memoryConn) Consume(queue string, prefetch int) (<-chan Delivery, error) {
	if c.isDone() {
		return nil, ErrClosed
	}
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}

	out := make(chan Delivery)
	slots := make(chan struct{}, prefetch)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)

		for {
			select {
			case slots <- struct{}{}:
			case <-c.done:
				return
			}

			body, wait := c.broker.pop(queue)
			for body == nil {
				select {
				case <-wait:
				case <-c.done:
					return
				}
				body, wait = c.broker.pop(queue)
			}

			d := &memoryDelivery{conn: c, queue: queue, body: body, release: func() { <-slots }}
			if !c.track(d) {
				c.broker.push(queue, body, true)
				return
			}

			select {
			case out <- d:
			case <-c.done:
				return
			}
		}
	}()
	return out, nil
}

func (c *memoryConn) NotifyClose() <-chan error {
	return c.closed
}

func (c *memoryConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *memoryConn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *memoryConn) track(d *memoryDelivery) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return false
	}
	if c.inflight == nil {
		c.inflight = make(map[*memoryDelivery]string)
	}
	c.inflight[d] = d.queue
	return true
}

// settle removes d from the in-flight set. It reports false if d was
// already settled or requeued by a shutdown.
func (c *memoryConn) settle(d *memoryDelivery) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[d]; !ok {
		return false
	}
	delete(c.inflight, d)
	return true
}

func (c *memoryConn) shutdown(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.isClosed = true
		pending := c.inflight
		c.inflight = nil
		c.mu.Unlock()

		for d, queue := range pending {
			c.broker.push(queue, d.body, true)
		}

		c.broker.mu.Lock()
		delete(c.broker.conns, c)
		c.broker.mu.Unlock()

		close(c.done)
		c.wg.Wait()

		if cause != nil {
			c.closed <- cause
		}
		close(c.closed)
	})
}

type memoryDelivery struct {
	conn    *memoryConn
	queue   string
	body    []byte
	release func()
}

func (d *memoryDelivery) Body() []byte { return d.body }

func (d *memoryDelivery) Ack() error {
	if !d.conn.settle(d) {
		return ErrAlreadySettled
	}
	d.release()
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	if !d.conn.settle(d) {
		return ErrAlreadySettled
	}
	if requeue {
		d.conn.broker.push(d.queue, d.body, true)
	}
	d.release()
	return nil
}
