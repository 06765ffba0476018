package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/metrics"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultPrefetch       = 1
)

// Options tunes a Client. Zero values take the defaults.
type Options struct {
	ReconnectDelay time.Duration
	Prefetch       int
}

type consumer struct {
	queue   string
	handler Handler
	gen     uint64 // connection generation the consumer is attached to
}

// Client owns the process-wide broker connection. Only its own reconnect
// loop replaces the connection; everything else goes through Publish and
// Consume.
type Client struct {
	dialer   Dialer
	delay    time.Duration
	prefetch int
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	state     State
	conn      Conn
	gen       uint64
	consumers []*consumer
	started   bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a disconnected Client. Call Connect to start the
// connection loop.
func NewClient(dialer Dialer, opts Options, logger zerolog.Logger, m *metrics.Metrics) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = DefaultPrefetch
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		dialer:   dialer,
		delay:    opts.ReconnectDelay,
		prefetch: opts.Prefetch,
		logger:   logger.With().Str("component", "broker").Logger(),
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connect starts the background connection loop. It returns immediately:
// dial failures and dropped connections are retried every reconnect delay
// until Close is called.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true

	c.wg.Add(1)
	go c.run()
}

// Publish declares queue durable and sends body as a persistent message.
// It returns false without error when the client is not connected or the
// broker rejects the message; the message is then dropped.
func (c *Client) Publish(ctx context.Context, queue string, body []byte) bool {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != StateConnected || conn == nil {
		c.logger.Warn().Str("queue", queue).Msg("cannot publish: broker not connected")
		c.metrics.Dropped.WithLabelValues(queue).Inc()
		return false
	}

	if err := conn.DeclareQueue(queue); err != nil {
		c.logger.Error().Err(err).Str("queue", queue).Msg("failed to declare queue")
		c.metrics.Dropped.WithLabelValues(queue).Inc()
		return false
	}
	if err := conn.Publish(ctx, queue, body); err != nil {
		c.logger.Error().Err(err).Str("queue", queue).Msg("failed to publish message")
		c.metrics.Dropped.WithLabelValues(queue).Inc()
		return false
	}

	c.logger.Debug().Str("queue", queue).Int("bytes", len(body)).Msg("message published")
	c.metrics.Published.WithLabelValues(queue).Inc()
	return true
}

// Consume registers handler for queue. Messages are handled one at a time
// per prefetch slot and acked on success or nacked without requeue on
// error or panic. When the client is not connected, registration is
// retried after the reconnect delay. Consumers are re-attached after every
// reconnect.
func (c *Client) Consume(queue string, handler Handler) {
	cons := &consumer{queue: queue, handler: handler}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Warn().Str("queue", queue).Msg("cannot consume: client closed")
		return
	}
	c.consumers = append(c.consumers, cons)
	conn, gen, state := c.conn, c.gen, c.state
	c.mu.Unlock()

	if state == StateConnected && conn != nil {
		c.attach(cons, conn, gen)
		return
	}

	c.logger.Warn().
		Str("queue", queue).
		Dur("retry_in", c.delay).
		Msg("cannot consume: broker not connected, retrying")
	c.wg.Add(1)
	go c.retryAttach(cons)
}

// Close stops the reconnect loop and every consumer, then closes the
// connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Client) run() {
	defer c.wg.Done()

	for {
		if conn := c.dial(); conn != nil {
			select {
			case err := <-conn.NotifyClose():
				c.drop(conn, err)
			case <-c.ctx.Done():
				return
			}
		}

		timer := time.NewTimer(c.delay)
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (c *Client) dial() Conn {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, err := c.dialer.Dial(c.ctx)
	if err != nil {
		c.mu.Lock()
		if !c.closed {
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		c.logger.Error().Err(err).Dur("retry_in", c.delay).Msg("failed to connect to broker")
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close() //nolint:errcheck // closing a connection nobody will use
		return nil
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnected)
	pending := make([]*consumer, len(c.consumers))
	copy(pending, c.consumers)
	c.mu.Unlock()

	for _, cons := range pending {
		c.attach(cons, conn, gen)
	}
	return conn
}

func (c *Client) drop(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if !c.closed {
			c.setStateLocked(StateDisconnected)
		}
	}
	c.mu.Unlock()

	if cause == nil {
		cause = ErrConnectionLost
	}
	c.logger.Warn().Err(cause).Dur("retry_in", c.delay).Msg("broker connection closed, reconnecting")
	conn.Close() //nolint:errcheck // already dropped
}

func (c *Client) retryAttach(cons *consumer) {
	defer c.wg.Done()

	for {
		timer := time.NewTimer(c.delay)
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			return
		}

		c.mu.RLock()
		conn, gen, state := c.conn, c.gen, c.state
		attached := cons.gen != 0 && cons.gen == gen
		c.mu.RUnlock()

		if attached {
			return
		}
		if state == StateConnected && conn != nil {
			c.attach(cons, conn, gen)
			return
		}
		c.logger.Warn().
			Str("queue", cons.queue).
			Dur("retry_in", c.delay).
			Msg("cannot consume: broker not connected, retrying")
	}
}

// attach binds cons to conn unless it is already bound to that generation
// or conn has been replaced in the meantime.
func (c *Client) attach(cons *consumer, conn Conn, gen uint64) {
	c.mu.Lock()
	if cons.gen == gen || c.gen != gen || c.closed {
		c.mu.Unlock()
		return
	}
	cons.gen = gen
	c.mu.Unlock()

	deliveries, err := c.open(conn, cons.queue)
	if err != nil {
		c.mu.Lock()
		if cons.gen == gen {
			cons.gen = 0
		}
		closed := c.closed
		c.mu.Unlock()
		c.logger.Error().Err(err).Str("queue", cons.queue).Dur("retry_in", c.delay).Msg("failed to consume from queue")
		if !closed {
			c.wg.Add(1)
			go c.retryAttach(cons)
		}
		return
	}

	c.wg.Add(1)
	go c.serve(cons, deliveries)
	c.logger.Info().Str("queue", cons.queue).Int("prefetch", c.prefetch).Msg("listening to queue")
}

func (c *Client) open(conn Conn, queue string) (<-chan Delivery, error) {
	if err := conn.DeclareQueue(queue); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	deliveries, err := conn.Consume(queue, c.prefetch)
	if err != nil {
		return nil, fmt.Errorf("consume queue %s: %w", queue, err)
	}
	return deliveries, nil
}

func (c *Client) serve(cons *consumer, deliveries <-chan Delivery) {
	defer c.wg.Done()
	for d := range deliveries {
		c.handle(cons, d)
	}
}

func (c *Client) handle(cons *consumer, d Delivery) {
	if err := c.invoke(cons.handler, d.Body()); err != nil {
		c.logger.Error().Err(err).Str("queue", cons.queue).Msg("error processing message, dropping")
		if nerr := d.Nack(false); nerr != nil {
			c.logger.Error().Err(nerr).Str("queue", cons.queue).Msg("failed to nack message")
		}
		c.metrics.Deliveries.WithLabelValues(cons.queue, metrics.OutcomeNack).Inc()
		return
	}

	if err := d.Ack(); err != nil {
		c.logger.Error().Err(err).Str("queue", cons.queue).Msg("failed to ack message")
	}
	c.metrics.Deliveries.WithLabelValues(cons.queue, metrics.OutcomeAck).Inc()
}

// invoke runs h without a deadline. Panics become errors so one bad
// message cannot take the consumer down.
func (c *Client) invoke(h Handler, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(context.WithoutCancel(c.ctx), body)
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.metrics.BrokerState.Set(float64(s))
	c.logger.Info().Str("from", prev.String()).Str("to", s.String()).Msg("broker state changed")
}
