package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds configuration for the Kafka transport.
type KafkaConfig struct {
	Brokers        []string      // list of broker addresses
	ConsumerGroup  string        // consumer group ID
	HealthInterval time.Duration // how often the control connection is probed
}

// KafkaDialer maps queues onto Kafka topics. Acks and nacks both commit
// the offset, so a nacked message is dropped like on a queue without a
// dead-letter exchange. Deliveries are sequential per topic.
type KafkaDialer struct {
	config KafkaConfig
}

// NewKafkaDialer validates config and fills defaults.
func NewKafkaDialer(config KafkaConfig) (*KafkaDialer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "taskflow-notifications"
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = 10 * time.Second
	}
	return &KafkaDialer{config: config}, nil
}

func (d *KafkaDialer) Dial(ctx context.Context) (Conn, error) {
	var (
		control *kafka.Conn
		err     error
	)
	for _, addr := range d.config.Brokers {
		control, err = kafka.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial kafka: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &kafkaConn{
		config:  d.config,
		control: control,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(d.config.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		declared: make(map[string]bool),
		ctx:      connCtx,
		cancel:   cancel,
		closed:   make(chan error, 1),
	}
	go c.watch()
	return c, nil
}

type kafkaConn struct {
	config KafkaConfig
	writer *kafka.Writer

	mu       sync.Mutex
	control  *kafka.Conn
	declared map[string]bool
	readers  []*kafka.Reader

	ctx    context.Context
	cancel context.CancelFunc
	closed chan error
	once   sync.Once
}

// DeclareQueue creates the topic through the cluster controller. Existing
// topics are accepted.
func (c *kafkaConn) DeclareQueue(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.declared[name] {
		return nil
	}

	controller, err := c.control.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	cc, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer cc.Close()

	err = cc.CreateTopics(kafka.TopicConfig{
		Topic:             name,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", name, err)
	}
	c.declared[name] = true
	return nil
}

func (c *kafkaConn) Publish(ctx context.Context, queue string, body []byte) error {
	msg := kafka.Message{
		Topic: queue,
		Value: body,
		Time:  time.Now(),
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

func (c *kafkaConn) Consume(queue string, _ int) (<-chan Delivery, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.config.Brokers,
		Topic:    queue,
		GroupID:  c.config.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})

	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	out := make(chan Delivery)
	go c.consumeLoop(reader, out)
	return out, nil
}

func (c *kafkaConn) consumeLoop(reader *kafka.Reader, out chan<- Delivery) {
	defer close(out)

	for {
		msg, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.shutdown(fmt.Errorf("%w: fetch: %v", ErrConnectionLost, err))
			return
		}

		d := &kafkaDelivery{ctx: c.ctx, reader: reader, msg: msg, settled: make(chan struct{})}
		select {
		case out <- d:
		case <-c.ctx.Done():
			return
		}

		select {
		case <-d.settled:
		case <-c.ctx.Done():
			return
		}
	}
}

// watch probes the control connection until it fails or the conn closes.
func (c *kafkaConn) watch() {
	ticker := time.NewTicker(c.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			_, err := c.control.Brokers()
			c.mu.Unlock()
			if err != nil {
				go c.shutdown(fmt.Errorf("%w: %v", ErrConnectionLost, err))
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *kafkaConn) NotifyClose() <-chan error {
	return c.closed
}

func (c *kafkaConn) Close() error {
	return c.shutdown(nil)
}

func (c *kafkaConn) shutdown(cause error) error {
	var firstErr error
	c.once.Do(func() {
		c.cancel()

		c.mu.Lock()
		readers := c.readers
		c.readers = nil
		c.mu.Unlock()

		for _, r := range readers {
			if err := r.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := c.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.control.Close(); err != nil && firstErr == nil {
			firstErr = err
		}

		if cause != nil {
			c.closed <- cause
		}
		close(c.closed)
	})
	return firstErr
}

type kafkaDelivery struct {
	ctx     context.Context
	reader  *kafka.Reader
	msg     kafka.Message
	settled chan struct{}
	once    sync.Once
}

func (d *kafkaDelivery) Body() []byte { return d.msg.Value }

func (d *kafkaDelivery) Ack() error {
	return d.commit()
}

// Nack commits the offset unless requeue is set, in which case the offset
// is left uncommitted and the message comes back after a rebalance.
func (d *kafkaDelivery) Nack(requeue bool) error {
	if requeue {
		return d.finish(nil)
	}
	return d.commit()
}

func (d *kafkaDelivery) commit() error {
	return d.finish(func() error {
		return d.reader.CommitMessages(d.ctx, d.msg)
	})
}

func (d *kafkaDelivery) finish(fn func() error) error {
	err := ErrAlreadySettled
	d.once.Do(func() {
		err = nil
		if fn != nil {
			err = fn()
		}
		close(d.settled)
	})
	return err
}
