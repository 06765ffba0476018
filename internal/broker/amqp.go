package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPDialer connects to RabbitMQ (or any AMQP 0-9-1 broker). Each
// connection carries a single channel used for both publishing and
// consuming.
type AMQPDialer struct {
	URL       string
	Heartbeat time.Duration
}

// NewAMQPDialer validates url and returns a dialer for it.
func NewAMQPDialer(url string) (*AMQPDialer, error) {
	if _, err := amqp.ParseURI(url); err != nil {
		return nil, fmt.Errorf("invalid amqp url: %w", err)
	}
	return &AMQPDialer{URL: url, Heartbeat: 10 * time.Second}, nil
}

func (d *AMQPDialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(d.URL, amqp.Config{
		Heartbeat: d.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck // best-effort cleanup after failed channel open
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &amqpConn{
		conn:   conn,
		ch:     ch,
		closed: make(chan error, 1),
	}
	go c.watch(
		conn.NotifyClose(make(chan *amqp.Error, 1)),
		ch.NotifyClose(make(chan *amqp.Error, 1)),
	)
	return c, nil
}

type amqpConn struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan error
}

// watch forwards the first connection or channel close. A graceful close
// yields no error.
func (c *amqpConn) watch(connClosed, chClosed <-chan *amqp.Error) {
	var aerr *amqp.Error
	select {
	case aerr = <-connClosed:
	case aerr = <-chClosed:
	}
	if aerr != nil {
		c.closed <- fmt.Errorf("%w: %s", ErrConnectionLost, aerr.Error())
	}
	close(c.closed)
}

func (c *amqpConn) DeclareQueue(name string) error {
	_, err := c.ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}

func (c *amqpConn) Publish(ctx context.Context, queue string, body []byte) error {
	return c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (c *amqpConn) Consume(queue string, prefetch int) (<-chan Delivery, error) {
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	msgs, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for m := range msgs {
			out <- amqpDelivery{m: m}
		}
	}()
	return out, nil
}

func (c *amqpConn) NotifyClose() <-chan error {
	return c.closed
}

func (c *amqpConn) Close() error {
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		c.conn.Close() //nolint:errcheck // channel error takes precedence
		return err
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

type amqpDelivery struct {
	m amqp.Delivery
}

func (d amqpDelivery) Body() []byte { return d.m.Body }

func (d amqpDelivery) Ack() error { return d.m.Ack(false) }

func (d amqpDelivery) Nack(requeue bool) error { return d.m.Nack(false, requeue) }
