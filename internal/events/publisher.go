package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotPublished means the broker dropped the message.
var ErrNotPublished = errors.New("events: message not published")

var routes = []struct {
	prefix string
	queue  string
}{
	{"task.", QueueTasks},
	{"notification.", QueueNotifications},
	{"user.", QueueUsers},
}

// QueueFor resolves the durable queue a pattern is routed to.
func QueueFor(pattern string) string {
	for _, r := range routes {
		if strings.HasPrefix(pattern, r.prefix) {
			return r.queue
		}
	}
	return QueueDefault
}

// Sender is the broker side of the publisher. *broker.Client satisfies it.
type Sender interface {
	Publish(ctx context.Context, queue string, body []byte) bool
}

// Publisher routes patterns to queues and wraps payloads in envelopes. It
// does not retry.
type Publisher struct {
	sender Sender
	now    func() time.Time
}

func NewPublisher(sender Sender) *Publisher {
	return &Publisher{sender: sender, now: time.Now}
}

// Publish sends data under pattern. It returns ErrNotPublished when the
// broker did not accept the message.
func (p *Publisher) Publish(ctx context.Context, pattern string, data interface{}) error {
	env, err := NewEnvelope(pattern, data, p.now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	queue := QueueFor(pattern)
	if !p.sender.Publish(ctx, queue, body) {
		return fmt.Errorf("%w: %s to %s", ErrNotPublished, pattern, queue)
	}
	return nil
}
