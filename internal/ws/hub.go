package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
)

// ErrHubStopped is returned by SendToUser once Run has returned.
var ErrHubStopped = errors.New("ws: hub stopped")

type userMsg struct {
	userID string
	data   []byte
}

// Hub tracks connected clients by user and fans messages out to them. All
// client bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[string]map[*Client]struct{} // userID -> clients
	register   chan *Client
	unregister chan *Client
	outbound   chan userMsg
	count      chan chan int
	done       chan struct{}
	logger     zerolog.Logger
}

// NewHub allocates a Hub. Call Run in a goroutine to start the event loop.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		outbound:   make(chan userMsg, 256),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "ws").Logger(),
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.UserID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.UserID] = set
			}
			set[c] = struct{}{}
			h.logger.Debug().Str("client", c.ID).Str("user", c.UserID).Msg("client registered")

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.outbound:
			for c := range h.clients[msg.userID] {
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer: drop the message to avoid blocking.
					h.logger.Warn().Str("client", c.ID).Msg("client send buffer full, dropping message")
				}
			}

		case reply := <-h.count:
			n := 0
			for _, set := range h.clients {
				n += len(set)
			}
			reply <- n

		case <-ctx.Done():
			close(h.done)
			for _, set := range h.clients {
				for c := range set {
					h.remove(c)
				}
			}
			return
		}
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	h.logger.Debug().Str("client", c.ID).Msg("client unregistered")
}

// SendToUser encodes v as JSON and queues it for every connection of userID.
// Messages for users with no connection are discarded.
func (h *Hub) SendToUser(userID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case h.outbound <- userMsg{userID: userID, data: data}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
	return <-reply
}

// Register enqueues a new client for addition to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

// Unregister enqueues a client for removal from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
