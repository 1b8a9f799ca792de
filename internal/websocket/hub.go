package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"socialsphere/internal/middleware"
	"socialsphere/internal/models"
)

const revalidateBuffer = 64

// Event is the envelope every server push uses.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	EventFeed      = "feed"
	EventSignedOut = "signed_out"
)

// feedFrame is one encoded feed state.
type feedFrame struct {
	sequence uint64
	payload  []byte
}

// Hub maintains the set of active clients and broadcasts feed updates.
type Hub struct {
	// Registered clients. Maps user ID to a set of active client connections.
	Clients map[string]map[*Client]bool

	// latest is the newest published feed state. feedReady wakes Run to
	// hand it to every client; publishes between two wakes coalesce.
	latest    *feedFrame
	latestMu  sync.Mutex
	feedReady chan struct{}

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// Revalidate asks the hub to recheck the tokens of one user's clients
	// and close those that are no longer valid.
	Revalidate chan string

	validate middleware.ClaimsValidator
	logger   *slog.Logger
	done     chan struct{}

	// Mutex to protect concurrent access to the clients map.
	mu sync.RWMutex
}

func NewHub(validate middleware.ClaimsValidator, logger *slog.Logger) *Hub {
	return &Hub{
		feedReady:  make(chan struct{}, 1),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Revalidate: make(chan string, revalidateBuffer),
		Clients:    make(map[string]map[*Client]bool),
		validate:   validate,
		logger:     logger.With("component", "websocket_hub"),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's processing loop. It returns when ctx is done, after
// closing every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for userID, userClients := range h.Clients {
				for client := range userClients {
					close(client.Send)
				}
				delete(h.Clients, userID)
			}
			h.mu.Unlock()
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.Register:
			h.mu.Lock()
			if _, ok := h.Clients[client.UserID]; !ok {
				h.Clients[client.UserID] = make(map[*Client]bool)
			}
			h.Clients[client.UserID][client] = true
			h.logger.Debug("client registered", "user_id", client.UserID, "connections", len(h.Clients[client.UserID]))
			h.mu.Unlock()
			if frame := h.currentFeed(); frame != nil {
				client.offerFeed(frame)
			}

		case client := <-h.Unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case <-h.feedReady:
			frame := h.currentFeed()
			if frame == nil {
				continue
			}
			h.mu.RLock()
			for _, userClients := range h.Clients {
				for client := range userClients {
					client.offerFeed(frame)
				}
			}
			h.mu.RUnlock()

		case userID := <-h.Revalidate:
			h.mu.Lock()
			for client := range h.Clients[userID] {
				if _, err := h.validate(client.Token); err == nil {
					continue
				}
				if payload, err := json.Marshal(Event{Type: EventSignedOut, Data: nil}); err == nil {
					select {
					case client.Send <- payload:
					default:
					}
				}
				h.remove(client)
				h.logger.Info("closed connection of ended session", "user_id", userID)
			}
			h.mu.Unlock()
		}
	}
}

// remove drops client and closes its send channel, which ends its write
// pump. Callers hold h.mu.
func (h *Hub) remove(client *Client) {
	userClients, ok := h.Clients[client.UserID]
	if !ok || !userClients[client] {
		return
	}
	delete(userClients, client)
	close(client.Send)
	if len(userClients) == 0 {
		delete(h.Clients, client.UserID)
	}
	h.logger.Debug("client unregistered", "user_id", client.UserID, "remaining", len(userClients))
}

func (h *Hub) currentFeed() *feedFrame {
	h.latestMu.Lock()
	defer h.latestMu.Unlock()
	return h.latest
}

func (h *Hub) encodeFeed(state models.FeedState) (*feedFrame, bool) {
	payload, err := json.Marshal(Event{Type: EventFeed, Data: state})
	if err != nil {
		h.logger.Error("failed to encode feed state", "error", err)
		return nil, false
	}
	return &feedFrame{sequence: state.Sequence, payload: payload}, true
}

// PublishFeed makes state the one every client converges to. States older
// than the latest are ignored. It never blocks, so it is safe to call from
// the feed actor.
func (h *Hub) PublishFeed(state models.FeedState) {
	frame, ok := h.encodeFeed(state)
	if !ok {
		return
	}
	h.latestMu.Lock()
	if h.latest != nil && frame.sequence < h.latest.sequence {
		h.latestMu.Unlock()
		return
	}
	h.latest = frame
	h.latestMu.Unlock()

	select {
	case h.feedReady <- struct{}{}:
	default:
		// A wake is already pending and will pick up this state.
	}
}

// SendFeed offers state to one client, such as the state a new connection
// starts from. The client keeps it only if nothing newer is queued.
func (h *Hub) SendFeed(client *Client, state models.FeedState) {
	if frame, ok := h.encodeFeed(state); ok {
		client.offerFeed(frame)
	}
}

// SessionEnded closes the connections of userID whose token was revoked.
func (h *Hub) SessionEnded(userID string) {
	select {
	case h.Revalidate <- userID:
	default:
		h.logger.Warn("revalidate queue full", "user_id", userID)
	}
}

// Connections reports the number of open client connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, userClients := range h.Clients {
		n += len(userClients)
	}
	return n
}
