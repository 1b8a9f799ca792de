package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The user ID this client represents.
	UserID string

	// Token is the session token the connection was opened with.
	Token string

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages. Closed by the hub.
	Send chan []byte

	// The newest feed state not yet written. It replaces any older state
	// still pending and is never rolled back to an older sequence.
	feedMu     sync.Mutex
	feed       []byte
	feedSeq    uint64
	feedOffers bool
	feedReady  chan struct{}

	logger *slog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, token string) *Client {
	return &Client{
		Hub:       hub,
		UserID:    userID,
		Token:     token,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		feedReady: make(chan struct{}, 1),
		logger:    hub.logger.With("user_id", userID),
	}
}

// Start registers the client and runs its pumps. It reports false when the
// hub has stopped.
func (c *Client) Start() bool {
	select {
	case c.Hub.Register <- c:
	case <-c.Hub.done:
		c.Conn.Close()
		return false
	}
	go c.WritePump()
	go c.ReadPump()
	return true
}

// offerFeed replaces the pending feed state with frame unless the client
// has already been offered a newer one.
func (c *Client) offerFeed(frame *feedFrame) bool {
	c.feedMu.Lock()
	if c.feedOffers && frame.sequence < c.feedSeq {
		c.feedMu.Unlock()
		return false
	}
	c.feedOffers = true
	c.feedSeq = frame.sequence
	c.feed = frame.payload
	c.feedMu.Unlock()

	select {
	case c.feedReady <- struct{}{}:
	default:
	}
	return true
}

// takeFeed returns the pending feed state, or nil when it was already
// written.
func (c *Client) takeFeed() []byte {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	payload := c.feed
	c.feed = nil
	return payload
}

// ReadPump drains the connection so control frames are processed. Clients
// do not send commands over the socket.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection. Each
// queued payload goes out as its own text frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				return
			}
		case <-c.feedReady:
			payload := c.takeFeed()
			if payload == nil {
				continue
			}
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("websocket ping failed", "error", err)
				return
			}
		}
	}
}
