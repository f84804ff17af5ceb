package websocket

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
)

type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan []byte   // Channel for outgoing messages
	RateLimiter *rate.Limiter // Rate limiter to prevent spamming
	closed      bool          // Flag to check if the connection is closed
	mu          sync.Mutex    // Mutex to protect the closed flag
}

func newClient(id string, conn *websocket.Conn, limiter *rate.Limiter) *Client {
	return &Client{
		ID:          id,
		Conn:        conn,
		Send:        make(chan []byte, sendBuffer),
		RateLimiter: limiter,
	}
}

// Enqueue queues message for the writer. It reports false when the client is
// gone or too slow to keep up.
func (c *Client) Enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		log.Warn("Client send buffer full, dropping message", "client", c.ID)
		return false
	}
}

// ReadMessages listens for incoming messages from the client until the
// connection fails.
func (c *Client) ReadMessages(maxMessageSize int64, pongWait time.Duration, handleMessage func(*Client, []byte)) {
	defer func() {
		c.Disconnect() // Ensure cleanup
		log.Debugf("Connection closed for client %s", c.ID)
	}()

	if maxMessageSize > 0 {
		c.Conn.SetReadLimit(maxMessageSize)
	}
	if pongWait > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.Conn.SetPongHandler(func(string) error {
			return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			log.Debugf("Error reading message from client %s: %v", c.ID, err)
			break
		}
		handleMessage(c, message)
	}
}

// WriteMessages sends outgoing messages and keepalive pings to the client.
func (c *Client) WriteMessages(pingInterval time.Duration) {
	var ping <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.Conn.Close()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debugf("Error sending message to client %s: %v", c.ID, err)
				return
			}
		case <-ping:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debugf("Error pinging client %s: %v", c.ID, err)
				return
			}
		}
	}
}

// Disconnect closes the send channel once; the writer then closes the
// connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
		log.Debugf("Client %s cleanup completed", c.ID) // Lower-level log here
	}
}
