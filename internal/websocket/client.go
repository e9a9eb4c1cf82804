package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Outbound queue depth per session; a full queue counts as a failed send
	sendBuffer = 256
)

// Client is one subscriber session: the websocket connection plus the
// session metadata the hub tracks.
//
// The send channel is never closed; shutdown is signalled through done so a
// concurrent enqueue can never hit a closed channel.
type Client struct {
	id          string
	connectedAt time.Time

	hub  *Hub
	conn *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	messageCount atomic.Int64
}

// NewClient wraps an accepted connection. clientID may be empty, in which
// case the hub synthesizes one at registration.
func NewClient(hub *Hub, conn *websocket.Conn, clientID string) *Client {
	return &Client{
		id:          clientID,
		connectedAt: time.Now(),
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Run starts the session's read and write pumps.
func (c *Client) Run() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) messagesSent() int64 {
	return c.messageCount.Load()
}

// enqueue serializes and queues an outbound frame for this session only.
func (c *Client) enqueue(message map[string]interface{}) bool {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("[Client %s] Failed to marshal message: %v", c.id, err)
		return false
	}
	return c.enqueueRaw(payload)
}

// enqueueRaw queues an already-serialized frame. A closed session or a full
// queue reads as a failed send.
func (c *Client) enqueueRaw(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// closeSend marks the session closed and releases the write pump. The send
// channel itself stays open; racing enqueues at worst park a frame in the
// abandoned buffer.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// readPump reads incoming frames until the connection drops, dispatching the
// recognized payload types. A single malformed frame yields an error reply
// without closing the session.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[Client %s] Unexpected close: %v", c.id, err)
			}
			return
		}

		var frame struct {
			Type         string `json:"type"`
			Subscription string `json:"subscription"`
		}
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.enqueue(map[string]interface{}{
				"type":    "error",
				"message": "Invalid JSON format",
			})
			continue
		}

		c.handleFrame(frame.Type, frame.Subscription)
	}
}

func (c *Client) handleFrame(frameType, subscription string) {
	switch frameType {
	case "ping":
		c.enqueue(map[string]interface{}{
			"type":      "pong",
			"timestamp": timestamp(),
		})

	case "subscribe":
		switch subscription {
		case "metrics", "events", "anomalies":
			c.enqueue(map[string]interface{}{
				"type":         "subscription_confirmed",
				"subscription": subscription,
				"message":      "Subscribed to " + subscription + " updates",
			})
		default:
			c.enqueue(map[string]interface{}{
				"type":    "error",
				"message": "Unknown subscription: " + subscription,
			})
		}

	case "get_metrics":
		c.enqueue(map[string]interface{}{
			"type": "metrics_response",
			"data": c.hub.collector.Summary(),
		})

	case "get_stats":
		c.enqueue(map[string]interface{}{
			"type": "stats_response",
			"data": c.hub.ConnectionStats(),
		})

	default:
		c.enqueue(map[string]interface{}{
			"type":    "error",
			"message": "Unknown message type: " + frameType,
		})
	}
}

// writePump drains the send queue to the connection. Any write error ends
// the session; the read pump's deferred disconnect cleans up.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("[Client %s] Write failed: %v", c.id, err)
				return
			}
			c.messageCount.Add(1)

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
