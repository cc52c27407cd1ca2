package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/smartcache/bus"
	"github.com/teranos/smartcache/catalog"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Outbound message buffer per client
	sendBuffer = 64
)

// triggerMaxItemsCap bounds how many downloads one run may request
const triggerMaxItemsCap = 20

// clientMessage is an inbound websocket frame
type clientMessage struct {
	Type     string `json:"type"`
	MaxItems int    `json:"max_items"`
}

// Client is one authenticated websocket session
type Client struct {
	server    *Server
	conn      *websocket.Conn
	user      *catalog.User
	send      chan map[string]interface{}
	sub       *bus.Subscription
	running   atomic.Bool
	closeOnce sync.Once
}

// handleWebSocket authenticates the caller, upgrades the connection,
// and joins the client to its user's event stream
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		s.logger.Warnw("websocket auth failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := s.newUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		server: s,
		conn:   conn,
		user:   user,
		send:   make(chan map[string]interface{}, sendBuffer),
		sub:    s.events.Subscribe(user.ID),
	}
	s.register <- client

	client.enqueueMessage(map[string]interface{}{
		"type":    "connection_established",
		"message": "connected, send trigger_agents to start a run",
	})

	go client.relayEvents()
	go client.writePump()
	go client.readPump()
}

// close releases the client's bus subscription and send channel.
// Safe to call more than once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.server.events.Unsubscribe(c.sub)
		close(c.send)
	})
}

// enqueueMessage queues an outbound frame without blocking. A client
// whose buffer is full loses the frame, matching the bus's at-most-once
// delivery.
func (c *Client) enqueueMessage(msg map[string]interface{}) {
	defer func() {
		// Losing the race with close() is fine, the client is gone
		recover()
	}()
	select {
	case c.send <- msg:
	default:
		c.server.logger.Warnw("dropping frame for slow client", "user_id", c.user.ID)
	}
}

// relayEvents forwards the user's bus events to the wire. Events from
// jobs queued in earlier runs flow through here too, a download that
// finishes long after its loop still notifies the client.
func (c *Client) relayEvents() {
	for ev := range c.sub.Events() {
		frame := make(map[string]interface{}, len(ev.Payload)+1)
		frame["type"] = ev.Type
		for k, v := range ev.Payload {
			frame[k] = v
		}
		c.enqueueMessage(frame)
	}
}

// readPump handles inbound frames until the connection drops
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("websocket read error",
					"user_id", c.user.ID,
					"error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.enqueueMessage(map[string]interface{}{
				"type":    "error",
				"message": "invalid message format",
			})
			continue
		}

		c.routeMessage(&msg)
	}
}

func (c *Client) routeMessage(msg *clientMessage) {
	switch msg.Type {
	case "trigger_agents":
		c.handleTrigger(msg.MaxItems)
	case "ping":
		// Deadline refresh is the pong handler's job
	default:
		c.enqueueMessage(map[string]interface{}{
			"type":    "error",
			"message": "unknown message type: " + msg.Type,
		})
	}
}

// handleTrigger starts one agent run. A session runs at most one loop
// at a time; the run's events reach the client through the bus relay.
func (c *Client) handleTrigger(maxItems int) {
	if maxItems < 1 || maxItems > triggerMaxItemsCap {
		maxItems = triggerMaxItemsCap
	}

	if !c.running.CompareAndSwap(false, true) {
		c.enqueueMessage(map[string]interface{}{
			"type":    "error",
			"message": "an agent run is already in progress",
		})
		return
	}

	go func() {
		defer c.running.Store(false)
		// Runs outlive the websocket request, bounded by the oracle
		// timeout and turn cap rather than the connection
		if err := c.server.loop.Run(context.Background(), c.user, maxItems); err != nil {
			c.server.logger.Errorw("agent run failed",
				"user_id", c.user.ID,
				"error", err)
		}
	}()
}

// writePump writes queued frames and keepalive pings to the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debugw("websocket write failed",
					"user_id", c.user.ID,
					"error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
