package websocket

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 512
	sendBuffer     = 256
)

// Client is one admin connection to the live feed. The feed is one-way:
// inbound frames other than control frames are read and dropped.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	caller string
	hub    *Hub
	logger *slog.Logger
}

func NewClient(conn *websocket.Conn, caller string, hub *Hub) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		caller: caller,
		hub:    hub,
		logger: slog.Default().With(slog.String("component", "ws_client"), slog.String("caller", caller)),
	}
}

// Start runs the read and write loops until the peer or the hub goes away.
func (c *Client) Start() {
	go c.writeLoop()
	go c.readLoop()
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	c.conn.SetReadLimit(maxInboundSize)
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			c.logger.Warn("Feed connection dropped", slog.String("error", err.Error()))
		}
		return
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				// closed by the hub
				c.write(websocket.CloseMessage, nil)
				return
			}
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
