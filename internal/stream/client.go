package stream

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/conceptviz/narration-gateway/internal/events"
	"github.com/conceptviz/narration-gateway/internal/gateway"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 64
)

// Client is one WebSocket connection bound to a topic session.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	topic  string
	sess   *gateway.Session
	router *events.Router
	outCh  chan []byte
	done   chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, topic string, sess *gateway.Session) *Client {
	c := &Client{
		hub:   h,
		conn:  conn,
		topic: topic,
		sess:  sess,
		outCh: make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
	}
	c.router = h.router(c)
	return c
}

// send queues a raw message; a client too slow to drain its buffer is
// dropped rather than allowed to stall the hub.
func (c *Client) send(msg []byte) {
	select {
	case c.outCh <- msg:
	case <-c.done:
	default:
		c.hub.logger.Warn("client send buffer full, dropping connection",
			zap.String("session", c.sess.ID))
		c.close()
	}
}

// sendEvent wraps a payload in an envelope and queues it.
func (c *Client) sendEvent(typ string, payload any) {
	msg, err := events.Marshal(typ, c.topic, time.Now().UnixMilli(), payload)
	if err != nil {
		c.hub.logger.Warn("marshal event", zap.String("type", typ), zap.Error(err))
		return
	}
	c.send(msg)
}

func (c *Client) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// readPump consumes inbound messages until the connection drops, then tears
// down the client and its session.
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("read error", zap.String("session", c.sess.ID), zap.Error(err))
			}
			return
		}
		if err := c.router.Dispatch(msg); err != nil {
			c.hub.logger.Warn("dispatch error", zap.String("session", c.sess.ID), zap.Error(err))
			c.sendEvent(events.TypeError, events.ErrorEvent{
				Code:    "BAD_MESSAGE",
				Message: err.Error(),
			})
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
