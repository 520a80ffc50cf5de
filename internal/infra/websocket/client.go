package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openctemio/webhooks/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 4096
	maxChannels    = 50
	sendBufferSize = 256
)

// ErrSendBufferFull is returned when a slow client cannot take more frames.
var ErrSendBufferFull = errors.New("client send buffer full")

// Client is one stream connection. ReadPump and WritePump each own one side
// of the socket.
type Client struct {
	ID     string
	UserID string

	hub    *Hub
	conn   *websocket.Conn
	logger *logger.Logger

	subMu sync.RWMutex
	subs  map[string]struct{}

	// mu guards send against close.
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient wraps an upgraded connection for userID.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, log *logger.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:     id,
		UserID: userID,
		hub:    hub,
		conn:   conn,
		logger: log.With("client_id", id, "user_id", userID),
		subs:   make(map[string]struct{}),
		send:   make(chan []byte, sendBufferSize),
	}
}

// Subscribe records channel. It reports false when already subscribed or
// when the client holds maxChannels subscriptions.
func (c *Client) Subscribe(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if _, ok := c.subs[channel]; ok {
		return false
	}
	if len(c.subs) >= maxChannels {
		c.logger.Warn("subscription limit reached", "max", maxChannels)
		return false
	}
	c.subs[channel] = struct{}{}
	return true
}

// Unsubscribe forgets channel and reports whether it was held.
func (c *Client) Unsubscribe(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	_, ok := c.subs[channel]
	delete(c.subs, channel)
	return ok
}

func (c *Client) IsSubscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

// SendMessage queues msg without blocking. Frames to a closed client are
// silently discarded.
func (c *Client) SendMessage(msg *Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	_ = c.conn.Close()
}

// ReadPump handles inbound frames until the peer goes away, then
// unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("INVALID_MESSAGE", "Invalid message format", "")
			continue
		}
		c.dispatch(&msg)
	}
}

// WritePump drains the send queue and keeps the peer alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		var (
			kind  = websocket.PingMessage
			frame []byte
		)
		select {
		case f, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind, frame = websocket.TextMessage, f
		case <-ticker.C:
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, frame); err != nil {
			return
		}
	}
}

func (c *Client) dispatch(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		c.handleSubscription(msg)
	case MessageTypePing:
		_ = c.SendMessage(NewMessage(MessageTypePong).WithRequestID(msg.RequestID))
	default:
		c.sendError("UNKNOWN_MESSAGE_TYPE", "Unknown message type: "+string(msg.Type), msg.RequestID)
	}
}

// subscribeRequest takes the channel from data when present, else from the frame.
func subscribeRequest(msg *Message) SubscribeRequest {
	var req SubscribeRequest
	if len(msg.Data) > 0 {
		_ = json.Unmarshal(msg.Data, &req)
	}
	if req.Channel == "" {
		req.Channel = msg.Channel
	}
	if req.RequestID == "" {
		req.RequestID = msg.RequestID
	}
	return req
}

func (c *Client) handleSubscription(msg *Message) {
	req := subscribeRequest(msg)
	if req.Channel == "" {
		c.sendError("INVALID_CHANNEL", "Channel is required", req.RequestID)
		return
	}

	ack := MessageTypeUnsubscribed
	if msg.Type == MessageTypeSubscribe {
		if !c.hub.authorizeSubscription(c, req.Channel) {
			c.sendError("FORBIDDEN", "Access denied to channel", req.RequestID)
			return
		}
		if c.Subscribe(req.Channel) {
			c.hub.subscribeToChannel(c, req.Channel)
		}
		ack = MessageTypeSubscribed
	} else if c.Unsubscribe(req.Channel) {
		c.hub.unsubscribeFromChannel(c, req.Channel)
	}

	_ = c.SendMessage(NewMessage(ack).WithChannel(req.Channel).WithRequestID(req.RequestID))
}

func (c *Client) sendError(code, message, requestID string) {
	_ = c.SendMessage(NewMessage(MessageTypeError).
		WithData(ErrorData{Code: code, Message: message}).
		WithRequestID(requestID))
}
