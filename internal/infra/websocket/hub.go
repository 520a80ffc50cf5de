package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

const (
	maxConnectionsPerUser = 10
	broadcastBufferSize   = 256
)

// AuthorizeFunc reports whether client may subscribe to channel.
type AuthorizeFunc func(client *Client, channel string) bool

// BroadcastMessage is a frame queued for a channel. A non-empty UserID
// restricts delivery to that user's clients.
type BroadcastMessage struct {
	Channel string
	Message *Message
	UserID  string
}

type clientSet map[*Client]struct{}

// Hub tracks connected clients and fans delivery outcomes out to the
// channels they follow. Membership changes and broadcasts are serialized
// through Run.
type Hub struct {
	mu       sync.RWMutex
	clients  clientSet
	perUser  map[string]int
	channels map[string]clientSet

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	authorize AuthorizeFunc
	dropped   atomic.Int64
	logger    *logger.Logger
}

var _ webhook.DeliveryObserver = (*Hub)(nil)

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    clientSet{},
		perUser:    map[string]int{},
		channels:   map[string]clientSet{},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, broadcastBufferSize),
		done:       make(chan struct{}),
		authorize:  defaultAuthorize,
		logger:     log.With("component", "websocket_hub"),
	}
}

// defaultAuthorize lets users follow their own deliveries channel and any
// registration channel. Registration outcomes are filtered by owner when
// broadcast, so a foreign registration ID yields nothing.
func defaultAuthorize(client *Client, channel string) bool {
	if client.UserID == "" {
		return false
	}
	typ, id := ParseChannel(channel)
	switch typ {
	case ChannelTypeDeliveries:
		return id == client.UserID
	case ChannelTypeRegistration:
		return id != ""
	}
	return false
}

// SetAuthorizeFunc replaces the channel subscription check; nil allows every
// channel. It must be called before Run.
func (h *Hub) SetAuthorizeFunc(fn AuthorizeFunc) {
	h.authorize = fn
}

// Run serves registrations and broadcasts until ctx ends, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Info("websocket hub started")

	for {
		select {
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case m := <-h.broadcast:
			h.deliver(m)
		case <-ctx.Done():
			h.logger.Info("websocket hub stopping")
			h.closeAll()
			return
		}
	}
}

// RegisterClient hands c to the hub. It reports false once the hub has stopped.
func (h *Hub) RegisterClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient detaches c from the hub and its channels. It returns without
// waiting once the hub has stopped.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues msg without blocking. It reports false and counts a drop
// when the queue is full.
func (h *Hub) Broadcast(channel string, msg *Message, userID string) bool {
	select {
	case h.broadcast <- &BroadcastMessage{Channel: channel, Message: msg, UserID: userID}:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// OnDeliveryOutcome publishes outcome on the owner's deliveries channel and
// on its registration channel.
func (h *Hub) OnDeliveryOutcome(_ context.Context, outcome webhook.DeliveryOutcome) {
	channels := [2]string{
		MakeChannel(ChannelTypeDeliveries, outcome.UserID),
		MakeChannel(ChannelTypeRegistration, outcome.RegistrationID),
	}
	for _, ch := range channels {
		msg := NewMessage(MessageTypeEvent).WithChannel(ch).WithData(outcome)
		if !h.Broadcast(ch, msg, outcome.UserID) {
			h.logger.Warn("broadcast queue full, outcome dropped",
				"delivery_id", outcome.DeliveryID, "channel", ch)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	if n := h.perUser[c.UserID]; n >= maxConnectionsPerUser {
		h.mu.Unlock()
		h.logger.Warn("connection limit reached", "user_id", c.UserID, "max", maxConnectionsPerUser)
		c.sendError("CONNECTION_LIMIT", "too many connections", "")
		c.Close()
		return
	}
	h.perUser[c.UserID]++
	h.clients[c] = struct{}{}

	own := MakeChannel(ChannelTypeDeliveries, c.UserID)
	if c.Subscribe(own) {
		h.joinLocked(c, own)
	}
	h.mu.Unlock()

	h.logger.Debug("client registered", "client_id", c.ID, "user_id", c.UserID)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for ch := range h.channels {
		h.leaveLocked(c, ch)
	}
	if h.perUser[c.UserID]--; h.perUser[c.UserID] <= 0 {
		delete(h.perUser, c.UserID)
	}
}

func (h *Hub) subscribeToChannel(c *Client, channel string) {
	h.mu.Lock()
	h.joinLocked(c, channel)
	h.mu.Unlock()
}

func (h *Hub) unsubscribeFromChannel(c *Client, channel string) {
	h.mu.Lock()
	h.leaveLocked(c, channel)
	h.mu.Unlock()
}

func (h *Hub) joinLocked(c *Client, channel string) {
	set, ok := h.channels[channel]
	if !ok {
		set = clientSet{}
		h.channels[channel] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, channel string) {
	set, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.channels, channel)
	}
}

func (h *Hub) authorizeSubscription(c *Client, channel string) bool {
	return h.authorize == nil || h.authorize(c, channel)
}

// deliver sends m to the channel's members outside the lock.
func (h *Hub) deliver(m *BroadcastMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.channels[m.Channel]))
	for c := range h.channels[m.Channel] {
		if m.UserID == "" || c.UserID == m.UserID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.SendMessage(m.Message); err != nil {
			h.logger.Debug("frame not queued", "client_id", c.ID, "channel", m.Channel, "error", err)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.Close()
	}
	h.clients = clientSet{}
	h.channels = map[string]clientSet{}
	h.perUser = map[string]int{}
}

// HubStats is a point-in-time view of the hub.
type HubStats struct {
	TotalClients   int            `json:"total_clients"`
	TotalChannels  int            `json:"total_channels"`
	ChannelClients map[string]int `json:"channel_clients"`
	Dropped        int64          `json:"dropped"`
}

func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	perChannel := make(map[string]int, len(h.channels))
	for ch, set := range h.channels {
		perChannel[ch] = len(set)
	}
	return HubStats{
		TotalClients:   len(h.clients),
		TotalChannels:  len(h.channels),
		ChannelClients: perChannel,
		Dropped:        h.dropped.Load(),
	}
}
