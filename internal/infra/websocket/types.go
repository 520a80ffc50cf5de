// Package websocket streams delivery outcomes to connected users.
package websocket

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageType names a frame on the delivery stream.
type MessageType string

// Frames sent by the client.
const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
)

// Frames sent by the server.
const (
	MessageTypePong         MessageType = "pong"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeEvent        MessageType = "event"
	MessageTypeError        MessageType = "error"
)

// Message is one JSON frame in either direction. Timestamp is unix millis.
type Message struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewMessage stamps a frame of the given type.
func NewMessage(t MessageType) *Message {
	return &Message{Type: t, Timestamp: time.Now().UnixMilli()}
}

func (m *Message) WithChannel(channel string) *Message {
	m.Channel = channel
	return m
}

// WithData attaches v as the payload. Values that fail to marshal leave Data empty.
func (m *Message) WithData(v any) *Message {
	if v == nil {
		return m
	}
	if raw, err := json.Marshal(v); err == nil {
		m.Data = raw
	}
	return m
}

func (m *Message) WithRequestID(id string) *Message {
	m.RequestID = id
	return m
}

// SubscribeRequest is the optional data of subscribe and unsubscribe frames.
type SubscribeRequest struct {
	Channel   string `json:"channel"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChannelType is the prefix of a "type:id" channel name.
type ChannelType string

const (
	// ChannelTypeDeliveries carries every outcome of one user: deliveries:{user_id}.
	ChannelTypeDeliveries ChannelType = "deliveries"
	// ChannelTypeRegistration carries outcomes of one registration: registration:{id}.
	ChannelTypeRegistration ChannelType = "registration"
)

// ParseChannel splits "type:id" at the first colon. Names without one have
// an empty type.
func ParseChannel(channel string) (ChannelType, string) {
	typ, id, ok := strings.Cut(channel, ":")
	if !ok {
		return "", channel
	}
	return ChannelType(typ), id
}

// MakeChannel joins a channel name.
func MakeChannel(t ChannelType, id string) string {
	return string(t) + ":" + id
}
