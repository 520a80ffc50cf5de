package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/openctemio/webhooks/pkg/domain/shared"
)

// Notification is one fired action and its payload.
type Notification struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// NewNotification encodes data so that later mutation of the caller's value
// cannot change what is delivered.
func NewNotification(action string, data any) (Notification, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: event data is not JSON serializable: %v", shared.ErrValidation, err)
	}
	return Notification{Action: action, Data: raw}, nil
}

func (n Notification) clone() Notification {
	return Notification{Action: n.Action, Data: slices.Clone(n.Data)}
}

// DeliveryRequest is a unit of outbound work for one registration.
type DeliveryRequest struct {
	ID            string
	Registration  *Registration
	Notifications []Notification
	CreatedAt     time.Time
}

// NewDeliveryRequest snapshots the registration and copies every payload.
func NewDeliveryRequest(r *Registration, notifications []Notification) *DeliveryRequest {
	copied := make([]Notification, len(notifications))
	for i, n := range notifications {
		copied[i] = n.clone()
	}
	return &DeliveryRequest{
		ID:            shared.NewID(),
		Registration:  r.Clone(),
		Notifications: copied,
		CreatedAt:     time.Now().UTC(),
	}
}

// Actions lists the action names carried by the request.
func (d *DeliveryRequest) Actions() []string {
	out := make([]string, len(d.Notifications))
	for i, n := range d.Notifications {
		out[i] = n.Action
	}
	return out
}

type envelope struct {
	ID            string         `json:"id"`
	Attempt       int            `json:"attempt"`
	Properties    map[string]any `json:"properties,omitempty"`
	Notifications []Notification `json:"notifications"`
}

// Body renders the wire payload. A single notification is sent as
// {"action":...,"data":...}; several are wrapped in an envelope.
func (d *DeliveryRequest) Body(attempt int) ([]byte, error) {
	if len(d.Notifications) == 1 {
		return json.Marshal(d.Notifications[0])
	}
	props := d.Registration.Properties()
	if len(props) == 0 {
		props = nil
	}
	return json.Marshal(envelope{
		ID:            d.ID,
		Attempt:       attempt,
		Properties:    props,
		Notifications: d.Notifications,
	})
}

// DeliveryStatus is the terminal state of a delivery.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryRejected  DeliveryStatus = "rejected"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

// DeliveryOutcome reports what happened to a DeliveryRequest.
type DeliveryOutcome struct {
	DeliveryID     string          `json:"delivery_id"`
	RegistrationID string          `json:"registration_id"`
	UserID         string          `json:"user_id"`
	CallbackURI    string          `json:"callback_uri"`
	Actions        []string        `json:"actions"`
	Status         DeliveryStatus  `json:"status"`
	Attempts       int             `json:"attempts"`
	StatusCode     int             `json:"status_code,omitempty"`
	Error          string          `json:"error,omitempty"`
	Delays         []time.Duration `json:"delays,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// NewOutcome starts an outcome for req.
func NewOutcome(req *DeliveryRequest) DeliveryOutcome {
	return DeliveryOutcome{
		DeliveryID:     req.ID,
		RegistrationID: req.Registration.ID(),
		UserID:         req.Registration.UserID(),
		CallbackURI:    req.Registration.CallbackURI(),
		Actions:        req.Actions(),
		CreatedAt:      req.CreatedAt,
	}
}

// Succeeded reports a delivered outcome.
func (o DeliveryOutcome) Succeeded() bool { return o.Status == DeliveryDelivered }

// Err returns a DeliveryFailed error for non-delivered outcomes.
func (o DeliveryOutcome) Err() error {
	if o.Succeeded() {
		return nil
	}
	return fmt.Errorf("%w: %s to %s after %d attempt(s): %s",
		shared.ErrDeliveryFailed, o.Status, o.CallbackURI, o.Attempts, o.Error)
}

// Sender performs deliveries asynchronously. Send returns once the requests
// are accepted, not when they complete. It reports how many requests were
// accepted before an error (usually ctx cancellation) stopped submission.
type Sender interface {
	Send(ctx context.Context, requests []*DeliveryRequest) (int, error)
}

// DeliveryObserver receives terminal delivery outcomes.
type DeliveryObserver interface {
	OnDeliveryOutcome(ctx context.Context, outcome DeliveryOutcome)
}

// DeliveryObserverFunc adapts a function to DeliveryObserver.
type DeliveryObserverFunc func(ctx context.Context, outcome DeliveryOutcome)

// OnDeliveryOutcome implements DeliveryObserver.
func (f DeliveryObserverFunc) OnDeliveryOutcome(ctx context.Context, outcome DeliveryOutcome) {
	f(ctx, outcome)
}
