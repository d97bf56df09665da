package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	// Session events
	SessionCreated         = "session.created"
	SessionMetadataUpdated = "session.metadata.updated"

	// Organization events
	OrganizationRefreshed = "organization.refreshed"
	OrganizationInvalid   = "organization.invalid"

	// Guest events
	GuestBookingSaved   = "guest.booking.saved"
	GuestBookingClaimed = "guest.booking.claimed"

	// Shipment events
	ShipmentCreated  = "shipment.created"
	ShipmentCanceled = "shipment.canceled"

	// Payment events
	PaymentIntentCreated = "payment.intent.created"

	// Notification events
	NotifySend = "notify.send"
)

// Event payloads
type SessionMetadataUpdatedEvent struct {
	SessionID string    `json:"session_id"`
	UserID    int64     `json:"user_id,omitempty"`
	UserType  string    `json:"user_type,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OrganizationRefreshedEvent struct {
	SessionID      string    `json:"session_id"`
	OrganizationID string    `json:"organization_id"`
	RefreshedAt    time.Time `json:"refreshed_at"`
}

type OrganizationInvalidEvent struct {
	SessionID      string   `json:"session_id"`
	OrganizationID string   `json:"organization_id,omitempty"`
	Violations     []string `json:"violations"`
	Attempt        int      `json:"attempt"`
}

type GuestBookingClaimedEvent struct {
	GuestID        string    `json:"guest_id"`
	UserID         int64     `json:"user_id"`
	TrackingNumber string    `json:"tracking_number"`
	ClaimedAt      time.Time `json:"claimed_at"`
}

type ShipmentCreatedEvent struct {
	ShipmentID     int64     `json:"shipment_id"`
	TrackingNumber string    `json:"tracking_number"`
	UserID         int64     `json:"user_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	ServiceLevel   string    `json:"service_level"`
	CreatedAt      time.Time `json:"created_at"`
}

type PaymentIntentCreatedEvent struct {
	TrackingNumber string `json:"tracking_number"`
	IntentID       string `json:"intent_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

type NotificationEvent struct {
	Type      string                 `json:"type"`
	Recipient string                 `json:"recipient"`
	Subject   string                 `json:"subject"`
	Template  string                 `json:"template"`
	Data      map[string]interface{} `json:"data"`
}
