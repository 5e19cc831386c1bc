// Package events publishes checkout events for out-of-band reconciliation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeCheckoutConfirmed = "checkout.confirmed"
	TypeOrderDegraded     = "checkout.order_degraded"
	TypeCheckoutAuthLost  = "checkout.auth_required"

	EnvelopeVersion = 1
	ProducerName    = "shopclient"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// CheckoutPayload describes how one checkout attempt ended.
type CheckoutPayload struct {
	CheckoutID     string `json:"checkout_id"`
	UserID         int64  `json:"user_id,omitempty"`
	ProductID      int64  `json:"product_id"`
	SelectedSize   string `json:"selected_size,omitempty"`
	OrderID        int64  `json:"order_id,omitempty"`
	OrderReference string `json:"order_reference,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Error          string `json:"error,omitempty"`
}

func NewEnvelope(eventType, correlationID string, payload any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EnvelopeVersion,
		OccurredAt:    now.UTC(),
		Producer:      ProducerName,
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

func DecodePayload[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
