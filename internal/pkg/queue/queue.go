// Package queue carries refund settlement jobs from the saga to the gateway
// processor with at-least-once delivery. A job that keeps failing is retried
// a bounded number of times and then dead-lettered.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// RefundMessage is the settlement job body.
type RefundMessage struct {
	RefundTransactionID      string  `json:"refundTransactionId"`
	OriginalTransactionID    string  `json:"originalTransactionId"`
	GatewayCorrelationID     string  `json:"gatewayCorrelationId"`
	RefundAmount             float64 `json:"refundAmount"`
	PendingTransactionStatus string  `json:"pendingTransactionStatus"`
}

func (m RefundMessage) Validate() error {
	switch {
	case m.RefundTransactionID == "":
		return errors.New("refundTransactionId is required")
	case m.OriginalTransactionID == "":
		return errors.New("originalTransactionId is required")
	case m.RefundAmount <= 0:
		return errors.New("refundAmount must be positive")
	case m.PendingTransactionStatus == "":
		return errors.New("pendingTransactionStatus is required")
	}
	return nil
}

// Encode renders the message as its JSON wire form.
func (m RefundMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire body and validates it.
func Decode(body []byte) (RefundMessage, error) {
	var m RefundMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return m, fmt.Errorf("decode refund message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("invalid refund message: %w", err)
	}
	return m, nil
}

// Delivery is one received job. Attempt starts at 1.
type Delivery struct {
	Message RefundMessage
	Attempt int
	// backend-specific handle: SQS receipt handle or the raw Redis entry
	receipt string
}

// Publisher enqueues settlement jobs.
type Publisher interface {
	Publish(ctx context.Context, msg RefundMessage) error
}

// Consumer receives jobs. Ack removes a finished job; Nack hands it back for
// redelivery, or to the dead-letter queue once attempts are exhausted.
type Consumer interface {
	Receive(ctx context.Context) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Nack(ctx context.Context, d Delivery) error
}

// Reclaimer is implemented by backends that need a periodic sweep to hand
// jobs of dead consumers back out. SQS does this itself.
type Reclaimer interface {
	Reclaim(ctx context.Context) (int, error)
}

// Queue is a backend that both producers and the worker use.
type Queue interface {
	Publisher
	Consumer
}
