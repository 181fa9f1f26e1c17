// Package messaging provides the ordered, at-least-once delivery channel
// carrying newly-queued notifications from the enqueue path to the
// admission processor.
package messaging

import (
	"context"
	"time"
)

// Notification is the payload published when a client joins the queue.
type Notification struct {
	Token        string
	TicketNumber uint64
}

// Message is a received notification together with the channel-assigned ID
// used for acknowledgment and the sequence group it was published under.
type Message struct {
	ID    string
	Group string
	Notification
}

// Channel is an ordered at-least-once message channel. Messages that are
// received but never passed to DeleteBatch become eligible for redelivery;
// consumers must therefore be idempotent.
type Channel interface {
	Publish(ctx context.Context, group string, n Notification) error
	// ReceiveBatch returns up to maxCount messages, waiting up to wait for
	// the channel to become non-empty. A non-positive wait returns
	// immediately. An empty channel is not an error.
	ReceiveBatch(ctx context.Context, maxCount int64, wait time.Duration) ([]*Message, error)
	DeleteBatch(ctx context.Context, ids []string) error
}
