package queue

import (
	"context"
	"time"

	"github.com/v0gel/mason/internal/job"
)

// Message is a reserved queue message. Ownership transfers to the reserving
// process on Reserve and the message is durably removed only by Delete.
type Message struct {
	Tube job.Tube
	Body []byte

	// Receipt is the backend-specific delivery handle consumed by Delete.
	Receipt any
}

// PutParams control one enqueue. Delay holds the message back before it
// becomes reservable. TTL discards the message if it is not reserved in time;
// zero means no expiry.
type PutParams struct {
	Priority uint8
	Delay    time.Duration
	TTL      time.Duration
	Body     []byte
}

// Queue is the durable work queue. Delivery within a tube is priority-ordered,
// FIFO-ish within one priority. There is no redelivery after Delete other than
// an explicit Put.
type Queue interface {
	// Reserve blocks until a message is available on the watched tube.
	Reserve(ctx context.Context) (*Message, error)
	// Delete acknowledges a reserved message.
	Delete(ctx context.Context, m *Message) error
	// Put enqueues a message onto the named tube.
	Put(ctx context.Context, tube job.Tube, params *PutParams) error
}
