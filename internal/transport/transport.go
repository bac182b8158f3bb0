// Package transport abstracts the external message delivery provider and
// classifies its failures for the retry loop.
package transport

import (
	"context"
	"errors"
	"time"
)

// Message is one outbound email, already rendered and tracking-injected.
type Message struct {
	To        string
	FromName  string
	FromEmail string
	ReplyTo   string
	Subject   string
	HTML      string
	Text      string

	// Headers carries List-Unsubscribe and similar extra headers.
	Headers map[string]string

	// CampaignID and RecordID are attached as provider tags for webhook
	// correlation.
	CampaignID string
	RecordID   string
}

// Status is the provider's synchronous outcome for an accepted message.
type Status int

const (
	// StatusSent means the provider accepted the message for delivery.
	StatusSent Status = iota
	// StatusDelivered means the provider synchronously confirmed delivery.
	// Most providers never do; SES reports acceptance only.
	StatusDelivered
)

// Result reports a successful hand-off to the provider.
type Result struct {
	MessageID string
	Status    Status
	SentAt    time.Time
}

// Transport is the external delivery provider.
type Transport interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// FailureClass drives the retry decision for a failed send.
type FailureClass int

const (
	// Transient failures (throttling, timeouts, provider hiccups) are
	// retried with backoff.
	Transient FailureClass = iota
	// Permanent failures (invalid address, hard rejection) terminate the
	// recipient immediately.
	Permanent
)

// classifier lets a Transport implementation own its error taxonomy.
type classifier interface {
	ClassifyError(err error) FailureClass
}

// Classify maps a send error to its failure class. Timeouts and context
// deadlines are always transient; so is anything the transport cannot
// identify, since retrying a permanent failure only wastes attempts while
// failing a transient one loses a recipient.
func Classify(t Transport, err error) FailureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	if c, ok := t.(classifier); ok {
		return c.ClassifyError(err)
	}
	return Transient
}
