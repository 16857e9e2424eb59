// Package emailmock provides an email.Client that records messages for tests.
package emailmock

import (
	"context"
	"sync"

	"newsletter-service/api/pkg/clients/email"
)

// Recorder records every send attempt. Sends fail with Err when set, or
// with FailFor[recipient] for individual recipients.
type Recorder struct {
	Err     error
	FailFor map[string]error

	mu        sync.Mutex
	attempted []email.Message
	sent      []email.Message
}

var _ email.Client = (*Recorder)(nil)

func (r *Recorder) Send(_ context.Context, msg email.Message) (*email.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempted = append(r.attempted, msg)
	if r.Err != nil {
		return nil, r.Err
	}
	if err, ok := r.FailFor[msg.To]; ok {
		return nil, err
	}
	r.sent = append(r.sent, msg)
	return &email.Result{DeliveryStatus: "sent", Sent: true}, nil
}

// Sent returns the messages that were accepted.
func (r *Recorder) Sent() []email.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]email.Message(nil), r.sent...)
}

// Attempted returns the recipients of every send, in call order.
func (r *Recorder) Attempted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.attempted))
	for _, m := range r.attempted {
		out = append(out, m.To)
	}
	return out
}
