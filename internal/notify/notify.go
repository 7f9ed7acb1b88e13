package notify

import (
	"context"
	"fmt"
)

// Notifier delivers a plain-text message to one fixed destination.
type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Error is returned by transports when a message could not be delivered.
type Error struct {
	Transport  string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notify %s: status %d: %v", e.Transport, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("notify %s: %v", e.Transport, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Discard drops every message. Used for dry runs.
type Discard struct{}

func (Discard) Send(context.Context, string, string) error { return nil }
