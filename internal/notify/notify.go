// Package notify delivers operator and public messages about provisioned bots.
package notify

import (
	"context"
	"errors"
)

// Embed colors.
const (
	ColorAdmin  = 0xffb300
	ColorPublic = 0x3333ff
)

// Message is one notification.
type Message struct {
	Title string
	Body  string
	Color int
}

// Notifier delivers a message to one destination.
type Notifier interface {
	Deliver(ctx context.Context, msg Message) error
}

// Named is implemented by notifiers that report a channel name for metrics.
type Named interface {
	Name() string
}

// Nop discards every message.
type Nop struct{}

// Deliver implements Notifier.
func (Nop) Deliver(context.Context, Message) error { return nil }

// Name implements Named.
func (Nop) Name() string { return "nop" }

// Multi fans a message out to several notifiers.
type Multi []Notifier

// Deliver sends msg to every notifier and joins their errors.
func (m Multi) Deliver(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Deliver(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name implements Named.
func (Multi) Name() string { return "multi" }

// channelName returns a metrics label for n.
func channelName(n Notifier) string {
	if named, ok := n.(Named); ok {
		return named.Name()
	}
	return "unknown"
}
