package moderation

import (
	"context"
	"errors"
)

// Notifier receives notification requests emitted by the engine.
// Delivery is best effort: the engine logs failures and moves on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(context.Context, Notification) error { return nil }

var _ Notifier = NopNotifier{}

// MultiNotifier fans a notification out to every notifier.
// All notifiers are called even if one fails; the errors are joined.
type MultiNotifier []Notifier

// Notify calls all notifiers in order.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FuncNotifier allows using a function as a Notifier.
type FuncNotifier func(ctx context.Context, n Notification) error

// Notify calls the function if set.
func (f FuncNotifier) Notify(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}
