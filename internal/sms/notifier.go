// Package sms sends payment confirmations to tenants. Delivery is
// best-effort: reconciliation never fails because a text did not go out.
package sms

import "context"

// Notifier delivers a text message to one recipient.
type Notifier interface {
	Send(ctx context.Context, phoneNumber, message string) error
}

// Noop is used when SMS is disabled.
type Noop struct{}

func (Noop) Send(context.Context, string, string) error { return nil }
