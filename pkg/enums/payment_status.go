package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a rent payment attempt.
// The only legal path is pending -> processing -> terminal; terminal
// states (completed, failed, cancelled, refunded) never transition again.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusProcessing,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusCancelled,
	PaymentStatusRefunded,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving to next is allowed.
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if p.IsTerminal() {
		return false
	}
	switch p {
	case PaymentStatusPending:
		return next == PaymentStatusProcessing || next.IsTerminal()
	case PaymentStatusProcessing:
		return next.IsTerminal()
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
