package enums

import "fmt"

// BatchStatus tracks the lifecycle of an orchestration run.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

var validBatchStatuses = []BatchStatus{
	BatchStatusPending,
	BatchStatusProcessing,
	BatchStatusCompleted,
	BatchStatusFailed,
}

// String implements fmt.Stringer.
func (b BatchStatus) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BatchStatus.
func (b BatchStatus) IsValid() bool {
	for _, candidate := range validBatchStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the batch has finished orchestration.
func (b BatchStatus) IsTerminal() bool {
	return b == BatchStatusCompleted || b == BatchStatusFailed
}

// ParseBatchStatus converts raw input into a BatchStatus.
func ParseBatchStatus(value string) (BatchStatus, error) {
	for _, candidate := range validBatchStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid batch status %q", value)
}
