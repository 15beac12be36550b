package enums

// BatchPriority ranks a run for dispatch ordering. Retry runs are elevated
// so previously failed tenants settle ahead of routine work.
type BatchPriority string

const (
	BatchPriorityNormal BatchPriority = "normal"
	BatchPriorityHigh   BatchPriority = "high"
)

// String implements fmt.Stringer.
func (p BatchPriority) String() string {
	return string(p)
}
