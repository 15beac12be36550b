package enums

// BatchType names the kind of orchestration run.
type BatchType string

const (
	BatchTypeRentCollection BatchType = "rent_collection"
	BatchTypeRetry          BatchType = "retry"
)

// String implements fmt.Stringer.
func (b BatchType) String() string {
	return string(b)
}
