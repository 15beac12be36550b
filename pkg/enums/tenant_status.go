package enums

// TenantStatus reflects whether a tenant is billable.
type TenantStatus string

const (
	TenantStatusActive   TenantStatus = "active"
	TenantStatusInactive TenantStatus = "inactive"
	TenantStatusEvicted  TenantStatus = "evicted"
)

// String implements fmt.Stringer.
func (t TenantStatus) String() string {
	return string(t)
}
