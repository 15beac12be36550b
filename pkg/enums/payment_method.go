package enums

// PaymentMethod names the rail a payment travelled over.
type PaymentMethod string

const (
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}
