package enums

import "fmt"

// Provider identifies an external payment network. The set is closed:
// call sites switch over these values rather than free-form strings.
type Provider string

const (
	ProviderMpesa    Provider = "mpesa"
	ProviderAirtel   Provider = "airtel"
	ProviderPesalink Provider = "pesalink"
)

var validProviders = []Provider{
	ProviderMpesa,
	ProviderAirtel,
	ProviderPesalink,
}

// String implements fmt.Stringer.
func (p Provider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known Provider.
func (p Provider) IsValid() bool {
	for _, candidate := range validProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProvider converts raw input into a Provider.
func ParseProvider(value string) (Provider, error) {
	for _, candidate := range validProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid provider %q", value)
}

// Providers returns the closed set of known providers.
func Providers() []Provider {
	out := make([]Provider, len(validProviders))
	copy(out, validProviders)
	return out
}
