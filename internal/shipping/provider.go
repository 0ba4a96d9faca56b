package shipping

import (
	"errors"
	"fmt"
	"strings"

	domain "github.com/apostella/api/internal/domain"
)

// ErrUnsupportedProvider is returned when no provider matches the configured name.
var ErrUnsupportedProvider = errors.New("shipping: unsupported provider")

// PickupProvider quotes document pickup and return shipping fees. The
// implementation is chosen once at startup; handlers never branch on the
// provider themselves.
type PickupProvider interface {
	Name() string
	// PickupFee returns the fee for a courier pickup. Unknown methods fall
	// back to the standard pickup fee rather than failing a price quote.
	PickupFee(method domain.PickupMethod) int64
	// ReturnFee returns the flat fee for a return shipping service and
	// whether the service is offered at all.
	ReturnFee(service string) (int64, bool)
}

// ForConfig resolves the configured provider name to an implementation.
func ForConfig(name string, dhlAPIKey string) (PickupProvider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mock":
		return NewMockProvider(), nil
	case "dhl":
		return NewDHLProvider(DHLProviderConfig{APIKey: dhlAPIKey})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
}

// normaliseService lowercases and trims a return service identifier.
func normaliseService(service string) string {
	return strings.ToLower(strings.TrimSpace(service))
}
