package enums

import "fmt"

// TransferOption selects which airport transfers a household needs.
type TransferOption string

const (
	TransferArrivalOnly   TransferOption = "arrival_only"
	TransferDepartureOnly TransferOption = "departure_only"
	TransferBoth          TransferOption = "both"
	TransferNone          TransferOption = "none"
)

var validTransferOptions = []TransferOption{
	TransferArrivalOnly,
	TransferDepartureOnly,
	TransferBoth,
	TransferNone,
}

// TransferOptions returns the selectable values in display order.
func TransferOptions() []TransferOption {
	out := make([]TransferOption, len(validTransferOptions))
	copy(out, validTransferOptions)
	return out
}

// String implements fmt.Stringer.
func (t TransferOption) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransferOption.
func (t TransferOption) IsValid() bool {
	for _, candidate := range validTransferOptions {
		if candidate == t {
			return true
		}
	}
	return false
}

// NeedsArrival reports whether arrival time and flight are collected.
func (t TransferOption) NeedsArrival() bool {
	return t == TransferArrivalOnly || t == TransferBoth
}

// NeedsDeparture reports whether departure time and flight are collected.
func (t TransferOption) NeedsDeparture() bool {
	return t == TransferDepartureOnly || t == TransferBoth
}

// ParseTransferOption converts raw input into a TransferOption.
func ParseTransferOption(value string) (TransferOption, error) {
	for _, candidate := range validTransferOptions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transfer option %q", value)
}
