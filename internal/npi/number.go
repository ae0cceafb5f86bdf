package npi

import "errors"

// NumberLength is the fixed length of an NPI.
const NumberLength = 10

// ErrInvalidNumber is returned by ValidateNumber for anything that is not
// exactly ten ASCII digits.
var ErrInvalidNumber = errors.New("invalid NPI number format")

// ValidateNumber accepts exactly ten ASCII digits and nothing else.
func ValidateNumber(raw string) error {
	if len(raw) != NumberLength {
		return ErrInvalidNumber
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return ErrInvalidNumber
		}
	}
	return nil
}
