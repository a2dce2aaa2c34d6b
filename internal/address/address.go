// Package address validates ledger addresses.
package address

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned for strings that are not base58 32-byte public keys.
var ErrInvalidAddress = errors.New("invalid address")

const (
	minLength = 32
	maxLength = 44
	keySize   = 32
)

// Validate checks that s is a base58-encoded 32-byte public key.
func Validate(s string) error {
	if len(s) < minLength || len(s) > maxLength {
		return fmt.Errorf("%w: length %d outside [%d,%d]", ErrInvalidAddress, len(s), minLength, maxLength)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(b) != keySize {
		return fmt.Errorf("%w: decoded %d bytes", ErrInvalidAddress, len(b))
	}
	return nil
}

// IsOnCurve reports whether s decodes to a point on the ed25519 curve.
// Program-derived addresses are off-curve and have no private key.
func IsOnCurve(s string) bool {
	b, err := base58.Decode(s)
	if err != nil || len(b) != keySize {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(b)
	return err == nil
}
