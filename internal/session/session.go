// Package session generates opaque transport-session handles. A handle
// identifies one live WebSocket connection; it is distinct from the username
// bound to that connection and changes on every reconnect.
package session

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// handleLen is the number of random bytes behind a handle.
const handleLen = 16

// NewHandle returns a fresh session handle: base58 over 16 random bytes.
func NewHandle() (string, error) {
	var raw [handleLen]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate session handle: %w", err)
	}
	return base58.Encode(raw[:]), nil
}

// Validate reports whether h has the shape of a handle produced by NewHandle.
func Validate(h string) error {
	decoded, err := base58.Decode(h)
	if err != nil {
		return fmt.Errorf("invalid base58 in session handle: %w", err)
	}
	if len(decoded) != handleLen {
		return fmt.Errorf("invalid session handle length: expected %d bytes, got %d", handleLen, len(decoded))
	}
	return nil
}
