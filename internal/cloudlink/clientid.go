package cloudlink

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// clientIDBytes random bytes give a 20 character hex identifier.
const clientIDBytes = 10

// NewClientID returns a fresh random MQTT client identifier. New calls it
// when Options.ClientID is empty; callers that need the id before the
// bridge exists call it themselves.
func NewClientID() (string, error) {
	buf := make([]byte, clientIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %w", ErrClientID, err)
	}
	return hex.EncodeToString(buf), nil
}
