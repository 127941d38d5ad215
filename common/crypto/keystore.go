package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseMasterKey decodes the MASTER_KEY environment value: 64 hex characters
// yielding the 32-byte AES key. The caller reads the variable; this stays a
// pure function.
//
// Generate a key with:
//
//	openssl rand -hex 32
func ParseMasterKey(rawHex string) ([]byte, error) {
	raw := strings.TrimSpace(rawHex)
	if raw == "" {
		return nil, fmt.Errorf("master key is empty")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d hex chars (%d bytes), got %d bytes",
			KeySize*2, KeySize, len(key))
	}
	return key, nil
}
