package device

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// bluetoothBaseSuffix is the tail of the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb without dashes.
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format: lowercase, no
// dashes, no 0x prefix. Full 128-bit UUIDs in Bluetooth SIG base form are
// reduced to their 16-bit short form ("0000180F-0000-1000-8000-00805f9b34fb"
// becomes "180f").
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, bluetoothBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// ShortenUUID returns a truncated UUID for display purposes.
func ShortenUUID(u string) string {
	if len(u) > 8 {
		return u[:8]
	}
	return u
}

// ValidateUUID checks that every UUID is a 16-bit, 32-bit or 128-bit Bluetooth
// UUID and returns them normalized.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, raw := range uuids {
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}

		n := NormalizeUUID(raw)
		switch len(n) {
		case 4, 8:
			if _, err := hex.DecodeString(n); err != nil {
				return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, raw)
			}
		case 32:
			if _, err := uuid.Parse(n); err != nil {
				return nil, fmt.Errorf("invalid UUID format at index %d: %s: %w", i, raw, err)
			}
		default:
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, raw)
		}
		result = append(result, n)
	}
	return result, nil
}
