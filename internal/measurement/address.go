package measurement

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a sender hardware address. It is only ever used as an opaque key.
type Address [6]byte

// ParseAddress accepts "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" or the bare
// 12 digit form used in group keys.
func ParseAddress(s string) (Address, error) {
	var a Address
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 2*len(a) {
		return a, fmt.Errorf("invalid address %q: want %d hex digits", s, 2*len(a))
	}
	if _, err := hex.Decode(a[:], []byte(clean)); err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return a, nil
}

// String returns the lowercase bare hex form, e.g. "aabbccddeeff".
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}
