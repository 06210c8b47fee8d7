package ledger

import (
	"fmt"
	"strings"
)

// Address identifies an account on the ledger: "0x" followed by 40 lowercase
// hex digits.
type Address string

// ZeroAddress is the null identity. It can never be a counterparty.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// ParseAddress validates s and returns it in canonical lowercase form.
func ParseAddress(s string) (Address, error) {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("invalid address %q: want 0x followed by 40 hex digits", s)
	}
	lower := strings.ToLower(s[2:])
	for _, r := range lower {
		if !('0' <= r && r <= '9' || 'a' <= r && r <= 'f') {
			return "", fmt.Errorf("invalid address %q: non-hex character %q", s, r)
		}
	}
	return Address("0x" + lower), nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether a is the null identity or unset.
func (a Address) IsZero() bool {
	return a == "" || a == ZeroAddress
}

func (a Address) String() string {
	return string(a)
}

// Short renders the address as 0x1234...abcd for logs and tables.
func (a Address) Short() string {
	if len(a) != 42 {
		return string(a)
	}
	return string(a[:6]) + "..." + string(a[38:])
}
