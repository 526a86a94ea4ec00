package core

import (
	"encoding/hex"
	"errors"

	"github.com/mr-tron/base58"
)

// Address is a 20-byte account identifier derived from a public key.
type Address [20]byte

// Hash is a 32-byte cryptographic digest.
type Hash [32]byte

// AddressZero is the sentinel zero-value address used by the system sender
// for reward and genesis transactions.
var AddressZero = Address{}

// IsZero reports whether a equals the zero address.
func (a Address) IsZero() bool { return a == AddressZero }

// Bytes returns a copy of the underlying 20 bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, len(a))
	copy(out, a[:])
	return out
}

// Hex renders the address as a 0x-prefixed hex string, mirroring the teacher's
// Address.Hex() convention used as map keys throughout the ledger.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String implements fmt.Stringer using base58 encoding for human display; hex
// remains the canonical form used on the wire and on disk.
func (a Address) String() string { return base58.Encode(a[:]) }

// ParseAddress decodes a hex ("0x...") or base58 address string.
func ParseAddress(s string) (Address, error) {
	var out Address
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return out, err
		}
		if len(b) != len(out) {
			return out, errors.New("address: wrong byte length")
		}
		copy(out[:], b)
		return out, nil
	}
	b, err := base58.Decode(s)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, errors.New("address: wrong byte length")
	}
	copy(out[:], b)
	return out, nil
}

// MarshalText renders the address as hex, letting Address serve directly as
// a JSON object key (e.g. in Store snapshot images) and as a JSON string
// value.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText parses a hex-encoded address produced by MarshalText.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Bytes returns a copy of the underlying 32 bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, len(h))
	copy(out, h[:])
	return out
}

// Hex renders the hash as a 0x-prefixed hex string.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero hash, the sentinel used as
// previous_hash for the genesis block.
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalText renders the hash as hex, letting Hash serve directly as a JSON
// object key and as a JSON string value.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

// UnmarshalText parses a hex-encoded hash produced by MarshalText.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 0x-prefixed (or bare) hex hash string.
func ParseHash(s string) (Hash, error) {
	var out Hash
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, errors.New("hash: wrong byte length")
	}
	copy(out[:], b)
	return out, nil
}
