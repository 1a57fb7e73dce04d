// Package types defines the primitive identifier types shared by the Deo
// contract core: 20-byte addresses and 32-byte hashes.
package types

import (
	"encoding/hex"
	"fmt"
)

const (
	HashLength    = 32
	AddressLength = 20
)

// Hash represents a 32-byte digest (SHA-256 or Keccak-256 depending on use).
type Hash [HashLength]byte

// Address represents the 20-byte address of an account or contract.
type Address [AddressLength]byte

// BytesToHash converts bytes to Hash, left-padding if shorter than 32 bytes.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash converts a hex string to Hash.
func HexToHash(s string) Hash {
	return BytesToHash(fromHex(s))
}

// Bytes returns the byte representation of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the hex string representation of the hash.
func (h Hash) Hex() string { return fmt.Sprintf("0x%x", h[:]) }

// SetBytes sets the hash from a byte slice, left-padding if necessary.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// IsZero returns whether the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// BytesToAddress converts bytes to Address, left-padding if shorter than 20 bytes.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress converts a hex string to Address.
func HexToAddress(s string) Address {
	return BytesToAddress(fromHex(s))
}

// ParseAddress converts a hex string to Address, rejecting malformed input.
func ParseAddress(s string) (Address, error) {
	if !IsHexAddress(s) {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	return HexToAddress(s), nil
}

// IsHexAddress reports whether s is syntactically a Deo address: a "0x"
// prefix followed by a non-empty, even-length hex tail no longer than 40
// nibbles.
func IsHexAddress(s string) bool {
	if !has0xPrefix(s) {
		return false
	}
	tail := s[2:]
	if len(tail) == 0 || len(tail) > 2*AddressLength || len(tail)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(tail)
	return err == nil
}

// Bytes returns the byte representation of the address.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the 0x-prefixed 40-nibble hex rendering of the address.
func (a Address) Hex() string { return fmt.Sprintf("0x%x", a[:]) }

// HexNoPrefix returns the 40-nibble hex rendering without the 0x prefix.
// This is the form used in persisted records and database keys.
func (a Address) HexNoPrefix() string { return fmt.Sprintf("%x", a[:]) }

// SetBytes sets the address from a byte slice.
func (a *Address) SetBytes(b []byte) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// IsZero returns whether the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// fromHex decodes a hex string, stripping optional "0x" prefix.
func fromHex(s string) []byte {
	if has0xPrefix(s) {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
