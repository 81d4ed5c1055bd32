package models

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// HashLen is the size of every commitment, handle, and proof hash.
const HashLen = 32

// Hash is a 32-byte opaque value: an input/result commitment or an encrypted
// data handle. The service never interprets its contents, only stores and
// compares it. Hex-encoded with a 0x prefix on the wire.
type Hash [HashLen]byte

// ParseHash decodes a 0x-prefixed hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash encoding: %w", err)
	}
	if len(b) != HashLen {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashLen, len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zero bytes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Scan implements sql.Scanner so Hash columns map to BYTEA.
func (h *Hash) Scan(src any) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Hash", src)
	}
	if len(b) != HashLen {
		return fmt.Errorf("hash column must be %d bytes, got %d", HashLen, len(b))
	}
	copy(h[:], b)
	return nil
}

// Value implements driver.Valuer.
func (h Hash) Value() (driver.Value, error) {
	return h[:], nil
}

// Address identifies a party on the ledger: an EVM-style 0x-prefixed,
// 20-byte hex address. Stored lowercase so lookups are case-insensitive.
type Address string

// ParseAddress validates and normalizes an address string.
func ParseAddress(s string) (Address, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") {
		return "", fmt.Errorf("address must start with 0x")
	}
	body := s[2:]
	if len(body) != 40 {
		return "", fmt.Errorf("address must be 20 bytes of hex, got %d chars", len(body))
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("invalid address encoding: %w", err)
	}
	return Address(s), nil
}

func (a Address) String() string { return string(a) }
