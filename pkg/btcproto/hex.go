// Package btcproto implements the Bitcoin script, transaction, and
// secp256k1 primitives the bithive custody protocol builds on: deposit
// redeem script reconstruction, P2WSH hash verification, MPC child-key
// derivation, and ECDSA message/partial-signature verification.
package btcproto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeHex returns the canonical lowercase hex encoding used throughout
// the protocol's wire surface.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex decodes canonical lowercase hex, rejecting mixed case and odd
// length so malformed input from callers is caught before it reaches
// consensus-sensitive decoding.
func DecodeHex(s string) ([]byte, error) {
	if s != strings.ToLower(s) {
		return nil, fmt.Errorf("hex string must be lowercase: %q", s)
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hex string has odd length: %q", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// ReverseBytes returns a new slice with the byte order reversed. Bitcoin
// displays txids and block hashes byte-reversed from their internal
// (little-endian double-SHA256) form.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// H256 is a 32-byte hash as carried across the light-client interface
// (§6.1): internally stored in natural byte order, displayed byte-reversed
// lowercase hex per Bitcoin convention.
type H256 [32]byte

// String returns the byte-reversed display hex.
func (h H256) String() string {
	return EncodeHex(ReverseBytes(h[:]))
}

// H256FromDisplayHex parses a byte-reversed display-hex hash (e.g. a txid
// or block hash as users see it) into internal byte order.
func H256FromDisplayHex(s string) (H256, error) {
	var h H256
	b, err := DecodeHex(s)
	if err != nil {
		return h, err
	}
	if len(b) != 32 {
		return h, fmt.Errorf("hash must be 32 bytes, got %d", len(b))
	}
	copy(h[:], ReverseBytes(b))
	return h, nil
}
