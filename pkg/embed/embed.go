// Package embed implements the magic-prefixed deposit metadata codec
// carried in a bithive deposit transaction's OP_RETURN output.
package embed

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a bithive embed payload. It, like the version tag
// layout below, is part of the wire contract and must not change without
// a RedeemVersion bump.
const Magic = "bithive"

// VersionV1 is the only currently defined embed payload variant.
const VersionV1 = 1

// payloadLenV1 is the fixed length of a V1 payload after the
// magic+version header: 8 (deposit_vout) + 33 (user pubkey) + 2 (sequence
// height).
const payloadLenV1 = 8 + 33 + 2

// MessageV1 is the version-1 embed payload: the deposit output's own
// vout index, the depositing user's compressed pubkey, and the CSV
// sequence height baked into that deposit's redeem script.
type MessageV1 struct {
	DepositVout    uint64
	UserPubKey     [33]byte
	SequenceHeight uint16
}

// Encode serializes m as magic ∥ version_tag ∥ fields, all integers
// little-endian, matching what off-chain signers must have produced to
// remain compatible.
func (m MessageV1) Encode() []byte {
	out := make([]byte, 0, len(Magic)+1+payloadLenV1)
	out = append(out, Magic...)
	out = append(out, byte(VersionV1))

	var voutBuf [8]byte
	binary.LittleEndian.PutUint64(voutBuf[:], m.DepositVout)
	out = append(out, voutBuf[:]...)

	out = append(out, m.UserPubKey[:]...)

	var seqBuf [2]byte
	binary.LittleEndian.PutUint16(seqBuf[:], m.SequenceHeight)
	out = append(out, seqBuf[:]...)

	return out
}

// Decode parses an embed payload, failing unless the magic prefix
// matches and the version tag is a known, fixed-width variant.
func Decode(data []byte) (MessageV1, error) {
	var m MessageV1

	if len(data) < len(Magic)+1 {
		return m, fmt.Errorf("embed payload too short: %d bytes", len(data))
	}
	if string(data[:len(Magic)]) != Magic {
		return m, fmt.Errorf("embed payload has wrong magic prefix")
	}

	version := data[len(Magic)]
	rest := data[len(Magic)+1:]

	switch version {
	case VersionV1:
		if len(rest) != payloadLenV1 {
			return m, fmt.Errorf("embed v1 payload has wrong length: got %d want %d", len(rest), payloadLenV1)
		}
		m.DepositVout = binary.LittleEndian.Uint64(rest[0:8])
		copy(m.UserPubKey[:], rest[8:41])
		m.SequenceHeight = binary.LittleEndian.Uint16(rest[41:43])
		return m, nil
	default:
		return m, fmt.Errorf("unknown embed version tag: %d", version)
	}
}
