package btcproto

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// RedeemVersionV1 is the only currently minted RedeemVersion. Introducing
// a new derivation path or script template requires a new constant here
// and a new case everywhere RedeemVersion is switched on (§3 invariant 6)
// — an existing version's binding is never mutated.
const RedeemVersionV1 = 1

// ChainSignaturePathV1 and ChainSignatureKeyVersionV1 bind RedeemVersionV1
// to a specific MPC derivation path and key version. Don't change these
// values; minting RedeemVersionV2 means adding new constants, not editing
// these.
const (
	ChainSignaturePathV1       = "/btc/manage/v1"
	ChainSignatureKeyVersionV1 = uint32(0)
)

// DepositScriptV1 reconstructs the version-1 deposit redeem script
// byte-for-byte:
//
//	OP_IF
//	  <sequence> OP_CHECKSEQUENCEVERIFY OP_DROP
//	  <userPubKey> OP_CHECKSIG
//	OP_ELSE
//	  OP_2 <userPubKey> <protocolPubKey> OP_2 OP_CHECKMULTISIG
//	OP_ENDIF
//
// Its bytes define the committed P2WSH hash; any deviation from this
// exact construction breaks compatibility with previously produced
// deposit scripts.
func DepositScriptV1(userPubKey, protocolPubKey []byte, sequenceHeight uint16) ([]byte, error) {
	if len(userPubKey) != 33 {
		return nil, fmt.Errorf("user pubkey must be 33 bytes, got %d", len(userPubKey))
	}
	if len(protocolPubKey) != 33 {
		return nil, fmt.Errorf("protocol pubkey must be 33 bytes, got %d", len(protocolPubKey))
	}

	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_IF)
	b.AddInt64(int64(sequenceHeight))
	b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(userPubKey)
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_ELSE)
	b.AddOp(txscript.OP_2)
	b.AddData(userPubKey)
	b.AddData(protocolPubKey)
	b.AddOp(txscript.OP_2)
	b.AddOp(txscript.OP_CHECKMULTISIG)
	b.AddOp(txscript.OP_ENDIF)
	return b.Script()
}

// P2WSHScriptPubKey returns OP_0 <32-byte SHA256(redeemScript)>.
func P2WSHScriptPubKey(redeemScript []byte) ([]byte, error) {
	h := sha256.Sum256(redeemScript)
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_0)
	b.AddData(h[:])
	return b.Script()
}

// IsP2WSH reports whether script is exactly OP_0 <32 bytes>.
func IsP2WSH(script []byte) bool {
	return len(script) == 34 && script[0] == txscript.OP_0 && script[1] == txscript.OP_DATA_32
}

// ExtractP2WSHHash strips the OP_0 OP_PUSHBYTES_32 prefix, returning the
// committed 32-byte hash.
func ExtractP2WSHHash(script []byte) ([]byte, error) {
	if !IsP2WSH(script) {
		return nil, fmt.Errorf("script is not P2WSH")
	}
	out := make([]byte, 32)
	copy(out, script[2:])
	return out, nil
}

// IsOpReturn reports whether script begins with OP_RETURN.
func IsOpReturn(script []byte) bool {
	return len(script) > 0 && script[0] == txscript.OP_RETURN
}

// ExtractPushedData returns the single data push immediately following
// OP_RETURN, the shape required of a bithive embed output.
func ExtractPushedData(script []byte) ([]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_RETURN {
		return nil, fmt.Errorf("script does not start with OP_RETURN")
	}
	if !tokenizer.Next() {
		return nil, fmt.Errorf("OP_RETURN script carries no data push")
	}
	data := tokenizer.Data()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
