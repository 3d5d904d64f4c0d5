package bithive

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/bithive/custody/pkg/btcproto"
)

const depositTestRootPubKeyHex = "02f6b15f899fac9c7dc60dcac795291c70e50c3a2ee1d5070dee0d8020781584e5"
const depositTestUserPubKeyHex = "0290d4e1e8b5a5e53f9d6c0f3d5e8e9a7c0d1b2f3e4d5c6b7a8998877665544332"

func mustDepositTestRootPubKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	raw, err := btcproto.DecodeHex(depositTestRootPubKeyHex)
	if err != nil {
		t.Fatalf("decode root pubkey: %v", err)
	}
	pk, err := btcec.ParsePubKey(raw)
	if err != nil {
		t.Fatalf("parse root pubkey: %v", err)
	}
	return pk
}

func buildDepositTx(t *testing.T, rootPubKey *btcec.PublicKey, userPubKeyHex string, sequenceHeight uint16, value int64, lockTime uint32, inputSeq uint32) *wire.MsgTx {
	t.Helper()

	userPubKey, err := btcproto.DecodeHex(userPubKeyHex)
	if err != nil {
		t.Fatalf("decode user pubkey: %v", err)
	}
	protocolPubKey := btcproto.DeriveProtocolPubKey(rootPubKey, "bithive", btcproto.ChainSignaturePathV1)
	redeemScript, err := btcproto.DepositScriptV1(userPubKey, protocolPubKey.SerializeCompressed(), sequenceHeight)
	if err != nil {
		t.Fatalf("build redeem script: %v", err)
	}
	pkScript, err := btcproto.P2WSHScriptPubKey(redeemScript)
	if err != nil {
		t.Fatalf("build p2wsh script: %v", err)
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = lockTime
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0},
		Sequence:         inputSeq,
	})
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: pkScript})
	return tx
}

func baseTestConfig() *GlobalConfig {
	return &GlobalConfig{
		MinDepositSatoshi:        1000,
		SoloWithdrawalSeqHeights: []uint16{144, 100},
	}
}

func TestVerifyDepositTxnAcceptsValidNoTimelock(t *testing.T) {
	root := mustDepositTestRootPubKey(t)
	cfg := baseTestConfig()
	tx := buildDepositTx(t, root, depositTestUserPubKeyHex, 144, 5000, 0, wire.MaxTxInSequenceNum)

	userPubKey, _ := btcproto.DecodeHex(depositTestUserPubKeyHex)
	vd, err := verifyDepositTxn(cfg, root, tx, 0, userPubKey, 144)
	if err != nil {
		t.Fatalf("expected valid deposit, got error: %v", err)
	}
	if vd.Value != 5000 {
		t.Fatalf("expected value 5000, got %d", vd.Value)
	}
}

func TestVerifyDepositTxnRejectsUnlistedSequenceHeight(t *testing.T) {
	root := mustDepositTestRootPubKey(t)
	cfg := baseTestConfig()
	tx := buildDepositTx(t, root, depositTestUserPubKeyHex, 99, 5000, 0, wire.MaxTxInSequenceNum)

	userPubKey, _ := btcproto.DecodeHex(depositTestUserPubKeyHex)
	if _, err := verifyDepositTxn(cfg, root, tx, 0, userPubKey, 99); err == nil {
		t.Fatal("expected error for sequence height not in solo_withdrawal_seq_heights")
	}
}

func TestVerifyDepositTxnAcceptsMatchingAbsoluteLocktime(t *testing.T) {
	root := mustDepositTestRootPubKey(t)
	cfg := baseTestConfig()
	cfg.EarliestDepositBlockHeight = 100

	tx := buildDepositTx(t, root, depositTestUserPubKeyHex, 144, 5000, 100, wire.MaxTxInSequenceNum-2)
	userPubKey, _ := btcproto.DecodeHex(depositTestUserPubKeyHex)
	if _, err := verifyDepositTxn(cfg, root, tx, 0, userPubKey, 144); err != nil {
		t.Fatalf("expected valid deposit with matching locktime, got: %v", err)
	}
}

func TestVerifyDepositTxnRejectsLocktimeBelowEarliest(t *testing.T) {
	root := mustDepositTestRootPubKey(t)
	cfg := baseTestConfig()
	cfg.EarliestDepositBlockHeight = 100

	tx := buildDepositTx(t, root, depositTestUserPubKeyHex, 144, 5000, 99, wire.MaxTxInSequenceNum-2)
	userPubKey, _ := btcproto.DecodeHex(depositTestUserPubKeyHex)
	if _, err := verifyDepositTxn(cfg, root, tx, 0, userPubKey, 144); err == nil {
		t.Fatal("expected error for locktime below earliest_deposit_block_height")
	}
}

func TestVerifyDepositTxnRejectsMissingAbsTimelockEnable(t *testing.T) {
	root := mustDepositTestRootPubKey(t)
	cfg := baseTestConfig()
	cfg.EarliestDepositBlockHeight = 100

	tx := buildDepositTx(t, root, depositTestUserPubKeyHex, 144, 5000, 100, wire.MaxTxInSequenceNum)
	userPubKey, _ := btcproto.DecodeHex(depositTestUserPubKeyHex)
	if _, err := verifyDepositTxn(cfg, root, tx, 0, userPubKey, 144); err == nil {
		t.Fatal("expected error when input sequence does not enable absolute locktime")
	}
}

func TestVerifyDepositTxnRejectsSubstitutedPubKey(t *testing.T) {
	root := mustDepositTestRootPubKey(t)
	cfg := baseTestConfig()
	tx := buildDepositTx(t, root, depositTestUserPubKeyHex, 144, 5000, 0, wire.MaxTxInSequenceNum)

	otherPubKeyHex := "03" + depositTestUserPubKeyHex[2:]
	otherPubKey, err := btcproto.DecodeHex(otherPubKeyHex)
	if err != nil {
		t.Fatalf("decode other pubkey: %v", err)
	}
	if _, err := verifyDepositTxn(cfg, root, tx, 0, otherPubKey, 144); err != errDepositBadScriptHash {
		t.Fatalf("expected errDepositBadScriptHash, got %v", err)
	}
}

func TestVerifyDepositTxnRejectsBelowMinimum(t *testing.T) {
	root := mustDepositTestRootPubKey(t)
	cfg := baseTestConfig()
	cfg.MinDepositSatoshi = 10000
	tx := buildDepositTx(t, root, depositTestUserPubKeyHex, 144, 5000, 0, wire.MaxTxInSequenceNum)

	userPubKey, _ := btcproto.DecodeHex(depositTestUserPubKeyHex)
	if _, err := verifyDepositTxn(cfg, root, tx, 0, userPubKey, 144); err != errBadDepositAmount {
		t.Fatalf("expected errBadDepositAmount, got %v", err)
	}
}

func TestVerifyDepositTxnRejectsOutOfRangeVout(t *testing.T) {
	root := mustDepositTestRootPubKey(t)
	cfg := baseTestConfig()
	tx := buildDepositTx(t, root, depositTestUserPubKeyHex, 144, 5000, 0, wire.MaxTxInSequenceNum)

	userPubKey, _ := btcproto.DecodeHex(depositTestUserPubKeyHex)
	if _, err := verifyDepositTxn(cfg, root, tx, 5, userPubKey, 144); err != errBadDepositIdx {
		t.Fatalf("expected errBadDepositIdx, got %v", err)
	}
}

func TestDecodeEmbedMessageRejectsNonOpReturn(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: []byte{0x51}})
	if _, err := decodeEmbedMessage(tx, 0); err != errEmbedOutputNotOpReturn {
		t.Fatalf("expected errEmbedOutputNotOpReturn, got %v", err)
	}
}

func TestDecodeEmbedMessageRejectsNonZeroValue(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(&wire.TxOut{Value: 1, PkScript: []byte{0x6a, 0x00}})
	if _, err := decodeEmbedMessage(tx, 0); err != errEmbedOutputNotZeroValue {
		t.Fatalf("expected errEmbedOutputNotZeroValue, got %v", err)
	}
}

func TestDecodeEmbedMessageRejectsOutOfRangeVout(t *testing.T) {
	tx := wire.NewMsgTx(2)
	if _, err := decodeEmbedMessage(tx, 0); err != errBadEmbedIdx {
		t.Fatalf("expected errBadEmbedIdx, got %v", err)
	}
}
