package btcproto

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Reuses the fixed compressed pubkey from the original deposit-script test
// fixtures as a stand-in root point: a known-valid point on the curve is
// all the derivation test needs.
const testRootPubKeyHex = "02f6b15f899fac9c7dc60dcac795291c70e50c3a2ee1d5070dee0d8020781584e5"

func mustRootPubKey(t *testing.T) *btcec.PublicKey {
	t.Helper()
	raw, err := DecodeHex(testRootPubKeyHex)
	if err != nil {
		t.Fatalf("decode root pubkey: %v", err)
	}
	pk, err := btcec.ParsePubKey(raw)
	if err != nil {
		t.Fatalf("parse root pubkey: %v", err)
	}
	return pk
}

func TestDeriveProtocolPubKeyDeterministic(t *testing.T) {
	root := mustRootPubKey(t)

	a1 := DeriveProtocolPubKey(root, "bithive.near", "/btc")
	a2 := DeriveProtocolPubKey(root, "bithive.near", "/btc")

	if !bytes.Equal(a1.SerializeCompressed(), a2.SerializeCompressed()) {
		t.Fatal("expected derivation to be deterministic for the same account id and path")
	}
}

func TestDeriveProtocolPubKeyDistinctPerPath(t *testing.T) {
	root := mustRootPubKey(t)

	btc := DeriveProtocolPubKey(root, "bithive.near", "/btc")
	foo := DeriveProtocolPubKey(root, "bithive.near", "/foo")

	if bytes.Equal(btc.SerializeCompressed(), foo.SerializeCompressed()) {
		t.Fatal("expected different derivation paths to yield different protocol keys")
	}
}

func TestDeriveProtocolPubKeyDistinctPerAccount(t *testing.T) {
	root := mustRootPubKey(t)

	a := DeriveProtocolPubKey(root, "bithive.near", "/btc")
	b := DeriveProtocolPubKey(root, "someone-else.near", "/btc")

	if bytes.Equal(a.SerializeCompressed(), b.SerializeCompressed()) {
		t.Fatal("expected different predecessor account ids to yield different protocol keys")
	}
}
