package btcproto

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/sha3"
)

// epsilonDerivationPrefix is part of the wire contract between this
// protocol and the MPC signing service: it, the "accountId,path"
// ordering below, and the choice of SHA3-256 MUST be preserved bit-exact
// or previously produced deposit scripts stop matching their derived
// protocol key.
const epsilonDerivationPrefix = "near-mpc-recovery v0.1.0 epsilon derivation:"

// DeriveProtocolPubKey computes the child public key the MPC signer signs
// under for a given predecessor account id and derivation path, by
// additively tweaking the root public key with an epsilon scalar derived
// via SHA3-256 over the literal prefix string.
func DeriveProtocolPubKey(rootPubKey *btcec.PublicKey, predecessorAccountID, path string) *btcec.PublicKey {
	epsilon := deriveEpsilon(predecessorAccountID, path)
	return addEpsilon(rootPubKey, epsilon)
}

func deriveEpsilon(predecessorAccountID, path string) *btcec.ModNScalar {
	preimage := epsilonDerivationPrefix + predecessorAccountID + "," + path
	sum := sha3.Sum256([]byte(preimage))

	var scalar btcec.ModNScalar
	// Overflow (hash value >= curve order) is expected and harmless:
	// SetByteSlice reduces mod n, matching the "from_non_biased" scalar
	// interpretation used by the derivation this mirrors.
	scalar.SetByteSlice(sum[:])
	return &scalar
}

func addEpsilon(rootPubKey *btcec.PublicKey, epsilon *btcec.ModNScalar) *btcec.PublicKey {
	var epsilonPoint, rootPoint, sumPoint btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(epsilon, &epsilonPoint)

	rootPubKey.AsJacobian(&rootPoint)
	btcec.AddNonConst(&epsilonPoint, &rootPoint, &sumPoint)
	sumPoint.ToAffine()

	return btcec.NewPublicKey(&sumPoint.X, &sumPoint.Y)
}
