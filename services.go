package bithive

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/bithive/custody/pkg/btcproto"
)

// LightClient is the external SPV collaborator (§6.1): given a
// transaction id, the block hash it was included in, its index within
// that block, and a Merkle inclusion proof, it reports whether the
// transaction has reached the required number of confirmations. It is an
// out-of-scope external service — only its interface is specified here.
type LightClient interface {
	VerifyTransactionInclusion(
		ctx context.Context,
		txID btcproto.H256,
		blockHash btcproto.H256,
		txIndex uint64,
		merkleProof []btcproto.H256,
		confirmations uint64,
	) (bool, error)
}

// MPCSignature is the threshold-signature result format the MPC signer
// returns: an affine "big R" point and scalar "s" (both SEC1/big-endian
// hex per the external protocol), plus the recovery id needed to recover
// the public key from (bigR, s).
type MPCSignature struct {
	BigR       string
	S          string
	RecoveryID uint8
}

// MPCSigner is the external threshold-signing collaborator (§6.1). Sign
// requests a signature over a 32-byte payload under the child key at
// (path, keyVersion); feeSatoshi is the caller's attached payment,
// forwarded to the service in full as its signing fee (§5 resource
// accounting item (c)). PublicKey returns the service's current root
// point.
type MPCSigner interface {
	Sign(ctx context.Context, payload [32]byte, path string, keyVersion uint32, feeSatoshi uint64) (MPCSignature, error)
	PublicKey(ctx context.Context) (*btcec.PublicKey, error)
}

// BIP322Verifier is the external full-BIP322 verification collaborator
// (§6.1), used only when a caller signs a queue-withdrawal message with a
// BIP-322 witness rather than plain ECDSA.
type BIP322Verifier interface {
	VerifyBIP322Full(ctx context.Context, pubKeyHex, address, message, signatureHex string) (bool, error)
}

// Gas costs charged against a request's GasBudget for each external
// dispatch (§4.6), mirroring the fixed `assert_gas` ceilings the original
// Rust contract checks before a cross-contract call. Units are arbitrary
// and not Vault-metered; they only gate how small a caller-supplied
// gas_budget may be before the call is rejected outright.
const (
	gasCostLightClientVerify uint64 = 20
	gasCostMPCSign           uint64 = 30
	gasCostMPCPublicKey      uint64 = 10
	gasCostBIP322Verify      uint64 = 20
)

// defaultGasBudget is the compute budget a call gets when the caller does
// not attach an explicit one, comfortably above any single gasCost* above.
const defaultGasBudget uint64 = 100

// GasBudget models the "reject calls with insufficient remaining compute
// budget" guard of §4.6: a fixed ceiling decremented per dispatched
// external call. It is deliberately simple — a counter, not a simulator
// of any particular host's metering unit.
type GasBudget struct {
	remaining uint64
}

// NewGasBudget returns a budget with total units available.
func NewGasBudget(total uint64) *GasBudget {
	return &GasBudget{remaining: total}
}

// Reserve deducts cost from the remaining budget, failing if insufficient
// budget remains for the call about to be dispatched.
func (g *GasBudget) Reserve(cost uint64) error {
	if g.remaining < cost {
		return errInsufficientGas
	}
	g.remaining -= cost
	return nil
}

// Remaining reports the unspent budget.
func (g *GasBudget) Remaining() uint64 {
	return g.remaining
}

// refundThreshold mirrors the original contract's REFUND_THRESHOLD: an
// attached-but-unused payment below this amount is not worth the cost of
// issuing a refund and is retained instead.
const refundThreshold = 10_000

// shouldRefund reports whether attached is large enough to be worth
// refunding on a failed external call.
func shouldRefund(attached uint64) bool {
	return attached >= refundThreshold
}

// attachRefund sets refund_amount on resp.Data when attached clears
// refundThreshold, giving the caller a concrete figure for the native
// tokens returned after a failed external call (§4.4 step 7, §4.5 step 5).
func attachRefund(resp *logical.Response, attached uint64) {
	if !shouldRefund(attached) {
		return
	}
	resp.Data["refund_amount"] = attached
}
