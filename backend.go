package bithive

import (
	"context"
	"strings"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"
)

// Services bundles the external collaborators the contract calls out to
// (§6.1). BIP322Verifier may be nil: queue-withdrawal then only accepts
// plain ECDSA Bitcoin-signed-message proofs.
type Services struct {
	LightClient    LightClient
	MPCSigner      MPCSigner
	BIP322Verifier BIP322Verifier
}

type btcBackend struct {
	*framework.Backend

	lightClient    LightClient
	mpcSigner      MPCSigner
	bip322Verifier BIP322Verifier
}

// Factory constructs the backend the way a Vault plugin's Factory would,
// except the external collaborators are supplied directly rather than
// dialed from stored connection config — there is no pooled external
// connection here to lazily establish or invalidate.
func Factory(ctx context.Context, conf *logical.BackendConfig, services Services) (logical.Backend, error) {
	b := backend(services)
	if conf == nil {
		return b, nil
	}
	if err := b.Setup(ctx, conf); err != nil {
		return nil, err
	}
	return b, nil
}

func backend(services Services) *btcBackend {
	b := &btcBackend{
		lightClient:    services.LightClient,
		mpcSigner:      services.MPCSigner,
		bip322Verifier: services.BIP322Verifier,
	}

	b.Backend = &framework.Backend{
		Help: strings.TrimSpace(backendHelp),
		PathsSpecial: &logical.Paths{
			SealWrapStorage: []string{
				configStorageKey,
				accountsPrefix + "*",
			},
		},
		Paths: framework.PathAppend(
			pathAdmin(b),
			pathDeposit(b),
			pathWithdraw(b),
			pathView(b),
		),
		BackendType: logical.TypeLogical,
	}

	return b
}

const backendHelp = `
The bithive secrets engine custodies Bitcoin deposits under a 2-of-2
user/protocol script (with a user-only CSV-timelocked solo-withdrawal
path) and drives queued withdrawals through an MPC-signed PSBT flow.
Deposits and withdrawals are verified against an external light client
before account state advances; withdrawal signing requests are relayed
to an external threshold-signature service.
`
