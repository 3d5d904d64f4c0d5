package bithive

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/bithive/custody/pkg/btcproto"
)

// requireOwner gates mutating administrative calls (§6.4): the caller
// must supply the configured owner_id and a literal proof_of_intent of
// "1", mirroring the original contract's assert_one_yocto +
// predecessor_account_id() == owner_id guard. There is no host-supplied
// caller identity in this port, so the claimed owner_id is itself part of
// the request and is compared against the stored value.
func requireOwner(data *framework.FieldData, cfg *GlobalConfig) error {
	proof, _ := data.GetOk("proof_of_intent")
	if proof, ok := proof.(string); !ok || proof != "1" {
		return errMissingProofOfIntent
	}
	callerID := data.Get("owner_id").(string)
	if callerID != cfg.OwnerID {
		return errNotOwner
	}
	return nil
}

func ownerGatedFields(extra map[string]*framework.FieldSchema) map[string]*framework.FieldSchema {
	fields := map[string]*framework.FieldSchema{
		"owner_id": {
			Type:        framework.TypeString,
			Description: "Caller's claimed owner account id.",
		},
		"proof_of_intent": {
			Type:        framework.TypeString,
			Description: "Must be the literal string \"1\", a deliberate-intent guard against accidental admin calls.",
		},
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

func pathAdmin(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "config",
			Fields: map[string]*framework.FieldSchema{
				"owner_id":                      {Type: framework.TypeString, Description: "Initial owner account id."},
				"btc_light_client_id":           {Type: framework.TypeString, Description: "Light client service identity."},
				"bip322_verifier_id":            {Type: framework.TypeString, Description: "Optional BIP-322 verifier service identity."},
				"chain_signatures_id":           {Type: framework.TypeString, Description: "MPC signer service identity."},
				"n_confirmation":                {Type: framework.TypeInt, Description: "Required confirmations for light-client proofs.", Default: 6},
				"withdrawal_waiting_time_ms":    {Type: framework.TypeInt, Description: "Queue maturation delay in milliseconds.", Default: 3600000},
				"min_deposit_satoshi":           {Type: framework.TypeInt, Description: "Minimum accepted deposit amount in satoshis."},
				"earliest_deposit_block_height": {Type: framework.TypeInt, Description: "0 disables the absolute-locktime deposit gate."},
				"solo_withdrawal_seq_heights":   {Type: framework.TypeCommaIntSlice, Description: "Non-empty list of allowed CSV sequence heights; first is current."},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.CreateOperation: &framework.PathOperation{Callback: b.pathConfigBootstrap},
				logical.ReadOperation:   &framework.PathOperation{Callback: b.pathConfigRead},
			},
			ExistenceCheck: b.pathConfigExistenceCheck,
		},
		{
			Pattern: "admin/owner/propose",
			Fields: ownerGatedFields(map[string]*framework.FieldSchema{
				"new_owner_id": {Type: framework.TypeString, Description: "Account id to propose as the next owner."},
			}),
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathProposeChangeOwner},
			},
		},
		{
			Pattern: "admin/owner/accept",
			Fields: map[string]*framework.FieldSchema{
				"caller_id": {Type: framework.TypeString, Description: "Caller's claimed account id; must match pending_owner_id."},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathAcceptChangeOwner},
			},
		},
		{
			Pattern: "admin/services/light-client",
			Fields: ownerGatedFields(map[string]*framework.FieldSchema{
				"id": {Type: framework.TypeString, Description: "New light client service identity."},
			}),
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSetLightClientID},
			},
		},
		{
			Pattern: "admin/services/bip322-verifier",
			Fields: ownerGatedFields(map[string]*framework.FieldSchema{
				"id": {Type: framework.TypeString, Description: "New BIP-322 verifier service identity; empty clears it."},
			}),
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSetBIP322VerifierID},
			},
		},
		{
			Pattern: "admin/services/chain-signatures",
			Fields: ownerGatedFields(map[string]*framework.FieldSchema{
				"id": {Type: framework.TypeString, Description: "New MPC signer service identity."},
			}),
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSetChainSignaturesID},
			},
		},
		{
			Pattern: "admin/policy/n-confirmation",
			Fields: ownerGatedFields(map[string]*framework.FieldSchema{
				"value": {Type: framework.TypeInt, Description: "Required confirmations; must be > 0."},
			}),
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSetNConfirmation},
			},
		},
		{
			Pattern: "admin/policy/withdrawal-waiting-time",
			Fields: ownerGatedFields(map[string]*framework.FieldSchema{
				"value_ms": {Type: framework.TypeInt, Description: "Queue maturation delay in ms; must be > 0."},
			}),
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSetWithdrawalWaitingTime},
			},
		},
		{
			Pattern: "admin/policy/min-deposit",
			Fields: ownerGatedFields(map[string]*framework.FieldSchema{
				"value_satoshi": {Type: framework.TypeInt, Description: "Minimum accepted deposit in satoshis."},
			}),
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSetMinDeposit},
			},
		},
		{
			Pattern: "admin/policy/earliest-deposit-block-height",
			Fields: ownerGatedFields(map[string]*framework.FieldSchema{
				"value": {Type: framework.TypeInt, Description: "0 disables the absolute-locktime deposit gate."},
			}),
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSetEarliestDepositBlockHeight},
			},
		},
		{
			Pattern: "admin/policy/solo-withdrawal-sequence-heights",
			Fields: ownerGatedFields(map[string]*framework.FieldSchema{
				"values": {Type: framework.TypeCommaIntSlice, Description: "Non-empty list of allowed CSV sequence heights; first is current."},
			}),
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSetSoloWithdrawalSeqHeights},
			},
		},
		{
			Pattern: "admin/pause",
			Fields: ownerGatedFields(map[string]*framework.FieldSchema{
				"paused": {Type: framework.TypeBool, Description: "Target pause state; must differ from the current state."},
			}),
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSetPaused},
			},
		},
		{
			Pattern: "admin/sync-root-pubkey",
			Fields: map[string]*framework.FieldSchema{
				"gas_budget": {Type: framework.TypeInt, Description: "Compute budget available for this call's MPC-signer dispatch.", Default: int(defaultGasBudget)},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSyncRootPubKey},
			},
		},
	}
}

func (b *btcBackend) pathConfigExistenceCheck(ctx context.Context, req *logical.Request, data *framework.FieldData) (bool, error) {
	cfg, err := getGlobalConfig(ctx, req.Storage)
	if err != nil {
		return false, err
	}
	return cfg != nil, nil
}

func (b *btcBackend) pathConfigBootstrap(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	if existing, err := getGlobalConfig(ctx, req.Storage); err != nil {
		return nil, err
	} else if existing != nil {
		return logical.ErrorResponse("contract is already configured"), nil
	}

	heights := data.Get("solo_withdrawal_seq_heights").([]int)
	if len(heights) == 0 {
		return logical.ErrorResponse("solo_withdrawal_seq_heights must be non-empty"), nil
	}
	seqHeights := make([]uint16, len(heights))
	for i, h := range heights {
		seqHeights[i] = uint16(h)
	}

	nConfirmation := uint64(data.Get("n_confirmation").(int))
	if nConfirmation == 0 {
		return logical.ErrorResponse("n_confirmation must be greater than 0"), nil
	}
	waitMS := uint64(data.Get("withdrawal_waiting_time_ms").(int))
	if waitMS == 0 {
		return logical.ErrorResponse("withdrawal_waiting_time_ms must be greater than 0"), nil
	}

	cfg := &GlobalConfig{
		OwnerID:                    data.Get("owner_id").(string),
		BTCLightClientID:           data.Get("btc_light_client_id").(string),
		BIP322VerifierID:           data.Get("bip322_verifier_id").(string),
		ChainSignaturesID:          data.Get("chain_signatures_id").(string),
		NConfirmation:              nConfirmation,
		WithdrawalWaitingTimeMS:    waitMS,
		MinDepositSatoshi:          uint64(data.Get("min_deposit_satoshi").(int)),
		EarliestDepositBlockHeight: uint32(data.Get("earliest_deposit_block_height").(int)),
		SoloWithdrawalSeqHeights:   seqHeights,
	}
	if cfg.OwnerID == "" {
		return logical.ErrorResponse("owner_id is required"), nil
	}

	if err := putGlobalConfig(ctx, req.Storage, cfg); err != nil {
		return nil, err
	}
	b.Logger().Info("bithive contract configured", "owner_id", cfg.OwnerID)
	return nil, nil
}

func (b *btcBackend) pathConfigRead(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := getGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}
	return &logical.Response{Data: contractSummary(cfg)}, nil
}

func (b *btcBackend) pathProposeChangeOwner(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(data, cfg); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	cfg.PendingOwnerID = data.Get("new_owner_id").(string)
	if err := putGlobalConfig(ctx, req.Storage, cfg); err != nil {
		return nil, err
	}
	return nil, nil
}

func (b *btcBackend) pathAcceptChangeOwner(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if cfg.PendingOwnerID == "" {
		return logical.ErrorResponse(errNoPendingOwner.Error()), nil
	}
	callerID := data.Get("caller_id").(string)
	if callerID != cfg.PendingOwnerID {
		return logical.ErrorResponse(errNotPendingOwner.Error()), nil
	}
	cfg.OwnerID = cfg.PendingOwnerID
	cfg.PendingOwnerID = ""
	if err := putGlobalConfig(ctx, req.Storage, cfg); err != nil {
		return nil, err
	}
	return nil, nil
}

func (b *btcBackend) pathSetLightClientID(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	return b.withOwner(ctx, req, data, func(cfg *GlobalConfig) (*logical.Response, error) {
		cfg.BTCLightClientID = data.Get("id").(string)
		return nil, nil
	})
}

func (b *btcBackend) pathSetBIP322VerifierID(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	return b.withOwner(ctx, req, data, func(cfg *GlobalConfig) (*logical.Response, error) {
		cfg.BIP322VerifierID = data.Get("id").(string)
		return nil, nil
	})
}

func (b *btcBackend) pathSetChainSignaturesID(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	return b.withOwner(ctx, req, data, func(cfg *GlobalConfig) (*logical.Response, error) {
		cfg.ChainSignaturesID = data.Get("id").(string)
		return nil, nil
	})
}

func (b *btcBackend) pathSetNConfirmation(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	return b.withOwner(ctx, req, data, func(cfg *GlobalConfig) (*logical.Response, error) {
		v := data.Get("value").(int)
		if v <= 0 {
			return logical.ErrorResponse("n_confirmation must be greater than 0"), nil
		}
		cfg.NConfirmation = uint64(v)
		return nil, nil
	})
}

func (b *btcBackend) pathSetWithdrawalWaitingTime(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	return b.withOwner(ctx, req, data, func(cfg *GlobalConfig) (*logical.Response, error) {
		v := data.Get("value_ms").(int)
		if v <= 0 {
			return logical.ErrorResponse("withdrawal_waiting_time_ms must be greater than 0"), nil
		}
		cfg.WithdrawalWaitingTimeMS = uint64(v)
		return nil, nil
	})
}

func (b *btcBackend) pathSetMinDeposit(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	return b.withOwner(ctx, req, data, func(cfg *GlobalConfig) (*logical.Response, error) {
		cfg.MinDepositSatoshi = uint64(data.Get("value_satoshi").(int))
		return nil, nil
	})
}

func (b *btcBackend) pathSetEarliestDepositBlockHeight(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	return b.withOwner(ctx, req, data, func(cfg *GlobalConfig) (*logical.Response, error) {
		cfg.EarliestDepositBlockHeight = uint32(data.Get("value").(int))
		return nil, nil
	})
}

func (b *btcBackend) pathSetSoloWithdrawalSeqHeights(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	return b.withOwner(ctx, req, data, func(cfg *GlobalConfig) (*logical.Response, error) {
		values := data.Get("values").([]int)
		if len(values) == 0 {
			return logical.ErrorResponse("values must be non-empty"), nil
		}
		heights := make([]uint16, len(values))
		for i, v := range values {
			heights[i] = uint16(v)
		}
		cfg.SoloWithdrawalSeqHeights = heights
		return nil, nil
	})
}

func (b *btcBackend) pathSetPaused(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	return b.withOwner(ctx, req, data, func(cfg *GlobalConfig) (*logical.Response, error) {
		target := data.Get("paused").(bool)
		if cfg.Paused == target {
			return logical.ErrorResponse(errInvalidOperation.Error()), nil
		}
		cfg.Paused = target
		return nil, nil
	})
}

// withOwner loads the config, checks owner gating, lets mutate apply its
// change, then persists — the common shape behind every admin setter.
func (b *btcBackend) withOwner(ctx context.Context, req *logical.Request, data *framework.FieldData, mutate func(*GlobalConfig) (*logical.Response, error)) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(data, cfg); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if resp, err := mutate(cfg); err != nil || resp != nil {
		return resp, err
	}
	if err := putGlobalConfig(ctx, req.Storage, cfg); err != nil {
		return nil, err
	}
	return nil, nil
}

// pathSyncRootPubKey implements lib.rs's dedicated root-pubkey sync step:
// write-once, independent of initial configuration.
func (b *btcBackend) pathSyncRootPubKey(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if cfg.ChainSignaturesRootPubKey != "" {
		return logical.ErrorResponse(errRootPubKeyAlreadySynced.Error()), nil
	}

	gasBudget := NewGasBudget(uint64(data.Get("gas_budget").(int)))
	if err := gasBudget.Reserve(gasCostMPCPublicKey); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	pubKey, err := b.mpcSigner.PublicKey(ctx)
	if err != nil {
		return logical.ErrorResponse(fmt.Sprintf("%s: %s", errFailedToSyncRootPubKey.Error(), err)), nil
	}

	cfg.ChainSignaturesRootPubKey = btcproto.EncodeHex(pubKey.SerializeUncompressed())
	if err := putGlobalConfig(ctx, req.Storage, cfg); err != nil {
		return nil, err
	}
	b.Logger().Info("synced chain signatures root pubkey")
	return nil, nil
}
