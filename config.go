package bithive

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/logical"
)

// GlobalConfig is the container-scoped global state of §3: ownership,
// external service identities, and the policy scalars every entry point
// consults.
type GlobalConfig struct {
	OwnerID        string `json:"owner_id"`
	PendingOwnerID string `json:"pending_owner_id,omitempty"`

	BTCLightClientID  string `json:"btc_light_client_id"`
	BIP322VerifierID  string `json:"bip322_verifier_id,omitempty"`
	ChainSignaturesID string `json:"chain_signatures_id"`

	// ChainSignaturesRootPubKey is write-once (§3 invariant 4): empty
	// until pathSyncRootPubKey succeeds, never overwritten after.
	ChainSignaturesRootPubKey string `json:"chain_signatures_root_pubkey,omitempty"`

	NConfirmation              uint64   `json:"n_confirmation"`
	WithdrawalWaitingTimeMS    uint64   `json:"withdrawal_waiting_time_ms"`
	MinDepositSatoshi          uint64   `json:"min_deposit_satoshi"`
	EarliestDepositBlockHeight uint32   `json:"earliest_deposit_block_height"`
	SoloWithdrawalSeqHeights   []uint16 `json:"solo_withdrawal_seq_heights"`

	Paused bool `json:"paused"`
}

// currentSoloWithdrawalSeqHeight is "the current active one" (§6.1's
// get_v1_deposit_constants analog): the first element of the list.
// Membership validation during deposit verification still accepts any
// element of the list (see DESIGN.md open question 1) so outstanding
// deposits built against a previously-current height keep validating
// after the current value rotates.
func (c *GlobalConfig) currentSoloWithdrawalSeqHeight() uint16 {
	if len(c.SoloWithdrawalSeqHeights) == 0 {
		return 0
	}
	return c.SoloWithdrawalSeqHeights[0]
}

func (c *GlobalConfig) allowsSoloWithdrawalSeqHeight(height uint16) bool {
	for _, h := range c.SoloWithdrawalSeqHeights {
		if h == height {
			return true
		}
	}
	return false
}

func getGlobalConfig(ctx context.Context, s logical.Storage) (*GlobalConfig, error) {
	entry, err := s.Get(ctx, configStorageKey)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	cfg := new(GlobalConfig)
	if err := entry.DecodeJSON(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func putGlobalConfig(ctx context.Context, s logical.Storage, cfg *GlobalConfig) error {
	entry, err := logical.StorageEntryJSON(configStorageKey, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return s.Put(ctx, entry)
}

func requireGlobalConfig(ctx context.Context, s logical.Storage) (*GlobalConfig, error) {
	cfg, err := getGlobalConfig(ctx, s)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("contract is not configured")
	}
	return cfg, nil
}

func (c *GlobalConfig) assertRunning() error {
	if c.Paused {
		return errPaused
	}
	return nil
}
