package bithive

import (
	"context"
	"testing"

	"github.com/hashicorp/vault/sdk/logical"
)

func TestGlobalConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := &logical.InmemStorage{}

	cfg := &GlobalConfig{
		OwnerID:                  "alice",
		BTCLightClientID:         "lc1",
		ChainSignaturesID:        "mpc1",
		NConfirmation:            6,
		WithdrawalWaitingTimeMS:  3600000,
		MinDepositSatoshi:        10000,
		SoloWithdrawalSeqHeights: []uint16{144, 100},
	}
	if err := putGlobalConfig(ctx, storage, cfg); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := getGlobalConfig(ctx, storage)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected non-nil config")
	}
	if got.OwnerID != "alice" || got.NConfirmation != 6 {
		t.Fatalf("unexpected round-tripped config: %+v", got)
	}
	if len(got.SoloWithdrawalSeqHeights) != 2 || got.SoloWithdrawalSeqHeights[0] != 144 {
		t.Fatalf("unexpected sequence heights: %v", got.SoloWithdrawalSeqHeights)
	}
}

func TestGetGlobalConfigMissingReturnsNil(t *testing.T) {
	storage := &logical.InmemStorage{}
	got, err := getGlobalConfig(context.Background(), storage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil config, got %+v", got)
	}
}

func TestRequireGlobalConfigFailsWhenMissing(t *testing.T) {
	storage := &logical.InmemStorage{}
	if _, err := requireGlobalConfig(context.Background(), storage); err == nil {
		t.Fatal("expected error for unconfigured contract")
	}
}

func TestCurrentSoloWithdrawalSeqHeightIsFirstElement(t *testing.T) {
	cfg := &GlobalConfig{SoloWithdrawalSeqHeights: []uint16{144, 72, 36}}
	if got := cfg.currentSoloWithdrawalSeqHeight(); got != 144 {
		t.Fatalf("expected 144, got %d", got)
	}
}

func TestCurrentSoloWithdrawalSeqHeightEmptyIsZero(t *testing.T) {
	cfg := &GlobalConfig{}
	if got := cfg.currentSoloWithdrawalSeqHeight(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestAllowsSoloWithdrawalSeqHeightAcceptsAnyListedMember(t *testing.T) {
	cfg := &GlobalConfig{SoloWithdrawalSeqHeights: []uint16{144, 72}}
	if !cfg.allowsSoloWithdrawalSeqHeight(72) {
		t.Fatal("expected 72 to be allowed even though it is not current")
	}
	if cfg.allowsSoloWithdrawalSeqHeight(10) {
		t.Fatal("expected 10 to be rejected")
	}
}

func TestAssertRunning(t *testing.T) {
	cfg := &GlobalConfig{}
	if err := cfg.assertRunning(); err != nil {
		t.Fatalf("unpaused config should not error: %v", err)
	}
	cfg.Paused = true
	if err := cfg.assertRunning(); err != errPaused {
		t.Fatalf("expected errPaused, got %v", err)
	}
}
