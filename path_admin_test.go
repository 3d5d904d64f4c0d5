package bithive

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"
)

type fakeMPCSigner struct {
	pubKey *btcec.PublicKey
	err    error
}

func (f *fakeMPCSigner) Sign(ctx context.Context, payload [32]byte, path string, keyVersion uint32, feeSatoshi uint64) (MPCSignature, error) {
	return MPCSignature{}, nil
}

func (f *fakeMPCSigner) PublicKey(ctx context.Context) (*btcec.PublicKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pubKey, nil
}

func bootstrapTestConfig(t *testing.T, storage logical.Storage) {
	t.Helper()
	cfg := &GlobalConfig{
		OwnerID:                  "alice",
		NConfirmation:            6,
		WithdrawalWaitingTimeMS:  3600000,
		SoloWithdrawalSeqHeights: []uint16{144},
	}
	if err := putGlobalConfig(context.Background(), storage, cfg); err != nil {
		t.Fatalf("bootstrap config: %v", err)
	}
}

func ownerFields(extra map[string]interface{}) map[string]interface{} {
	raw := map[string]interface{}{"owner_id": "alice", "proof_of_intent": "1"}
	for k, v := range extra {
		raw[k] = v
	}
	return raw
}

func TestRequireOwnerRejectsMissingProofOfIntent(t *testing.T) {
	cfg := &GlobalConfig{OwnerID: "alice"}
	fields := map[string]*framework.FieldSchema{
		"owner_id":        {Type: framework.TypeString},
		"proof_of_intent": {Type: framework.TypeString},
	}
	data := &framework.FieldData{Raw: map[string]interface{}{"owner_id": "alice"}, Schema: fields}
	if err := requireOwner(data, cfg); err != errMissingProofOfIntent {
		t.Fatalf("expected errMissingProofOfIntent, got %v", err)
	}
}

func TestRequireOwnerRejectsWrongOwner(t *testing.T) {
	cfg := &GlobalConfig{OwnerID: "alice"}
	fields := map[string]*framework.FieldSchema{
		"owner_id":        {Type: framework.TypeString},
		"proof_of_intent": {Type: framework.TypeString},
	}
	data := &framework.FieldData{Raw: ownerFields(map[string]interface{}{"owner_id": "mallory"}), Schema: fields}
	if err := requireOwner(data, cfg); err != errNotOwner {
		t.Fatalf("expected errNotOwner, got %v", err)
	}
}

func TestRequireOwnerAcceptsMatchingOwner(t *testing.T) {
	cfg := &GlobalConfig{OwnerID: "alice"}
	fields := map[string]*framework.FieldSchema{
		"owner_id":        {Type: framework.TypeString},
		"proof_of_intent": {Type: framework.TypeString},
	}
	data := &framework.FieldData{Raw: ownerFields(nil), Schema: fields}
	if err := requireOwner(data, cfg); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestPathSetPausedRejectsNoOpTransition(t *testing.T) {
	ctx := context.Background()
	storage := &logical.InmemStorage{}
	bootstrapTestConfig(t, storage)

	b := backend(Services{})
	fields := ownerGatedFields(map[string]*framework.FieldSchema{"paused": {Type: framework.TypeBool}})
	data := &framework.FieldData{Raw: ownerFields(map[string]interface{}{"paused": false}), Schema: fields}

	resp, err := b.pathSetPaused(ctx, &logical.Request{Storage: storage}, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsError() {
		t.Fatalf("expected error response for no-op pause transition, got %+v", resp)
	}
}

func TestPathSetPausedTogglesState(t *testing.T) {
	ctx := context.Background()
	storage := &logical.InmemStorage{}
	bootstrapTestConfig(t, storage)

	b := backend(Services{})
	fields := ownerGatedFields(map[string]*framework.FieldSchema{"paused": {Type: framework.TypeBool}})
	data := &framework.FieldData{Raw: ownerFields(map[string]interface{}{"paused": true}), Schema: fields}

	if _, err := b.pathSetPaused(ctx, &logical.Request{Storage: storage}, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg, err := requireGlobalConfig(ctx, storage)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if !cfg.Paused {
		t.Fatal("expected paused to be true after toggling")
	}
}

func TestPathSyncRootPubKeyIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	storage := &logical.InmemStorage{}
	bootstrapTestConfig(t, storage)

	root := mustDepositTestRootPubKey(t)
	b := backend(Services{MPCSigner: &fakeMPCSigner{pubKey: root}})
	gasFields := map[string]*framework.FieldSchema{"gas_budget": {Type: framework.TypeInt, Default: int(defaultGasBudget)}}
	emptyData := &framework.FieldData{Raw: map[string]interface{}{}, Schema: gasFields}

	if _, err := b.pathSyncRootPubKey(ctx, &logical.Request{Storage: storage}, emptyData); err != nil {
		t.Fatalf("unexpected error on first sync: %v", err)
	}
	cfg, err := requireGlobalConfig(ctx, storage)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.ChainSignaturesRootPubKey == "" {
		t.Fatal("expected root pubkey to be populated after sync")
	}

	resp, err := b.pathSyncRootPubKey(ctx, &logical.Request{Storage: storage}, emptyData)
	if err != nil {
		t.Fatalf("unexpected error on second sync: %v", err)
	}
	if !resp.IsError() {
		t.Fatal("expected error response on second sync attempt")
	}
}

func TestPathProposeAndAcceptChangeOwner(t *testing.T) {
	ctx := context.Background()
	storage := &logical.InmemStorage{}
	bootstrapTestConfig(t, storage)

	b := backend(Services{})
	proposeFields := ownerGatedFields(map[string]*framework.FieldSchema{"new_owner_id": {Type: framework.TypeString}})
	proposeData := &framework.FieldData{Raw: ownerFields(map[string]interface{}{"new_owner_id": "bob"}), Schema: proposeFields}
	if _, err := b.pathProposeChangeOwner(ctx, &logical.Request{Storage: storage}, proposeData); err != nil {
		t.Fatalf("propose: %v", err)
	}

	acceptFields := map[string]*framework.FieldSchema{"caller_id": {Type: framework.TypeString}}
	wrongAcceptData := &framework.FieldData{Raw: map[string]interface{}{"caller_id": "mallory"}, Schema: acceptFields}
	resp, err := b.pathAcceptChangeOwner(ctx, &logical.Request{Storage: storage}, wrongAcceptData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsError() {
		t.Fatal("expected error for non-pending caller accepting ownership")
	}

	acceptData := &framework.FieldData{Raw: map[string]interface{}{"caller_id": "bob"}, Schema: acceptFields}
	if _, err := b.pathAcceptChangeOwner(ctx, &logical.Request{Storage: storage}, acceptData); err != nil {
		t.Fatalf("accept: %v", err)
	}

	cfg, err := requireGlobalConfig(ctx, storage)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.OwnerID != "bob" || cfg.PendingOwnerID != "" {
		t.Fatalf("unexpected config after accept: %+v", cfg)
	}
}
