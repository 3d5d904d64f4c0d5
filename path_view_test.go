package bithive

import (
	"context"
	"testing"

	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/bithive/custody/pkg/account"
)

func TestPaginate(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}

	if got := paginate(items, 0, 0); len(got) != 5 {
		t.Fatalf("expected all items with zero limit, got %v", got)
	}
	if got := paginate(items, 2, 2); len(got) != 2 || got[0] != 2 {
		t.Fatalf("unexpected page: %v", got)
	}
	if got := paginate(items, 10, 2); got != nil {
		t.Fatalf("expected nil for offset past end, got %v", got)
	}
	if got := paginate(items, -5, 2); len(got) != 2 || got[0] != 0 {
		t.Fatalf("expected negative offset clamped to 0, got %v", got)
	}
	if got := paginate(items, 3, 10); len(got) != 2 {
		t.Fatalf("expected limit past end clamped, got %v", got)
	}
}

func TestAccountViewReflectsPendingSignState(t *testing.T) {
	a := account.New("pk1")
	a.PendingSignPSBT = &account.PendingSignPSBT{PSBTBytes: []byte{0x01}}
	view := accountView(a)
	if view["has_pending_sign_psbt"] != true {
		t.Fatalf("expected has_pending_sign_psbt true, got %+v", view)
	}
}

func TestDepositViewOmitsWithdrawalTxIDWhenActive(t *testing.T) {
	d := account.NewDeposit("pk1", 1, "txid1", 0, 1000, 144)
	view := depositView(d)
	if _, ok := view["withdrawal_tx_id"]; ok {
		t.Fatalf("expected no withdrawal_tx_id on an active deposit, got %+v", view)
	}

	d.CompleteWithdrawal("txid2", 5000)
	view = depositView(d)
	if view["withdrawal_tx_id"] != "txid2" {
		t.Fatalf("expected withdrawal_tx_id txid2, got %+v", view)
	}
}

func TestSortedDepositsIsDeterministic(t *testing.T) {
	m := map[account.OutputID]account.Deposit{
		account.OutputIDOf("txidB", 0): account.NewDeposit("pk1", 1, "txidB", 0, 100, 144),
		account.OutputIDOf("txidA", 1): account.NewDeposit("pk1", 1, "txidA", 1, 200, 144),
	}
	out := sortedDeposits(m)
	if len(out) != 2 || out[0].DepositTxID != "txidA" || out[1].DepositTxID != "txidB" {
		t.Fatalf("expected sorted by OutputID, got %+v", out)
	}
}

func TestContractSummaryFields(t *testing.T) {
	cfg := &GlobalConfig{OwnerID: "alice", NConfirmation: 6, SoloWithdrawalSeqHeights: []uint16{144}}
	summary := contractSummary(cfg)
	if summary["owner_id"] != "alice" || summary["n_confirmation"] != uint64(6) {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestDepositConstantsSurfacesCurrentSeqHeight(t *testing.T) {
	cfg := &GlobalConfig{SoloWithdrawalSeqHeights: []uint16{144, 72}}
	constants := depositConstants(cfg)
	if constants["solo_withdrawal_seq_height"] != uint16(144) {
		t.Fatalf("expected current height 144, got %+v", constants)
	}
}

func TestPathViewAccountsLenCountsStoredAccounts(t *testing.T) {
	ctx := context.Background()
	storage := &logical.InmemStorage{}

	if err := putAccount(ctx, storage, account.New("pk1")); err != nil {
		t.Fatalf("put pk1: %v", err)
	}
	if err := putAccount(ctx, storage, account.New("pk2")); err != nil {
		t.Fatalf("put pk2: %v", err)
	}

	b := &btcBackend{}
	resp, err := b.pathViewAccountsLen(ctx, &logical.Request{Storage: storage}, new(framework.FieldData))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data["len"] != 2 {
		t.Fatalf("expected len 2, got %+v", resp.Data)
	}
}

func TestPathViewAccountReturnsNotFoundForMissingAccount(t *testing.T) {
	ctx := context.Background()
	storage := &logical.InmemStorage{}

	fields := map[string]*framework.FieldSchema{"user_pubkey": {Type: framework.TypeString}}
	raw := map[string]interface{}{"user_pubkey": "nonexistent"}
	data := &framework.FieldData{Raw: raw, Schema: fields}

	b := &btcBackend{}
	resp, err := b.pathViewAccount(ctx, &logical.Request{Storage: storage}, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsError() {
		t.Fatalf("expected error response, got %+v", resp)
	}
}
