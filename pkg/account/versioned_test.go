package account

import (
	"encoding/json"
	"testing"
)

func TestVersionedAccountRoundTrip(t *testing.T) {
	a := New("pk1")
	d := NewDeposit("pk1", 1, "tx1", 0, 1000, 5)
	_ = a.CreateDeposit(d)

	wrapped := NewVersionedAccount(*a)
	data, err := json.Marshal(wrapped)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded VersionedAccount
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Current.TotalDeposit != a.TotalDeposit {
		t.Fatalf("total_deposit mismatch: got %d want %d", decoded.Current.TotalDeposit, a.TotalDeposit)
	}
	if !decoded.Current.IsDepositActive("tx1", 0) {
		t.Fatal("expected round-tripped account to retain its active deposit")
	}
}

func TestVersionedAccountNormalizesMissingVersionTag(t *testing.T) {
	raw := []byte(`{"current":{"pubkey":"pk1","total_deposit":5,"active_deposits":{},"withdrawn_deposits":{},"queue_withdrawal_amount":0,"queue_withdrawal_start_ts":0,"nonce":0,"pending_sign_deposit":0}}`)

	var decoded VersionedAccount
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal legacy-shaped record: %v", err)
	}
	if decoded.Current.TotalDeposit != 5 {
		t.Fatalf("total_deposit = %d, want 5", decoded.Current.TotalDeposit)
	}
}

func TestVersionedAccountRejectsUnknownVersion(t *testing.T) {
	raw := []byte(`{"v":"v2","current":{}}`)
	var decoded VersionedAccount
	if err := json.Unmarshal(raw, &decoded); err == nil {
		t.Fatal("expected error decoding an unrecognized version tag")
	}
}

func TestVersionedDepositRoundTrip(t *testing.T) {
	d := NewDeposit("pk1", 1, "tx1", 0, 1000, 5)
	wrapped := NewVersionedDeposit(d)

	data, err := json.Marshal(wrapped)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded VersionedDeposit
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Current != d {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded.Current, d)
	}
}
