package bithive

import (
	"context"
	"testing"

	"github.com/hashicorp/vault/sdk/logical"

	"github.com/bithive/custody/pkg/account"
)

func TestGetAccountMissingReturnsNil(t *testing.T) {
	storage := &logical.InmemStorage{}
	a, err := getAccount(context.Background(), storage, "pk1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Fatalf("expected nil account, got %+v", a)
	}
}

func TestRequireAccountFailsWhenMissing(t *testing.T) {
	storage := &logical.InmemStorage{}
	if _, err := requireAccount(context.Background(), storage, "pk1"); err != errAccountNotFound {
		t.Fatalf("expected errAccountNotFound, got %v", err)
	}
}

func TestPutAccountThenGetAccountRoundTrips(t *testing.T) {
	ctx := context.Background()
	storage := &logical.InmemStorage{}

	a := account.New("pk1")
	a.TotalDeposit = 5000
	a.ActiveDeposits[account.OutputIDOf("txid1", 0)] = account.NewDeposit("pk1", 1, "txid1", 0, 5000, 144)

	if err := putAccount(ctx, storage, a); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := requireAccount(ctx, storage, "pk1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalDeposit != 5000 {
		t.Fatalf("expected total_deposit 5000, got %d", got.TotalDeposit)
	}
	if d, ok := got.TryGetActiveDeposit("txid1", 0); !ok || d.Value != 5000 {
		t.Fatalf("expected active deposit of 5000, got %+v, ok=%v", d, ok)
	}
}
