package bithive

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/sdk/logical"

	"github.com/bithive/custody/pkg/account"
)

// getAccount loads the account for pubkey, returning nil if it does not
// exist yet (the caller is expected to create one on demand).
func getAccount(ctx context.Context, s logical.Storage, pubkey string) (*account.Account, error) {
	entry, err := s.Get(ctx, accountKey(pubkey))
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	var v account.VersionedAccount
	if err := entry.DecodeJSON(&v); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	a := v.Current
	return &a, nil
}

// requireAccount loads the account for pubkey, failing with
// errAccountNotFound if it does not exist.
func requireAccount(ctx context.Context, s logical.Storage, pubkey string) (*account.Account, error) {
	a, err := getAccount(ctx, s, pubkey)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errAccountNotFound
	}
	return a, nil
}

func putAccount(ctx context.Context, s logical.Storage, a *account.Account) error {
	versioned := account.NewVersionedAccount(*a)
	entry, err := logical.StorageEntryJSON(accountKey(a.PubKey), versioned)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return s.Put(ctx, entry)
}
