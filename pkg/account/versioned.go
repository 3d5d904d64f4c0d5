package account

import (
	"encoding/json"
	"fmt"
)

// VersionedAccount is the persisted sum-type wrapper around Account:
// every on-disk record is wrapped this way so future field additions can
// be introduced as a new variant while old records still decode. Only
// "current" is ever written; reads normalize any older variant forward.
type VersionedAccount struct {
	Version string  `json:"v"`
	Current Account `json:"current"`
}

const versionAccountCurrent = "current"

// NewVersionedAccount wraps a to the current on-disk representation.
func NewVersionedAccount(a Account) VersionedAccount {
	return VersionedAccount{Version: versionAccountCurrent, Current: a}
}

// MarshalJSON always writes the current variant.
func (v VersionedAccount) MarshalJSON() ([]byte, error) {
	type alias VersionedAccount
	return json.Marshal(alias{Version: versionAccountCurrent, Current: v.Current})
}

// UnmarshalJSON decodes any known variant and normalizes it to Current.
// There is only one variant today (Current); this switch is where a
// future legacy variant would be lifted forward.
func (v *VersionedAccount) UnmarshalJSON(data []byte) error {
	var raw struct {
		Version string          `json:"v"`
		Current json.RawMessage `json:"current"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Version {
	case versionAccountCurrent, "":
		var a Account
		if len(raw.Current) > 0 {
			if err := json.Unmarshal(raw.Current, &a); err != nil {
				return fmt.Errorf("decode current account: %w", err)
			}
		}
		if a.ActiveDeposits == nil {
			a.ActiveDeposits = make(map[OutputID]Deposit)
		}
		if a.WithdrawnDeposits == nil {
			a.WithdrawnDeposits = make(map[OutputID]Deposit)
		}
		v.Version = versionAccountCurrent
		v.Current = a
		return nil
	default:
		return fmt.Errorf("unknown account record version: %q", raw.Version)
	}
}

// VersionedDeposit is the persisted sum-type wrapper around Deposit,
// mirroring VersionedAccount.
type VersionedDeposit struct {
	Version string  `json:"v"`
	Current Deposit `json:"current"`
}

const versionDepositCurrent = "current"

// NewVersionedDeposit wraps d to the current on-disk representation.
func NewVersionedDeposit(d Deposit) VersionedDeposit {
	return VersionedDeposit{Version: versionDepositCurrent, Current: d}
}

// MarshalJSON always writes the current variant.
func (v VersionedDeposit) MarshalJSON() ([]byte, error) {
	type alias VersionedDeposit
	return json.Marshal(alias{Version: versionDepositCurrent, Current: v.Current})
}

// UnmarshalJSON decodes any known variant and normalizes it to Current.
func (v *VersionedDeposit) UnmarshalJSON(data []byte) error {
	var raw struct {
		Version string          `json:"v"`
		Current json.RawMessage `json:"current"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Version {
	case versionDepositCurrent, "":
		var d Deposit
		if len(raw.Current) > 0 {
			if err := json.Unmarshal(raw.Current, &d); err != nil {
				return fmt.Errorf("decode current deposit: %w", err)
			}
		}
		v.Version = versionDepositCurrent
		v.Current = d
		return nil
	default:
		return fmt.Errorf("unknown deposit record version: %q", raw.Version)
	}
}
