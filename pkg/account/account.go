// Package account implements the per-user data model and transition
// primitives of the bithive custody protocol: active/withdrawn deposits,
// the withdrawal queue, and the pending co-sign PSBT slot. It is storage
// agnostic — callers load an Account, mutate it through these methods,
// and persist the result (the "swap-back" pattern described in the
// governing specification).
package account

import "fmt"

const (
	// ErrDepositAlreadyActive mirrors the original contract's guard
	// against double-inserting an OutputId into the active set.
	ErrDepositAlreadyActive = "deposit already in active set"
	// ErrDepositNotActive is returned when an operation expects an
	// OutputId present in the active set but it is absent.
	ErrDepositNotActive = "deposit is not active"
	// ErrDepositAlreadyWithdrawn guards against reusing an OutputId that
	// has already completed a withdrawal.
	ErrDepositAlreadyWithdrawn = "deposit already withdrawn"
	// ErrInvalidQueueWithdrawal is returned when a queue request would
	// push queue_withdrawal_amount above total_deposit.
	ErrInvalidQueueWithdrawal = "invalid queue withdrawal amount"
)

// PendingSignPSBT is the withdrawal PSBT pinned while awaiting an MPC
// co-signature. The PSBT itself is stored as opaque bytes (its own
// package knows how to decode/encode it); this package only tracks the
// bytes and the optional reinvest output index.
type PendingSignPSBT struct {
	PSBTBytes          []byte `json:"psbt_bytes"`
	ReinvestDepositVout *uint64 `json:"reinvest_deposit_vout,omitempty"`
}

// Account is the per-user record keyed by the user's Bitcoin public key.
type Account struct {
	PubKey string `json:"pubkey"`

	// TotalDeposit is the sum of Value over all deposits currently Active.
	TotalDeposit uint64 `json:"total_deposit"`

	ActiveDeposits    map[OutputID]Deposit `json:"active_deposits"`
	WithdrawnDeposits map[OutputID]Deposit `json:"withdrawn_deposits"`

	QueueWithdrawalAmount   uint64 `json:"queue_withdrawal_amount"`
	QueueWithdrawalStartTS  int64  `json:"queue_withdrawal_start_ts"`
	Nonce                   uint64 `json:"nonce"`

	PendingSignPSBT   *PendingSignPSBT `json:"pending_sign_psbt,omitempty"`
	PendingSignDeposit uint64          `json:"pending_sign_deposit"`
}

// New creates an empty account for pubkey.
func New(pubkey string) *Account {
	return &Account{
		PubKey:            pubkey,
		ActiveDeposits:    make(map[OutputID]Deposit),
		WithdrawnDeposits: make(map[OutputID]Deposit),
	}
}

// ActiveDepositsLen returns the number of active deposits.
func (a *Account) ActiveDepositsLen() int { return len(a.ActiveDeposits) }

// WithdrawnDepositsLen returns the number of withdrawn deposits.
func (a *Account) WithdrawnDepositsLen() int { return len(a.WithdrawnDeposits) }

// IsDepositActive reports whether (txID, vout) is currently active.
func (a *Account) IsDepositActive(txID string, vout uint64) bool {
	_, ok := a.ActiveDeposits[OutputIDOf(txID, vout)]
	return ok
}

// TryGetActiveDeposit returns the active deposit at (txID, vout), if any.
func (a *Account) TryGetActiveDeposit(txID string, vout uint64) (Deposit, bool) {
	d, ok := a.ActiveDeposits[OutputIDOf(txID, vout)]
	return d, ok
}

// GetActiveDeposit returns the active deposit at (txID, vout), failing if
// it is not present.
func (a *Account) GetActiveDeposit(txID string, vout uint64) (Deposit, error) {
	d, ok := a.TryGetActiveDeposit(txID, vout)
	if !ok {
		return Deposit{}, fmt.Errorf(ErrDepositNotActive)
	}
	return d, nil
}

// TryGetWithdrawnDeposit returns the withdrawn deposit at (txID, vout), if any.
func (a *Account) TryGetWithdrawnDeposit(txID string, vout uint64) (Deposit, bool) {
	d, ok := a.WithdrawnDeposits[OutputIDOf(txID, vout)]
	return d, ok
}

func (a *Account) insertActiveDeposit(d Deposit) error {
	if a.IsDepositActive(d.DepositTxID, d.DepositVout) {
		return fmt.Errorf(ErrDepositAlreadyActive)
	}
	a.ActiveDeposits[d.ID()] = d
	return nil
}

func (a *Account) removeActiveDeposit(txID string, vout uint64) (Deposit, error) {
	id := OutputIDOf(txID, vout)
	d, ok := a.ActiveDeposits[id]
	if !ok {
		return Deposit{}, fmt.Errorf(ErrDepositNotActive)
	}
	delete(a.ActiveDeposits, id)
	return d, nil
}

func (a *Account) insertWithdrawnDeposit(d Deposit) error {
	if _, ok := a.WithdrawnDeposits[d.ID()]; ok {
		return fmt.Errorf(ErrDepositAlreadyWithdrawn)
	}
	a.WithdrawnDeposits[d.ID()] = d
	return nil
}

// CreateDeposit records a newly confirmed deposit: it must not already
// be withdrawn or active; total_deposit is incremented by its value.
func (a *Account) CreateDeposit(d Deposit) error {
	if _, ok := a.TryGetWithdrawnDeposit(d.DepositTxID, d.DepositVout); ok {
		return fmt.Errorf(ErrDepositAlreadyWithdrawn)
	}
	if err := a.insertActiveDeposit(d); err != nil {
		return err
	}
	a.TotalDeposit += d.Value
	return nil
}

// QueueWithdrawal enqueues an additional amount for protocol-cosigned
// withdrawal: the running queued amount must never exceed total_deposit.
// Every successful call advances Nonce and clears any pinned PSBT (a
// fresh queue request supersedes a stale co-sign attempt).
func (a *Account) QueueWithdrawal(amount uint64, now int64) error {
	if a.QueueWithdrawalAmount+amount > a.TotalDeposit {
		return fmt.Errorf(ErrInvalidQueueWithdrawal)
	}
	a.QueueWithdrawalAmount += amount
	a.QueueWithdrawalStartTS = now
	a.Nonce++
	a.PendingSignPSBT = nil
	return nil
}

// CompleteWithdrawal marks deposit Withdrawn and moves it out of the
// active set. For non-multisig (solo) completions, the queued amount is
// clamped to the new total and its start timestamp reset to zero if it
// reaches zero — multisig completions already reset these fields during
// SignWithdrawal.
func (a *Account) CompleteWithdrawal(depositTxID string, depositVout uint64, withdrawalTxID string, isMultisig bool, now int64) (Deposit, error) {
	d, err := a.removeActiveDeposit(depositTxID, depositVout)
	if err != nil {
		return Deposit{}, err
	}

	d.CompleteWithdrawal(withdrawalTxID, now)
	a.TotalDeposit -= d.Value

	if !isMultisig {
		if a.QueueWithdrawalAmount > a.TotalDeposit {
			a.QueueWithdrawalAmount = a.TotalDeposit
		}
		if a.QueueWithdrawalAmount == 0 {
			a.QueueWithdrawalStartTS = 0
		}
	}

	if err := a.insertWithdrawnDeposit(d); err != nil {
		// Re-insert the deposit into the active set to keep the account
		// consistent: this path should be unreachable because the
		// deposit was just uniquely removed from active_deposits above.
		a.ActiveDeposits[d.ID()] = d
		return Deposit{}, err
	}
	return d, nil
}
