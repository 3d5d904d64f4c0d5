package account

import "fmt"

// OutputID identifies a Bitcoin output as "{txid}:{vout}", the identity
// of a Deposit.
type OutputID string

// OutputIDOf builds the canonical OutputID for a (txID, vout) pair.
func OutputIDOf(txID string, vout uint64) OutputID {
	return OutputID(fmt.Sprintf("%s:%d", txID, vout))
}

// DepositStatus is a tagged two-state enum: a Deposit moves Active to
// Withdrawn exactly once and never back.
type DepositStatus string

const (
	DepositStatusActive    DepositStatus = "active"
	DepositStatusWithdrawn DepositStatus = "withdrawn"
)

// Deposit is a single recorded Bitcoin deposit backing an Account.
type Deposit struct {
	UserPubKey string `json:"user_pubkey"`
	Status     DepositStatus `json:"status"`
	// RedeemVersion binds this deposit to the derivation path and
	// redeem-script template that produced it; it never changes after
	// creation.
	RedeemVersion int `json:"redeem_version"`

	DepositTxID string `json:"deposit_tx_id"`
	DepositVout uint64 `json:"deposit_vout"`
	Value       uint64 `json:"value"`
	// Sequence is the CSV height encoded into this deposit's redeem
	// script's solo spend path.
	Sequence uint32 `json:"sequence"`

	CompleteWithdrawalTS int64   `json:"complete_withdrawal_ts"`
	WithdrawalTxID       *string `json:"withdrawal_tx_id,omitempty"`
}

// NewDeposit constructs a freshly confirmed, Active deposit.
func NewDeposit(userPubKey string, redeemVersion int, txID string, vout uint64, value uint64, sequence uint32) Deposit {
	return Deposit{
		UserPubKey:    userPubKey,
		Status:        DepositStatusActive,
		RedeemVersion: redeemVersion,
		DepositTxID:   txID,
		DepositVout:   vout,
		Value:         value,
		Sequence:      sequence,
	}
}

// ID returns this deposit's OutputID.
func (d Deposit) ID() OutputID {
	return OutputIDOf(d.DepositTxID, d.DepositVout)
}

// CompleteWithdrawal transitions the deposit to Withdrawn, recording the
// withdrawal transaction id and timestamp. Callers (Account methods) are
// responsible for moving the record between the active/withdrawn sets.
func (d *Deposit) CompleteWithdrawal(withdrawalTxID string, now int64) {
	d.CompleteWithdrawalTS = now
	id := withdrawalTxID
	d.WithdrawalTxID = &id
	d.Status = DepositStatusWithdrawn
}
