package bithive

import "fmt"

// Storage keys are stable derived names (§6.3): they must never change
// shape or existing records become unreachable.
const (
	configStorageKey        = "config"
	confirmedDepositsPrefix = "confirmed-deposits/"
	accountsPrefix          = "accounts/"
)

func confirmedDepositKey(outputID string) string {
	return confirmedDepositsPrefix + outputID
}

func accountKey(pubkey string) string {
	return accountsPrefix + pubkey
}

func outputID(txID string, vout uint64) string {
	return fmt.Sprintf("%s:%d", txID, vout)
}
