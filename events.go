package bithive

import (
	"encoding/json"

	"github.com/hashicorp/go-hclog"
)

// Event mirrors the original contract's NEP-297-shaped event log: a
// standard/version envelope wrapping a kind-tagged payload, written as a
// single structured log line so downstream indexers can grep for it.
type Event struct {
	Standard string `json:"standard"`
	Version  string `json:"version"`
	Event    string `json:"event"`
	Data     any    `json:"data"`
}

const (
	eventStandard = "bithive"
	eventVersion  = "1.0.0"
)

func newEvent(kind string, data any) Event {
	return Event{Standard: eventStandard, Version: eventVersion, Event: kind, Data: data}
}

// emit logs the event as a single "EVENT_JSON:{...}" line at Info level,
// keeping the event payload itself machine-parseable as one blob.
func (e Event) emit(logger hclog.Logger) {
	payload, err := json.Marshal(e)
	if err != nil {
		logger.Error("failed to marshal event", "event", e.Event, "error", err)
		return
	}
	logger.Info("EVENT_JSON:" + string(payload))
}

type depositEventData struct {
	UserPubKey  string `json:"user_pubkey"`
	DepositTxID string `json:"deposit_tx_id"`
	DepositVout uint32 `json:"deposit_vout"`
	Value       uint64 `json:"value"`
}

func emitDeposit(logger hclog.Logger, d depositEventData) {
	newEvent("deposit", d).emit(logger)
}

type queueWithdrawalEventData struct {
	UserPubKey string `json:"user_pubkey"`
	Amount     uint64 `json:"amount"`
	Nonce      uint64 `json:"nonce"`
}

func emitQueueWithdrawal(logger hclog.Logger, d queueWithdrawalEventData) {
	newEvent("queue_withdrawal", d).emit(logger)
}

type signWithdrawalEventData struct {
	UserPubKey string   `json:"user_pubkey"`
	PSBT       string   `json:"psbt"`
	DepositIDs []string `json:"deposit_ids"`
}

func emitSignWithdrawal(logger hclog.Logger, d signWithdrawalEventData) {
	newEvent("sign_withdrawal", d).emit(logger)
}

type withdrawnEventData struct {
	UserPubKey      string `json:"user_pubkey"`
	DepositTxID     string `json:"deposit_tx_id"`
	DepositVout     uint32 `json:"deposit_vout"`
	WithdrawalTxID  string `json:"withdrawal_tx_id"`
	IsMultisig      bool   `json:"is_multisig"`
}

func emitWithdrawn(logger hclog.Logger, d withdrawnEventData) {
	newEvent("withdrawn", d).emit(logger)
}
