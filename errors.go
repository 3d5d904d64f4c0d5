package bithive

import "errors"

// Every user-facing failure is a short, stable string so RPC callers and
// tests can assert on substrings (§7). Internal/system errors still use
// fmt.Errorf wrapping elsewhere; these are only the ones a caller is
// expected to match on.
var (
	errPaused = errors.New("contract is paused")

	errNotOwner           = errors.New("caller is not the owner")
	errNoPendingOwner     = errors.New("no pending owner")
	errNotPendingOwner    = errors.New("caller is not the pending owner")
	errMissingProofOfIntent = errors.New("missing proof of intent")
	errInvalidOperation   = errors.New("invalid operation")

	errRootPubKeyAlreadySynced = errors.New("root pubkey already synced")
	errFailedToSyncRootPubKey  = errors.New("failed to sync root pubkey from MPC signer")

	errInvalidTxHex     = errors.New("invalid hex transaction")
	errBadPubKeyHex     = errors.New("invalid pubkey hex")
	errBadDepositAmount = errors.New("deposit amount is less than minimum deposit amount")
	errNotAbsTimelock   = errors.New("transaction absolute timelock not enabled")
	errBadDepositIdx    = errors.New("deposit output index out of range")
	errBadSequenceHeight = errors.New("sequence height not allowed")
	errBadEmbedIdx      = errors.New("embed output index out of range")
	errDepositNotP2WSH  = errors.New("deposit output is not P2WSH")
	errDepositBadScriptHash = errors.New("deposit output bad script hash")
	errDepositAlreadySaved  = errors.New("deposit already saved")
	errNotEnoughStorageDeposit = errors.New("not enough storage deposit attached")
	errEmbedOutputNotZeroValue = errors.New("embed output should have 0 value")
	errEmbedOutputNotOpReturn  = errors.New("embed output is not OP_RETURN")

	errBIP322NotEnabled          = errors.New("bip322 is not enabled")
	errInvalidWithdrawalAmount   = errors.New("withdrawal amount must be greater than 0")
	errInvalidStorageDeposit     = errors.New("invalid storage deposit amount")
	errInsufficientStorageDeposit = errors.New("insufficient storage deposit")
	errInvalidPSBTHex            = errors.New("invalid psbt hex")
	errNoWithdrawRequested        = errors.New("no withdrawal request made")
	errWithdrawNotReady           = errors.New("not ready to withdraw now")
	errMissingPartialSig          = errors.New("missing partial sig for given input")
	errInvalidPartialSig          = errors.New("invalid partial signature for withdrawal psbt")
	errBadWithdrawalAmount        = errors.New("withdrawal amount is larger than queued amount")
	errPSBTInputLenMismatch       = errors.New("psbt input length mismatch")
	errPSBTInputMismatch          = errors.New("psbt input mismatch")
	errPSBTReinvestPubKeyMismatch = errors.New("psbt reinvest pubkey mismatch")
	errPSBTReinvestOutputMismatch = errors.New("psbt reinvest output mismatch")
	errNotWithdrawTxn             = errors.New("not a withdrawal transaction")

	errInsufficientGas = errors.New("insufficient compute budget")

	errAccountNotFound = errors.New("account not found")
	errDepositNotFound  = errors.New("deposit not found")
)
