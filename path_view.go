package bithive

import (
	"context"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/bithive/custody/pkg/account"
	"github.com/bithive/custody/pkg/btcproto"
)

// contractSummary is the read-only "contract summary" view: ownership,
// service wiring, and the current policy scalars.
func contractSummary(cfg *GlobalConfig) map[string]interface{} {
	return map[string]interface{}{
		"owner_id":                      cfg.OwnerID,
		"pending_owner_id":              cfg.PendingOwnerID,
		"btc_light_client_id":           cfg.BTCLightClientID,
		"bip322_verifier_id":            cfg.BIP322VerifierID,
		"chain_signatures_id":           cfg.ChainSignaturesID,
		"chain_signatures_root_pubkey":  cfg.ChainSignaturesRootPubKey,
		"n_confirmation":                cfg.NConfirmation,
		"withdrawal_waiting_time_ms":    cfg.WithdrawalWaitingTimeMS,
		"min_deposit_satoshi":           cfg.MinDepositSatoshi,
		"earliest_deposit_block_height": cfg.EarliestDepositBlockHeight,
		"solo_withdrawal_seq_heights":   cfg.SoloWithdrawalSeqHeights,
		"paused":                        cfg.Paused,
	}
}

func depositConstants(cfg *GlobalConfig) map[string]interface{} {
	return map[string]interface{}{
		"min_deposit_satoshi":              cfg.MinDepositSatoshi,
		"earliest_deposit_block_height":    cfg.EarliestDepositBlockHeight,
		"solo_withdrawal_seq_height":       cfg.currentSoloWithdrawalSeqHeight(),
		"solo_withdrawal_seq_heights":      cfg.SoloWithdrawalSeqHeights,
		"redeem_version":                   btcproto.RedeemVersionV1,
		"chain_signature_path":             btcproto.ChainSignaturePathV1,
		"chain_signature_key_version":      btcproto.ChainSignatureKeyVersionV1,
	}
}

func withdrawalConstants(cfg *GlobalConfig) map[string]interface{} {
	return map[string]interface{}{
		"withdrawal_waiting_time_ms": cfg.WithdrawalWaitingTimeMS,
	}
}

func accountView(a *account.Account) map[string]interface{} {
	return map[string]interface{}{
		"pubkey":                     a.PubKey,
		"total_deposit":              a.TotalDeposit,
		"active_deposits_len":        a.ActiveDepositsLen(),
		"withdrawn_deposits_len":     a.WithdrawnDepositsLen(),
		"queue_withdrawal_amount":    a.QueueWithdrawalAmount,
		"queue_withdrawal_start_ts":  a.QueueWithdrawalStartTS,
		"nonce":                      a.Nonce,
		"has_pending_sign_psbt":      a.PendingSignPSBT != nil,
		"pending_sign_deposit":       a.PendingSignDeposit,
	}
}

func depositView(d account.Deposit) map[string]interface{} {
	out := map[string]interface{}{
		"user_pubkey":            d.UserPubKey,
		"status":                 d.Status,
		"redeem_version":         d.RedeemVersion,
		"deposit_tx_id":          d.DepositTxID,
		"deposit_vout":           d.DepositVout,
		"value":                  d.Value,
		"sequence":               d.Sequence,
		"complete_withdrawal_ts": d.CompleteWithdrawalTS,
	}
	if d.WithdrawalTxID != nil {
		out["withdrawal_tx_id"] = *d.WithdrawalTxID
	}
	return out
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func pathView(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern:    "view/summary",
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathViewSummary}},
		},
		{
			Pattern:    "view/deposit-constants",
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathViewDepositConstants}},
		},
		{
			Pattern:    "view/withdrawal-constants",
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathViewWithdrawalConstants}},
		},
		{
			Pattern:    "view/accounts-len",
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathViewAccountsLen}},
		},
		{
			Pattern: "view/accounts",
			Fields: map[string]*framework.FieldSchema{
				"offset": {Type: framework.TypeInt, Description: "Number of accounts to skip.", Default: 0},
				"limit":  {Type: framework.TypeInt, Description: "Maximum number of accounts to return; 0 means unbounded.", Default: 0},
			},
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathViewAccounts}},
		},
		{
			Pattern: "view/account",
			Fields: map[string]*framework.FieldSchema{
				"user_pubkey": {Type: framework.TypeString, Description: "Account's Bitcoin pubkey, hex-encoded."},
			},
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathViewAccount}},
		},
		{
			Pattern: "view/account/active-deposits",
			Fields: map[string]*framework.FieldSchema{
				"user_pubkey": {Type: framework.TypeString},
				"offset":      {Type: framework.TypeInt, Default: 0},
				"limit":       {Type: framework.TypeInt, Default: 0},
			},
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathViewUserActiveDeposits}},
		},
		{
			Pattern: "view/account/withdrawn-deposits",
			Fields: map[string]*framework.FieldSchema{
				"user_pubkey": {Type: framework.TypeString},
				"offset":      {Type: framework.TypeInt, Default: 0},
				"limit":       {Type: framework.TypeInt, Default: 0},
			},
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathViewUserWithdrawnDeposits}},
		},
		{
			Pattern: "view/deposit",
			Fields: map[string]*framework.FieldSchema{
				"user_pubkey":   {Type: framework.TypeString},
				"deposit_tx_id": {Type: framework.TypeString},
				"deposit_vout":  {Type: framework.TypeInt},
			},
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathViewDeposit}},
		},
		{
			Pattern: "view/dry-run/deposit",
			Fields: map[string]*framework.FieldSchema{
				"tx_hex":     {Type: framework.TypeString},
				"embed_vout": {Type: framework.TypeInt},
			},
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathDryRunDeposit}},
		},
		{
			Pattern: "view/dry-run/sign-withdrawal",
			Fields: map[string]*framework.FieldSchema{
				"user_pubkey":         {Type: framework.TypeString},
				"psbt_hex":            {Type: framework.TypeString},
				"vin_to_sign":         {Type: framework.TypeInt},
				"reinvest_embed_vout": {Type: framework.TypeInt, Default: -1},
			},
			Operations: map[logical.Operation]framework.OperationHandler{logical.ReadOperation: &framework.PathOperation{Callback: b.pathDryRunSignWithdrawal}},
		},
	}
}

func (b *btcBackend) pathViewSummary(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	return &logical.Response{Data: contractSummary(cfg)}, nil
}

func (b *btcBackend) pathViewDepositConstants(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	return &logical.Response{Data: depositConstants(cfg)}, nil
}

func (b *btcBackend) pathViewWithdrawalConstants(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	return &logical.Response{Data: withdrawalConstants(cfg)}, nil
}

func listAccountKeys(ctx context.Context, s logical.Storage) ([]string, error) {
	keys, err := s.List(ctx, accountsPrefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *btcBackend) pathViewAccountsLen(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	keys, err := listAccountKeys(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	return &logical.Response{Data: map[string]interface{}{"len": len(keys)}}, nil
}

func (b *btcBackend) pathViewAccounts(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	keys, err := listAccountKeys(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	keys = paginate(keys, data.Get("offset").(int), data.Get("limit").(int))

	out := make([]map[string]interface{}, 0, len(keys))
	for _, pubkey := range keys {
		a, err := getAccount(ctx, req.Storage, pubkey)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		out = append(out, accountView(a))
	}
	return &logical.Response{Data: map[string]interface{}{"accounts": out}}, nil
}

func (b *btcBackend) pathViewAccount(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	a, err := requireAccount(ctx, req.Storage, data.Get("user_pubkey").(string))
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	return &logical.Response{Data: accountView(a)}, nil
}

func sortedDeposits(m map[account.OutputID]account.Deposit) []account.Deposit {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	out := make([]account.Deposit, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[account.OutputID(id)])
	}
	return out
}

func (b *btcBackend) pathViewUserActiveDeposits(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	a, err := requireAccount(ctx, req.Storage, data.Get("user_pubkey").(string))
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	deposits := paginate(sortedDeposits(a.ActiveDeposits), data.Get("offset").(int), data.Get("limit").(int))
	out := make([]map[string]interface{}, len(deposits))
	for i, d := range deposits {
		out[i] = depositView(d)
	}
	return &logical.Response{Data: map[string]interface{}{"deposits": out, "len": a.ActiveDepositsLen()}}, nil
}

func (b *btcBackend) pathViewUserWithdrawnDeposits(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	a, err := requireAccount(ctx, req.Storage, data.Get("user_pubkey").(string))
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	deposits := paginate(sortedDeposits(a.WithdrawnDeposits), data.Get("offset").(int), data.Get("limit").(int))
	out := make([]map[string]interface{}, len(deposits))
	for i, d := range deposits {
		out[i] = depositView(d)
	}
	return &logical.Response{Data: map[string]interface{}{"deposits": out, "len": a.WithdrawnDepositsLen()}}, nil
}

func (b *btcBackend) pathViewDeposit(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	a, err := requireAccount(ctx, req.Storage, data.Get("user_pubkey").(string))
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	txID := data.Get("deposit_tx_id").(string)
	vout := uint64(data.Get("deposit_vout").(int))
	if d, ok := a.TryGetActiveDeposit(txID, vout); ok {
		return &logical.Response{Data: depositView(d)}, nil
	}
	if d, ok := a.TryGetWithdrawnDeposit(txID, vout); ok {
		return &logical.Response{Data: depositView(d)}, nil
	}
	return logical.ErrorResponse(errDepositNotFound.Error()), nil
}

// pathDryRunDeposit runs the full submit_deposit_tx validation (embed
// parse + verify_deposit_txn) without touching storage, additionally
// checking the OutputId is not already reserved.
func (b *btcBackend) pathDryRunDeposit(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	rootPubKeyBytes, err := btcproto.DecodeHex(cfg.ChainSignaturesRootPubKey)
	if err != nil {
		return nil, err
	}
	rootPubKey, err := btcec.ParsePubKey(rootPubKeyBytes)
	if err != nil {
		return nil, err
	}

	tx, err := btcproto.DecodeTx(data.Get("tx_hex").(string))
	if err != nil {
		return logical.ErrorResponse(errInvalidTxHex.Error()), nil
	}
	embedVout := data.Get("embed_vout").(int)

	vd, err := verifyDepositTxnFromEmbed(cfg, rootPubKey, tx, embedVout)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	outID := outputID(vd.TxID, uint64(vd.DepositVout))
	existing, err := req.Storage.Get(ctx, confirmedDepositKey(outID))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return logical.ErrorResponse(errDepositAlreadySaved.Error()), nil
	}

	return &logical.Response{Data: map[string]interface{}{
		"user_pubkey":    btcproto.EncodeHex(vd.UserPubKey),
		"redeem_version": vd.RedeemVersion,
		"deposit_tx_id":  vd.TxID,
		"deposit_vout":   vd.DepositVout,
		"value":          vd.Value,
	}}, nil
}

// pathDryRunSignWithdrawal runs sign_withdrawal's Queued-state validation
// path (partial-sig + amount checks) without mutating any account state.
func (b *btcBackend) pathDryRunSignWithdrawal(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	rootPubKeyBytes, err := btcproto.DecodeHex(cfg.ChainSignaturesRootPubKey)
	if err != nil {
		return nil, err
	}
	rootPubKey, err := btcec.ParsePubKey(rootPubKeyBytes)
	if err != nil {
		return nil, err
	}

	userPubKeyHex := data.Get("user_pubkey").(string)
	userPubKey, err := btcproto.DecodeHex(userPubKeyHex)
	if err != nil {
		return logical.ErrorResponse(errBadPubKeyHex.Error()), nil
	}
	acct, err := requireAccount(ctx, req.Storage, userPubKeyHex)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	p, err := btcproto.DecodePSBT(data.Get("psbt_hex").(string))
	if err != nil {
		return logical.ErrorResponse(errInvalidPSBTHex.Error()), nil
	}
	vinToSign := data.Get("vin_to_sign").(int)

	if err := verifyPendingSignPartialSig(p, vinToSign, userPubKey); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	reinvestEmbedVout := data.Get("reinvest_embed_vout").(int)
	reinvestVout, err := verifyPendingSignRequestAmount(ctx, cfg, rootPubKey, acct, p, reinvestEmbedVout, time.Now().UnixMilli())
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	resp := map[string]interface{}{"valid": true}
	if reinvestVout != nil {
		resp["reinvest_deposit_vout"] = *reinvestVout
	}
	return &logical.Response{Data: resp}, nil
}
