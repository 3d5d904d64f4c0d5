package bithive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/bithive/custody/pkg/account"
	"github.com/bithive/custody/pkg/btcproto"
)

const storageByteCost = uint64(10) // native-token units per PSBT byte held pending co-sign.

func pathWithdraw(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "withdraw/queue",
			Fields: map[string]*framework.FieldSchema{
				"user_pubkey":     {Type: framework.TypeString, Description: "Account's Bitcoin pubkey, hex-encoded."},
				"withdraw_amount": {Type: framework.TypeInt, Description: "Amount to enqueue for withdrawal, in satoshis."},
				"sig_type":        {Type: framework.TypeString, Description: "\"ecdsa\" or \"bip322\"."},
				"address":         {Type: framework.TypeString, Description: "Bitcoin address the signature commits to (bip322 only)."},
				"msg_sig":         {Type: framework.TypeString, Description: "Signature over the withdrawal message, hex-encoded (ecdsa) or as the sig_type requires."},
				"gas_budget":      {Type: framework.TypeInt, Description: "Compute budget available for this call's bip322-verifier dispatch.", Default: int(defaultGasBudget)},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathQueueWithdrawal},
			},
		},
		{
			Pattern: "withdraw/sign",
			Fields: map[string]*framework.FieldSchema{
				"user_pubkey":        {Type: framework.TypeString, Description: "Account's Bitcoin pubkey, hex-encoded."},
				"psbt_hex":           {Type: framework.TypeString, Description: "Candidate withdrawal PSBT, hex-encoded."},
				"vin_to_sign":        {Type: framework.TypeInt, Description: "Index of the input to request a co-signature for."},
				"reinvest_embed_vout": {Type: framework.TypeInt, Description: "Output index of a reinvest embed message, or -1 if none.", Default: -1},
				"storage_deposit":    {Type: framework.TypeInt, Description: "Native tokens attached to cover multi-input PSBT storage.", Default: 0},
				"mpc_fee":            {Type: framework.TypeInt, Description: "Native tokens attached to forward to the MPC service as its signing fee.", Default: 0},
				"gas_budget":         {Type: framework.TypeInt, Description: "Compute budget available for this call's MPC-signer dispatch.", Default: int(defaultGasBudget)},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSignWithdrawal},
			},
		},
		{
			Pattern: "withdraw/submit",
			Fields: map[string]*framework.FieldSchema{
				"user_pubkey":   {Type: framework.TypeString, Description: "Account's Bitcoin pubkey, hex-encoded."},
				"tx_hex":        {Type: framework.TypeString, Description: "Finalized withdrawal transaction, hex-encoded."},
				"tx_block_hash": {Type: framework.TypeString, Description: "Hash of the block the transaction was included in, hex-encoded."},
				"tx_index":      {Type: framework.TypeInt, Description: "Index of the transaction within that block."},
				"merkle_proof":  {Type: framework.TypeCommaStringSlice, Description: "Merkle inclusion proof, each sibling hex-encoded."},
				"gas_budget":    {Type: framework.TypeInt, Description: "Compute budget available for this call's light-client dispatch.", Default: int(defaultGasBudget)},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSubmitWithdrawalTx},
			},
		},
	}
}

func (b *btcBackend) pathQueueWithdrawal(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if err := cfg.assertRunning(); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	amount := uint64(data.Get("withdraw_amount").(int))
	if amount == 0 {
		return logical.ErrorResponse(errInvalidWithdrawalAmount.Error()), nil
	}

	userPubKeyHex := data.Get("user_pubkey").(string)
	acct, err := requireAccount(ctx, req.Storage, userPubKeyHex)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	expectedMsg := fmt.Sprintf("bithive.withdraw:%d:%dsats", acct.Nonce, amount)

	sigType := data.Get("sig_type").(string)
	switch sigType {
	case "ecdsa", "":
		userPubKey, err := btcproto.DecodeHex(userPubKeyHex)
		if err != nil {
			return logical.ErrorResponse(errBadPubKeyHex.Error()), nil
		}
		sigHex := data.Get("msg_sig").(string)
		sig, err := btcproto.DecodeHex(sigHex)
		if err != nil {
			return logical.ErrorResponse("invalid msg_sig hex"), nil
		}
		ok, err := btcproto.VerifySignedMessageECDSA([]byte(expectedMsg), sig, userPubKey)
		if err != nil || !ok {
			return logical.ErrorResponse("signature verification failed"), nil
		}
	case "bip322":
		if cfg.BIP322VerifierID == "" || b.bip322Verifier == nil {
			return logical.ErrorResponse(errBIP322NotEnabled.Error()), nil
		}
		gasBudget := NewGasBudget(uint64(data.Get("gas_budget").(int)))
		if err := gasBudget.Reserve(gasCostBIP322Verify); err != nil {
			return logical.ErrorResponse(err.Error()), nil
		}
		address := data.Get("address").(string)
		sigHex := data.Get("msg_sig").(string)
		ok, err := b.bip322Verifier.VerifyBIP322Full(ctx, userPubKeyHex, address, expectedMsg, sigHex)
		if err != nil {
			return logical.ErrorResponse(fmt.Sprintf("bip322 verifier error: %s", err)), nil
		}
		if !ok {
			return &logical.Response{Data: map[string]interface{}{"verified": false}}, nil
		}
	default:
		return logical.ErrorResponse("sig_type must be \"ecdsa\" or \"bip322\""), nil
	}

	now := time.Now().UnixMilli()
	if err := acct.QueueWithdrawal(amount, now); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if err := putAccount(ctx, req.Storage, acct); err != nil {
		return nil, err
	}

	emitQueueWithdrawal(b.Logger(), queueWithdrawalEventData{
		UserPubKey: userPubKeyHex,
		Amount:     amount,
		Nonce:      acct.Nonce,
	})

	return &logical.Response{Data: map[string]interface{}{"verified": true, "nonce": acct.Nonce}}, nil
}

// psbtInputsEquivalent implements the normative RBF/equivalence rule of
// §4.5: same input count, each input's OutPoint/scriptSig/sequence/witness
// structurally equal, and — if a reinvest output was pinned — that output
// byte-equal between saved and candidate. Returns the sentinel matching
// whichever check failed, or nil if the two are equivalent.
func psbtInputsEquivalent(saved, candidate *psbt.Packet, reinvestVout *uint64) error {
	if len(saved.UnsignedTx.TxIn) != len(candidate.UnsignedTx.TxIn) {
		return errPSBTInputLenMismatch
	}
	for i := range saved.UnsignedTx.TxIn {
		a, c := saved.UnsignedTx.TxIn[i], candidate.UnsignedTx.TxIn[i]
		if a.PreviousOutPoint != c.PreviousOutPoint {
			return errPSBTInputMismatch
		}
		if !bytes.Equal(a.SignatureScript, c.SignatureScript) {
			return errPSBTInputMismatch
		}
		if a.Sequence != c.Sequence {
			return errPSBTInputMismatch
		}
		if len(a.Witness) != len(c.Witness) {
			return errPSBTInputMismatch
		}
		for j := range a.Witness {
			if !bytes.Equal(a.Witness[j], c.Witness[j]) {
				return errPSBTInputMismatch
			}
		}
	}
	if reinvestVout != nil {
		vout := int(*reinvestVout)
		if vout >= len(saved.UnsignedTx.TxOut) || vout >= len(candidate.UnsignedTx.TxOut) {
			return errPSBTReinvestOutputMismatch
		}
		a, c := saved.UnsignedTx.TxOut[vout], candidate.UnsignedTx.TxOut[vout]
		if a.Value != c.Value || !bytes.Equal(a.PkScript, c.PkScript) {
			return errPSBTReinvestOutputMismatch
		}
	}
	return nil
}

// verifyPendingSignPartialSig requires the PSBT's partial-signature map
// for vin to carry an entry the account's pubkey produced over the
// SIGHASH for that input.
func verifyPendingSignPartialSig(p *psbt.Packet, vin int, userPubKey []byte) error {
	if vin < 0 || vin >= len(p.Inputs) {
		return errPSBTInputMismatch
	}
	sigHash, err := btcproto.WitnessSigHashForInput(p, vin)
	if err != nil {
		return err
	}
	for _, ps := range p.Inputs[vin].PartialSigs {
		if !bytes.Equal(ps.PubKey, userPubKey) {
			continue
		}
		if len(ps.Signature) != 64 {
			continue
		}
		if btcproto.VerifyPartialSignature(sigHash[:], ps.Signature, userPubKey) {
			return nil
		}
	}
	return errInvalidPartialSig
}

// verifyPendingSignRequestAmount enforces queue maturity and the
// input/reinvest amount bound, returning the reinvest deposit vout (from
// its embed) if one was supplied.
func verifyPendingSignRequestAmount(ctx context.Context, cfg *GlobalConfig, rootPubKey *btcec.PublicKey, acct *account.Account, p *psbt.Packet, reinvestEmbedVout int, now int64) (*uint64, error) {
	if acct.QueueWithdrawalAmount == 0 || acct.QueueWithdrawalStartTS == 0 {
		return nil, errNoWithdrawRequested
	}
	if now < acct.QueueWithdrawalStartTS+int64(cfg.WithdrawalWaitingTimeMS) {
		return nil, errWithdrawNotReady
	}

	var depositInputSum uint64
	for _, in := range p.UnsignedTx.TxIn {
		d, ok := acct.TryGetActiveDeposit(in.PreviousOutPoint.Hash.String(), uint64(in.PreviousOutPoint.Index))
		if ok {
			depositInputSum += d.Value
		}
	}

	var reinvestAmount uint64
	var reinvestVout *uint64
	if reinvestEmbedVout >= 0 {
		vd, err := verifyDepositTxnFromEmbed(cfg, rootPubKey, p.UnsignedTx, reinvestEmbedVout)
		if err != nil {
			return nil, fmt.Errorf("reinvest output does not verify as a deposit: %w", err)
		}
		if btcproto.EncodeHex(vd.UserPubKey) != acct.PubKey {
			return nil, errPSBTReinvestPubKeyMismatch
		}
		reinvestAmount = vd.Value
		v := uint64(vd.DepositVout)
		reinvestVout = &v
	}

	if depositInputSum < reinvestAmount || depositInputSum-reinvestAmount > acct.QueueWithdrawalAmount {
		return nil, errBadWithdrawalAmount
	}
	return reinvestVout, nil
}

func (b *btcBackend) pathSignWithdrawal(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if err := cfg.assertRunning(); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	userPubKeyHex := data.Get("user_pubkey").(string)
	userPubKeyBytes, err := btcproto.DecodeHex(userPubKeyHex)
	if err != nil {
		return logical.ErrorResponse(errBadPubKeyHex.Error()), nil
	}

	acct, err := requireAccount(ctx, req.Storage, userPubKeyHex)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	psbtHex := data.Get("psbt_hex").(string)
	candidate, err := btcproto.DecodePSBT(psbtHex)
	if err != nil {
		return logical.ErrorResponse(errInvalidPSBTHex.Error()), nil
	}

	vinToSign := data.Get("vin_to_sign").(int)
	if vinToSign < 0 || vinToSign >= len(candidate.UnsignedTx.TxIn) {
		return logical.ErrorResponse(errPSBTInputMismatch.Error()), nil
	}
	spentOutpoint := candidate.UnsignedTx.TxIn[vinToSign].PreviousOutPoint
	deposit, err := acct.GetActiveDeposit(spentOutpoint.Hash.String(), uint64(spentOutpoint.Index))
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	var reinvestVout *uint64
	switch {
	case acct.PendingSignPSBT != nil:
		saved, err := psbt.NewFromRawBytes(bytes.NewReader(acct.PendingSignPSBT.PSBTBytes), false)
		if err != nil {
			return nil, fmt.Errorf("decode pinned psbt: %w", err)
		}
		if err := psbtInputsEquivalent(saved, candidate, acct.PendingSignPSBT.ReinvestDepositVout); err != nil {
			return logical.ErrorResponse(err.Error()), nil
		}
		reinvestVout = acct.PendingSignPSBT.ReinvestDepositVout

	case acct.QueueWithdrawalAmount > 0:
		if err := verifyPendingSignPartialSig(candidate, vinToSign, userPubKeyBytes); err != nil {
			return logical.ErrorResponse(err.Error()), nil
		}

		rootPubKeyBytes, err := btcproto.DecodeHex(cfg.ChainSignaturesRootPubKey)
		if err != nil {
			return nil, fmt.Errorf("decode root pubkey: %w", err)
		}
		rootPubKey, err := btcec.ParsePubKey(rootPubKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse root pubkey: %w", err)
		}

		reinvestEmbedVout := data.Get("reinvest_embed_vout").(int)
		rv, err := verifyPendingSignRequestAmount(ctx, cfg, rootPubKey, acct, candidate, reinvestEmbedVout, time.Now().UnixMilli())
		if err != nil {
			return logical.ErrorResponse(err.Error()), nil
		}
		reinvestVout = rv

		var psbtBuf bytes.Buffer
		if err := candidate.Serialize(&psbtBuf); err != nil {
			return nil, fmt.Errorf("serialize psbt: %w", err)
		}
		if len(candidate.UnsignedTx.TxIn) > 1 {
			storageDeposit := uint64(data.Get("storage_deposit").(int))
			required := storageByteCost * uint64(psbtBuf.Len())
			if acct.PendingSignDeposit+storageDeposit < required {
				return logical.ErrorResponse(errInsufficientStorageDeposit.Error()), nil
			}
			acct.PendingSignDeposit += storageDeposit
		}

		acct.PendingSignPSBT = &account.PendingSignPSBT{PSBTBytes: psbtBuf.Bytes(), ReinvestDepositVout: reinvestVout}
		acct.QueueWithdrawalAmount = 0
		acct.QueueWithdrawalStartTS = 0
		if err := putAccount(ctx, req.Storage, acct); err != nil {
			return nil, err
		}

	default:
		return logical.ErrorResponse(errNoWithdrawRequested.Error()), nil
	}

	sigHash, err := btcproto.WitnessSigHashForInput(candidate, vinToSign)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	path := btcproto.ChainSignaturePathV1
	if deposit.RedeemVersion != btcproto.RedeemVersionV1 {
		return nil, fmt.Errorf("unsupported redeem version %d", deposit.RedeemVersion)
	}

	gasBudget := NewGasBudget(uint64(data.Get("gas_budget").(int)))
	if err := gasBudget.Reserve(gasCostMPCSign); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	// Forward the attached mpc_fee to the signer in full (§5 resource
	// accounting item (c)); on failure the signing state is left
	// untouched and the fee is refunded if it clears refundThreshold.
	mpcFee := uint64(data.Get("mpc_fee").(int))
	sig, err := b.mpcSigner.Sign(ctx, sigHash, path, btcproto.ChainSignatureKeyVersionV1, mpcFee)
	if err != nil {
		resp := logical.ErrorResponse(fmt.Sprintf("mpc signer error: %s", err))
		attachRefund(resp, mpcFee)
		return resp, nil
	}

	emitSignWithdrawal(b.Logger(), signWithdrawalEventData{
		UserPubKey: userPubKeyHex,
		PSBT:       psbtHex,
		DepositIDs: []string{string(deposit.ID())},
	})

	return &logical.Response{Data: map[string]interface{}{
		"big_r":       sig.BigR,
		"s":           sig.S,
		"recovery_id": sig.RecoveryID,
	}}, nil
}

func (b *btcBackend) pathSubmitWithdrawalTx(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}

	userPubKeyHex := data.Get("user_pubkey").(string)
	acct, err := requireAccount(ctx, req.Storage, userPubKeyHex)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	gasBudget := NewGasBudget(uint64(data.Get("gas_budget").(int)))
	if err := gasBudget.Reserve(gasCostLightClientVerify); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	txHex := data.Get("tx_hex").(string)
	tx, err := btcproto.DecodeTx(txHex)
	if err != nil {
		return logical.ErrorResponse(errInvalidTxHex.Error()), nil
	}

	txIndex := uint64(data.Get("tx_index").(int))
	blockHash, err := btcproto.H256FromDisplayHex(data.Get("tx_block_hash").(string))
	if err != nil {
		return logical.ErrorResponse("invalid tx_block_hash"), nil
	}
	txIDHash, err := btcproto.H256FromDisplayHex(btcproto.WTxID(tx))
	if err != nil {
		return logical.ErrorResponse("invalid tx id"), nil
	}
	proofHexes := data.Get("merkle_proof").([]string)
	proof := make([]btcproto.H256, len(proofHexes))
	for i, hx := range proofHexes {
		raw, err := btcproto.DecodeHex(hx)
		if err != nil || len(raw) != 32 {
			return logical.ErrorResponse("invalid merkle_proof entry"), nil
		}
		copy(proof[i][:], raw)
	}

	included, verr := b.lightClient.VerifyTransactionInclusion(ctx, txIDHash, blockHash, txIndex, proof, cfg.NConfirmation)
	if verr != nil {
		return logical.ErrorResponse(fmt.Sprintf("light client error: %s", verr)), nil
	}
	if !included {
		return logical.ErrorResponse("withdrawal transaction inclusion could not be verified"), nil
	}

	now := time.Now().UnixMilli()
	withdrawalTxID := btcproto.TxID(tx)
	matched := 0
	for vin, in := range tx.TxIn {
		dep, ok := acct.TryGetActiveDeposit(in.PreviousOutPoint.Hash.String(), uint64(in.PreviousOutPoint.Index))
		if !ok {
			continue
		}
		isMultisig := dep.RedeemVersion == btcproto.RedeemVersionV1 && isMultisigWitness(tx, vin)
		if _, err := acct.CompleteWithdrawal(dep.DepositTxID, dep.DepositVout, withdrawalTxID, isMultisig, now); err != nil {
			return logical.ErrorResponse(err.Error()), nil
		}
		matched++

		emitWithdrawn(b.Logger(), withdrawnEventData{
			UserPubKey:     userPubKeyHex,
			DepositTxID:    dep.DepositTxID,
			DepositVout:    uint32(dep.DepositVout),
			WithdrawalTxID: withdrawalTxID,
			IsMultisig:     isMultisig,
		})
	}
	if matched == 0 {
		return logical.ErrorResponse(errNotWithdrawTxn.Error()), nil
	}

	if err := putAccount(ctx, req.Storage, acct); err != nil {
		return nil, err
	}

	return &logical.Response{Data: map[string]interface{}{"withdrawal_tx_id": withdrawalTxID, "inputs_completed": matched}}, nil
}

func isMultisigWitness(tx *wire.MsgTx, vin int) bool {
	if vin < 0 || vin >= len(tx.TxIn) {
		return false
	}
	return btcproto.IsMultisigWitness(tx.TxIn[vin].Witness)
}
