package bithive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashicorp/vault/sdk/framework"
	"github.com/hashicorp/vault/sdk/logical"

	"github.com/bithive/custody/pkg/account"
	"github.com/bithive/custody/pkg/btcproto"
	"github.com/bithive/custody/pkg/embed"
)

const perAccountStorageDeposit = uint64(1_250_000)

func pathDeposit(b *btcBackend) []*framework.Path {
	return []*framework.Path{
		{
			Pattern: "deposit/submit",
			Fields: map[string]*framework.FieldSchema{
				"tx_hex":         {Type: framework.TypeString, Description: "Raw deposit transaction, hex-encoded."},
				"embed_vout":     {Type: framework.TypeInt, Description: "Output index of the embed OP_RETURN message."},
				"tx_block_hash":  {Type: framework.TypeString, Description: "Hash of the block the transaction was included in, hex-encoded."},
				"tx_index":       {Type: framework.TypeInt, Description: "Index of the transaction within that block."},
				"merkle_proof":   {Type: framework.TypeCommaStringSlice, Description: "Merkle inclusion proof, each sibling hex-encoded."},
				"attached_satoshi": {Type: framework.TypeInt, Description: "Native-token amount attached to cover the per-account storage deposit."},
				"gas_budget":     {Type: framework.TypeInt, Description: "Compute budget available for this call's light-client dispatch.", Default: int(defaultGasBudget)},
			},
			Operations: map[logical.Operation]framework.OperationHandler{
				logical.UpdateOperation: &framework.PathOperation{Callback: b.pathSubmitDepositTx},
			},
		},
	}
}

// verifiedDeposit is everything verifyDepositTxn recovers from a
// candidate deposit transaction; it is exercised by submit, dry-run, and
// reinvest validation alike (§4.4).
type verifiedDeposit struct {
	UserPubKey     []byte
	RedeemVersion  int
	TxID           string
	DepositVout    uint32
	Value          uint64
	SequenceHeight uint16
}

// verifyDepositTxn re-derives and checks everything about a candidate
// deposit output: the allowed sequence height, the optional absolute
// locktime gate, the P2WSH script hash, and the minimum deposit amount.
func verifyDepositTxn(cfg *GlobalConfig, rootPubKey *btcec.PublicKey, tx *wire.MsgTx, depositVout uint32, userPubKey []byte, sequenceHeight uint16) (*verifiedDeposit, error) {
	if !cfg.allowsSoloWithdrawalSeqHeight(sequenceHeight) {
		return nil, fmt.Errorf("%w: sequence_height must be one of %v", errBadSequenceHeight, cfg.SoloWithdrawalSeqHeights)
	}

	if cfg.EarliestDepositBlockHeight > 0 {
		for _, in := range tx.TxIn {
			if in.Sequence == wire.MaxTxInSequenceNum {
				return nil, errNotAbsTimelock
			}
		}
		if tx.LockTime < cfg.EarliestDepositBlockHeight {
			return nil, errNotAbsTimelock
		}
		if tx.LockTime >= wire.LockTimeThreshold {
			return nil, errNotAbsTimelock
		}
	}

	if int(depositVout) >= len(tx.TxOut) {
		return nil, errBadDepositIdx
	}
	depositOut := tx.TxOut[depositVout]
	if !btcproto.IsP2WSH(depositOut.PkScript) {
		return nil, errDepositNotP2WSH
	}

	protocolPubKey := btcproto.DeriveProtocolPubKey(rootPubKey, "bithive", btcproto.ChainSignaturePathV1)
	redeemScript, err := btcproto.DepositScriptV1(userPubKey, protocolPubKey.SerializeCompressed(), sequenceHeight)
	if err != nil {
		return nil, err
	}
	wantHash, err := btcproto.ExtractP2WSHHash(depositOut.PkScript)
	if err != nil {
		return nil, err
	}
	gotScriptPubKey, err := btcproto.P2WSHScriptPubKey(redeemScript)
	if err != nil {
		return nil, err
	}
	gotHash, err := btcproto.ExtractP2WSHHash(gotScriptPubKey)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(wantHash, gotHash) {
		return nil, errDepositBadScriptHash
	}

	if depositOut.Value < 0 || uint64(depositOut.Value) < cfg.MinDepositSatoshi {
		return nil, errBadDepositAmount
	}

	return &verifiedDeposit{
		UserPubKey:     userPubKey,
		RedeemVersion:  btcproto.RedeemVersionV1,
		TxID:           btcproto.TxID(tx),
		DepositVout:    depositVout,
		Value:          uint64(depositOut.Value),
		SequenceHeight: sequenceHeight,
	}, nil
}

// decodeEmbedMessage parses and validates the embed output at embedVout:
// zero-value, OP_RETURN, carrying a well-formed embed message.
func decodeEmbedMessage(tx *wire.MsgTx, embedVout int) (embed.MessageV1, error) {
	if embedVout < 0 || embedVout >= len(tx.TxOut) {
		return embed.MessageV1{}, errBadEmbedIdx
	}
	embedOut := tx.TxOut[embedVout]
	if embedOut.Value != 0 {
		return embed.MessageV1{}, errEmbedOutputNotZeroValue
	}
	if !btcproto.IsOpReturn(embedOut.PkScript) {
		return embed.MessageV1{}, errEmbedOutputNotOpReturn
	}
	pushed, err := btcproto.ExtractPushedData(embedOut.PkScript)
	if err != nil {
		return embed.MessageV1{}, err
	}
	return embed.Decode(pushed)
}

// verifyDepositTxnFromEmbed decodes the embed message at embedVout and
// runs the full verifyDepositTxn check over it — the shape reinvest-output
// validation needs, since a reinvest output is itself a fresh deposit.
func verifyDepositTxnFromEmbed(cfg *GlobalConfig, rootPubKey *btcec.PublicKey, tx *wire.MsgTx, embedVout int) (*verifiedDeposit, error) {
	msg, err := decodeEmbedMessage(tx, embedVout)
	if err != nil {
		return nil, err
	}
	return verifyDepositTxn(cfg, rootPubKey, tx, uint32(msg.DepositVout), msg.UserPubKey[:], msg.SequenceHeight)
}

func (b *btcBackend) pathSubmitDepositTx(ctx context.Context, req *logical.Request, data *framework.FieldData) (*logical.Response, error) {
	cfg, err := requireGlobalConfig(ctx, req.Storage)
	if err != nil {
		return nil, err
	}
	if err := cfg.assertRunning(); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if cfg.ChainSignaturesRootPubKey == "" {
		return logical.ErrorResponse(errFailedToSyncRootPubKey.Error()), nil
	}

	attached := uint64(data.Get("attached_satoshi").(int))
	if attached < perAccountStorageDeposit {
		return logical.ErrorResponse(errNotEnoughStorageDeposit.Error()), nil
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
	txID := btcproto.TxID(tx)

	embedVout := data.Get("embed_vout").(int)
	msg, err := decodeEmbedMessage(tx, embedVout)
	if err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}

	outID := outputID(txID, uint64(msg.DepositVout))
	existing, err := req.Storage.Get(ctx, confirmedDepositKey(outID))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return logical.ErrorResponse(errDepositAlreadySaved.Error()), nil
	}
	if err := req.Storage.Put(ctx, &logical.StorageEntry{Key: confirmedDepositKey(outID), Value: []byte("1")}); err != nil {
		return nil, err
	}

	txIndex := uint64(data.Get("tx_index").(int))
	blockHash, err := btcproto.H256FromDisplayHex(data.Get("tx_block_hash").(string))
	if err != nil {
		_ = req.Storage.Delete(ctx, confirmedDepositKey(outID))
		return logical.ErrorResponse("invalid tx_block_hash"), nil
	}
	txIDHash, err := btcproto.H256FromDisplayHex(txID)
	if err != nil {
		_ = req.Storage.Delete(ctx, confirmedDepositKey(outID))
		return logical.ErrorResponse("invalid tx id"), nil
	}

	proofHexes := data.Get("merkle_proof").([]string)
	proof := make([]btcproto.H256, len(proofHexes))
	for i, hx := range proofHexes {
		raw, err := btcproto.DecodeHex(hx)
		if err != nil || len(raw) != 32 {
			_ = req.Storage.Delete(ctx, confirmedDepositKey(outID))
			return logical.ErrorResponse("invalid merkle_proof entry"), nil
		}
		copy(proof[i][:], raw)
	}

	included, verr := b.lightClient.VerifyTransactionInclusion(ctx, txIDHash, blockHash, txIndex, proof, cfg.NConfirmation)
	return b.onVerifyDepositTx(ctx, req, cfg, tx, msg, outID, attached, included, verr)
}

// onVerifyDepositTx is the light-client callback (§4.4 step 7): on a
// negative result it compensates the precondition mutations (unreserve
// the OutputId, refund the caller); on a positive result it re-validates
// and commits the deposit to the account store.
func (b *btcBackend) onVerifyDepositTx(ctx context.Context, req *logical.Request, cfg *GlobalConfig, tx *wire.MsgTx, msg embed.MessageV1, outID string, attached uint64, included bool, verr error) (*logical.Response, error) {
	if verr != nil || !included {
		if err := req.Storage.Delete(ctx, confirmedDepositKey(outID)); err != nil {
			return nil, err
		}
		var resp *logical.Response
		if verr != nil {
			resp = logical.ErrorResponse(fmt.Sprintf("light client error: %s", verr))
		} else {
			resp = logical.ErrorResponse("deposit transaction inclusion could not be verified")
		}
		attachRefund(resp, attached)
		if shouldRefund(attached) {
			b.Logger().Info("deposit verification failed, refunding storage deposit", "output_id", outID, "refund_amount", attached)
		}
		return resp, nil
	}

	rootPubKeyBytes, err := btcproto.DecodeHex(cfg.ChainSignaturesRootPubKey)
	if err != nil {
		return nil, fmt.Errorf("decode root pubkey: %w", err)
	}
	rootPubKey, err := btcec.ParsePubKey(rootPubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse root pubkey: %w", err)
	}

	vd, err := verifyDepositTxn(cfg, rootPubKey, tx, uint32(msg.DepositVout), msg.UserPubKey[:], msg.SequenceHeight)
	if err != nil {
		_ = req.Storage.Delete(ctx, confirmedDepositKey(outID))
		return logical.ErrorResponse(err.Error()), nil
	}

	userPubKeyHex := btcproto.EncodeHex(vd.UserPubKey)
	acct, err := getAccount(ctx, req.Storage, userPubKeyHex)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		acct = account.New(userPubKeyHex)
	}
	d := account.NewDeposit(userPubKeyHex, vd.RedeemVersion, vd.TxID, uint64(vd.DepositVout), vd.Value, uint32(vd.SequenceHeight))
	if err := acct.CreateDeposit(d); err != nil {
		return logical.ErrorResponse(err.Error()), nil
	}
	if err := putAccount(ctx, req.Storage, acct); err != nil {
		return nil, err
	}

	emitDeposit(b.Logger(), depositEventData{
		UserPubKey:  userPubKeyHex,
		DepositTxID: vd.TxID,
		DepositVout: vd.DepositVout,
		Value:       vd.Value,
	})

	return &logical.Response{Data: map[string]interface{}{
		"deposit_tx_id": vd.TxID,
		"deposit_vout":  vd.DepositVout,
		"value":         vd.Value,
	}}, nil
}
