package btcproto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DecodeTx decodes a consensus-serialized Bitcoin transaction from
// canonical lowercase hex.
func DecodeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := DecodeHex(txHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid tx hex: %w", err)
	}
	return tx, nil
}

// TxID returns the display-form (byte-reversed hex) transaction id.
func TxID(tx *wire.MsgTx) string {
	return tx.TxHash().String()
}

// WTxID returns the display-form witness transaction id.
func WTxID(tx *wire.MsgTx) string {
	return tx.WitnessHash().String()
}

// DecodePSBT decodes a BIP-174 PSBT from canonical lowercase hex.
func DecodePSBT(psbtHex string) (*psbt.Packet, error) {
	raw, err := DecodeHex(psbtHex)
	if err != nil {
		return nil, err
	}
	p, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("invalid psbt hex: %w", err)
	}
	return p, nil
}

// EncodePSBT serializes a PSBT back to canonical lowercase hex.
func EncodePSBT(p *psbt.Packet) (string, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return "", fmt.Errorf("serialize psbt: %w", err)
	}
	return EncodeHex(buf.Bytes()), nil
}

// WitnessSigHashForInput computes the BIP-143 witness v0 SIGHASH for a
// chosen input, using the witness script and amount carried in that
// input's PSBT metadata. Other inputs' witness UTXOs (when present) are
// supplied to the prevout fetcher so SIGHASH_ALL commitments over the
// whole input set are computed correctly.
func WitnessSigHashForInput(p *psbt.Packet, vin int) ([32]byte, error) {
	var out [32]byte
	if vin < 0 || vin >= len(p.Inputs) {
		return out, fmt.Errorf("vin %d out of range", vin)
	}
	in := p.Inputs[vin]
	if in.WitnessUtxo == nil {
		return out, fmt.Errorf("psbt input %d missing witness utxo", vin)
	}
	if len(in.WitnessScript) == 0 {
		return out, fmt.Errorf("psbt input %d missing witness script", vin)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range p.UnsignedTx.TxIn {
		if i < len(p.Inputs) && p.Inputs[i].WitnessUtxo != nil {
			fetcher.AddPrevOut(txIn.PreviousOutPoint, p.Inputs[i].WitnessUtxo)
		}
	}
	sigHashes := txscript.NewTxSigHashes(p.UnsignedTx, fetcher)
	hash, err := txscript.CalcWitnessSigHash(in.WitnessScript, sigHashes, txscript.SigHashAll, p.UnsignedTx, vin, in.WitnessUtxo.Value)
	if err != nil {
		return out, fmt.Errorf("compute sighash: %w", err)
	}
	copy(out[:], hash)
	return out, nil
}

// IsMultisigWitness reports whether a witness stack matches the
// OP_ELSE (multisig) spend path of DepositScriptV1: 5 elements with the
// second-to-last element empty (the CHECKMULTISIG dummy-pop / OP_ELSE
// branch selector).
func IsMultisigWitness(witness wire.TxWitness) bool {
	return len(witness) == 5 && len(witness[len(witness)-2]) == 0
}
