package ledger

import (
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Output is an immutable record locking an amount to a recipient's
// secp256k1 verifying key.
type Output struct {
	ToPubKey *secp256k1.PublicKey
	Amount   uint32
}

// InputCore identifies the output an Input spends. This, and only
// this, is what an Input's signature is computed over -- not the
// whole Input -- so verification never self-references the signature
// it is checking.
type InputCore struct {
	TxID        Hash
	OutputIndex uint32
}

// Input references a previous Output and proves, via signature, that
// the caller holds the private key matching that Output's ToPubKey.
type Input struct {
	Core      InputCore
	Signature *ecdsa.Signature
}

// SignInput produces an Input spending (txID, outputIndex), signed by
// priv. The signed payload is exactly the canonical encoding of the
// InputCore.
func SignInput(txID Hash, outputIndex uint32, priv *secp256k1.PrivateKey) Input {
	core := InputCore{TxID: txID, OutputIndex: outputIndex}
	digest := sha256Sum(encodeInputCoreBytes(core))
	sig := ecdsa.Sign(priv, digest[:])
	return Input{Core: core, Signature: sig}
}

func (in Input) verify(pub *secp256k1.PublicKey) bool {
	digest := sha256Sum(encodeInputCoreBytes(in.Core))
	return in.Signature.Verify(digest[:], pub)
}

// Transaction is identified by the SHA-256 of its canonical encoding.
type Transaction struct {
	Timestamp int64 // unix nanoseconds
	Inputs    []Input
	Outputs   []Output
}

// NewTransaction stamps the current time. Inputs/outputs are appended
// by the caller before signing and submitting.
func NewTransaction() Transaction {
	return Transaction{Timestamp: time.Now().UnixNano()}
}

// ID returns the transaction's identity: SHA-256 of its canonical
// encoding, including its (already-set) signatures.
func (tx Transaction) ID() Hash {
	return sha256Sum(EncodeTransaction(tx))
}

// Validate checks tx against utxoSnapshot without mutating it. It
// returns a non-negative fee on success, or a TxError describing why
// the transaction is rejected. InvalidOutputAmount is also how a
// coinbase-shaped transaction (no valid inputs, outputs exceeding
// inputs by exactly the claimed reward) is recognized one level up in
// Block.ValidateBlock -- it is not itself an intrinsic rejection of
// zero-input transactions.
func (tx Transaction) Validate(utxoSnapshot UTXOSet) (uint32, *TxError) {
	var totalOutput uint32
	for _, out := range tx.Outputs {
		totalOutput += out.Amount
	}

	var totalInput uint32
	for i, in := range tx.Inputs {
		out, ok := utxoSnapshot[OutPoint{TxID: in.Core.TxID, OutputIndex: in.Core.OutputIndex}]
		if !ok {
			return 0, &TxError{Kind: InputDoesNotExist, Index: uint32(i)}
		}
		if !in.verify(out.ToPubKey) {
			return 0, &TxError{Kind: InvalidSignature, Index: uint32(i)}
		}
		totalInput += out.Amount
	}

	if totalOutput <= totalInput {
		return totalInput - totalOutput, nil
	}
	return 0, &TxError{Kind: InvalidOutputAmount, Delta: totalOutput - totalInput}
}
