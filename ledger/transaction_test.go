package ledger

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv
}

// fundedUTXO seeds a UTXO set with a single spendable output locked to
// priv's public key, returning the OutPoint that spends it.
func fundedUTXO(priv *secp256k1.PrivateKey, amount uint32) (UTXOSet, OutPoint) {
	set := NewUTXOSet()
	op := OutPoint{TxID: sha256Sum([]byte("seed")), OutputIndex: 0}
	set.Insert(op, Output{ToPubKey: priv.PubKey(), Amount: amount})
	return set, op
}

func spendingTx(op OutPoint, priv *secp256k1.PrivateKey, outputs ...Output) Transaction {
	tx := NewTransaction()
	tx.Inputs = []Input{SignInput(op.TxID, op.OutputIndex, priv)}
	tx.Outputs = outputs
	return tx
}

func TestTransactionValidate_Spend(t *testing.T) {
	priv := newKey(t)
	recipient := newKey(t)
	utxos, op := fundedUTXO(priv, 100)

	tx := spendingTx(op, priv, Output{ToPubKey: recipient.PubKey(), Amount: 90})

	fee, txErr := tx.Validate(utxos)
	require.Nil(t, txErr)
	assert.Equal(t, uint32(10), fee)
}

func TestTransactionValidate_Purity(t *testing.T) {
	priv := newKey(t)
	recipient := newKey(t)
	utxos, op := fundedUTXO(priv, 100)
	before := make(UTXOSet, len(utxos))
	for k, v := range utxos {
		before[k] = v
	}

	tx := spendingTx(op, priv, Output{ToPubKey: recipient.PubKey(), Amount: 90})
	_, _ = tx.Validate(utxos)

	assert.Equal(t, before, utxos, "Validate must not mutate the snapshot it checks against")
}

func TestTransactionValidate_InputDoesNotExist(t *testing.T) {
	priv := newKey(t)
	recipient := newKey(t)
	utxos := NewUTXOSet()
	missing := OutPoint{TxID: sha256Sum([]byte("nowhere")), OutputIndex: 0}

	tx := spendingTx(missing, priv, Output{ToPubKey: recipient.PubKey(), Amount: 1})

	_, txErr := tx.Validate(utxos)
	require.NotNil(t, txErr)
	assert.Equal(t, InputDoesNotExist, txErr.Kind)
	assert.Equal(t, uint32(0), txErr.Index)
}

func TestTransactionValidate_InvalidSignature(t *testing.T) {
	owner := newKey(t)
	attacker := newKey(t)
	recipient := newKey(t)
	utxos, op := fundedUTXO(owner, 100)

	tx := spendingTx(op, attacker, Output{ToPubKey: recipient.PubKey(), Amount: 50})

	_, txErr := tx.Validate(utxos)
	require.NotNil(t, txErr)
	assert.Equal(t, InvalidSignature, txErr.Kind)
}

func TestTransactionValidate_InvalidOutputAmount(t *testing.T) {
	priv := newKey(t)
	recipient := newKey(t)
	utxos, op := fundedUTXO(priv, 100)

	tx := spendingTx(op, priv, Output{ToPubKey: recipient.PubKey(), Amount: 150})

	_, txErr := tx.Validate(utxos)
	require.NotNil(t, txErr)
	assert.Equal(t, InvalidOutputAmount, txErr.Kind)
	assert.Equal(t, uint32(50), txErr.Delta)
}

func TestTransactionValidate_Coinbase(t *testing.T) {
	recipient := newKey(t)
	tx := NewTransaction()
	tx.Outputs = []Output{{ToPubKey: recipient.PubKey(), Amount: DefaultReward}}

	_, txErr := tx.Validate(NewUTXOSet())
	require.NotNil(t, txErr)
	assert.Equal(t, InvalidOutputAmount, txErr.Kind)
	assert.Equal(t, uint32(DefaultReward), txErr.Delta)
}

func TestTransactionID_Stable(t *testing.T) {
	priv := newKey(t)
	recipient := newKey(t)
	_, op := fundedUTXO(priv, 100)
	tx := spendingTx(op, priv, Output{ToPubKey: recipient.PubKey(), Amount: 90})

	id1 := tx.ID()
	id2 := tx.ID()
	assert.Equal(t, id1, id2)
}

func TestTransactionEncodeDecode_RoundTrip(t *testing.T) {
	priv := newKey(t)
	recipient := newKey(t)
	_, op := fundedUTXO(priv, 100)
	tx := spendingTx(op, priv, Output{ToPubKey: recipient.PubKey(), Amount: 90})

	encoded := EncodeTransaction(tx)
	decoded, err := DecodeTransaction(encoded)
	require.NoError(t, err)

	assert.Equal(t, tx.ID(), decoded.ID())
	assert.Equal(t, tx.Timestamp, decoded.Timestamp)
	require.Len(t, decoded.Inputs, 1)
	assert.True(t, decoded.Inputs[0].verify(priv.PubKey()))
}
