package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Canonical on-disk and signed-payload encoding. Fixed little-endian
// integers, length-prefixed variable byte strings. Deliberately not
// encoding/gob: gob's self-describing stream does not guarantee the
// block nonce lands in the trailing 8 bytes of the encoding, which the
// in-place nonce rewrite during mining depends on.

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeHash(buf *bytes.Buffer, h Hash) {
	buf.Write(h[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readHash(r *bytes.Reader) (Hash, error) {
	var h Hash
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return h, err
	}
	return h, nil
}

// encodeOutPoint/encodeOutput and friends below implement the fixed
// layout for each ledger type. Each encode* appends to a buffer; each
// decode* consumes exactly what the matching encode* wrote, so these
// compose without per-item framing (the mempool and UTXO-set state
// files hold several of them back to back after an item count).

func encodeOutPoint(buf *bytes.Buffer, o OutPoint) {
	writeHash(buf, o.TxID)
	writeUint32(buf, o.OutputIndex)
}

func decodeOutPoint(r *bytes.Reader) (OutPoint, error) {
	txID, err := readHash(r)
	if err != nil {
		return OutPoint{}, err
	}
	idx, err := readUint32(r)
	if err != nil {
		return OutPoint{}, err
	}
	return OutPoint{TxID: txID, OutputIndex: idx}, nil
}

func encodeOutput(buf *bytes.Buffer, o Output) {
	writeBytes(buf, o.ToPubKey.SerializeCompressed())
	writeUint32(buf, o.Amount)
}

func decodeOutput(r *bytes.Reader) (Output, error) {
	pkBytes, err := readBytes(r)
	if err != nil {
		return Output{}, err
	}
	pk, err := secp256k1.ParsePubKey(pkBytes)
	if err != nil {
		return Output{}, fmt.Errorf("decode output pubkey: %w", err)
	}
	amount, err := readUint32(r)
	if err != nil {
		return Output{}, err
	}
	return Output{ToPubKey: pk, Amount: amount}, nil
}

func encodeInputCore(buf *bytes.Buffer, c InputCore) {
	writeHash(buf, c.TxID)
	writeUint32(buf, c.OutputIndex)
}

func decodeInputCore(r *bytes.Reader) (InputCore, error) {
	txID, err := readHash(r)
	if err != nil {
		return InputCore{}, err
	}
	idx, err := readUint32(r)
	if err != nil {
		return InputCore{}, err
	}
	return InputCore{TxID: txID, OutputIndex: idx}, nil
}

// encodeInputCoreBytes returns exactly the bytes an Input's signature
// is computed over -- the InputCore alone, not the whole Input.
func encodeInputCoreBytes(c InputCore) []byte {
	var buf bytes.Buffer
	encodeInputCore(&buf, c)
	return buf.Bytes()
}

func encodeInput(buf *bytes.Buffer, in Input) {
	encodeInputCore(buf, in.Core)
	writeBytes(buf, in.Signature.Serialize())
}

func decodeInput(r *bytes.Reader) (Input, error) {
	core, err := decodeInputCore(r)
	if err != nil {
		return Input{}, err
	}
	sigBytes, err := readBytes(r)
	if err != nil {
		return Input{}, err
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return Input{}, fmt.Errorf("decode input signature: %w", err)
	}
	return Input{Core: core, Signature: sig}, nil
}

func encodeTransaction(buf *bytes.Buffer, tx Transaction) {
	writeInt64(buf, tx.Timestamp)
	writeUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		encodeInput(buf, in)
	}
	writeUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		encodeOutput(buf, out)
	}
}

func decodeTransaction(r *bytes.Reader) (Transaction, error) {
	ts, err := readInt64(r)
	if err != nil {
		return Transaction{}, err
	}
	nIn, err := readUint32(r)
	if err != nil {
		return Transaction{}, err
	}
	inputs := make([]Input, 0, nIn)
	for i := uint32(0); i < nIn; i++ {
		in, err := decodeInput(r)
		if err != nil {
			return Transaction{}, err
		}
		inputs = append(inputs, in)
	}
	nOut, err := readUint32(r)
	if err != nil {
		return Transaction{}, err
	}
	outputs := make([]Output, 0, nOut)
	for i := uint32(0); i < nOut; i++ {
		out, err := decodeOutput(r)
		if err != nil {
			return Transaction{}, err
		}
		outputs = append(outputs, out)
	}
	return Transaction{Timestamp: ts, Inputs: inputs, Outputs: outputs}, nil
}

// EncodeTransaction/DecodeTransaction are the exported round-trip pair
// for a single transaction, used for transaction ids and by the network
// transport.
func EncodeTransaction(tx Transaction) []byte {
	var buf bytes.Buffer
	encodeTransaction(&buf, tx)
	return buf.Bytes()
}

func DecodeTransaction(b []byte) (Transaction, error) {
	r := bytes.NewReader(b)
	tx, err := decodeTransaction(r)
	if err != nil {
		return Transaction{}, err
	}
	if r.Len() != 0 {
		return Transaction{}, fmt.Errorf("trailing bytes after transaction")
	}
	return tx, nil
}

// encodeBlock writes the block with the nonce as the final 8 bytes of
// the buffer -- required for Mine's in-place nonce rewrite.
func encodeBlock(buf *bytes.Buffer, b Block) {
	writeHash(buf, b.PreviousBlock)
	writeInt64(buf, b.Timestamp)
	writeUint32(buf, uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		encodeTransaction(buf, tx)
	}
	writeUint64(buf, b.Nonce)
}

func decodeBlock(r *bytes.Reader) (Block, error) {
	prev, err := readHash(r)
	if err != nil {
		return Block{}, err
	}
	ts, err := readInt64(r)
	if err != nil {
		return Block{}, err
	}
	nTx, err := readUint32(r)
	if err != nil {
		return Block{}, err
	}
	txs := make([]Transaction, 0, nTx)
	for i := uint32(0); i < nTx; i++ {
		tx, err := decodeTransaction(r)
		if err != nil {
			return Block{}, err
		}
		txs = append(txs, tx)
	}
	nonce, err := readUint64(r)
	if err != nil {
		return Block{}, err
	}
	return Block{PreviousBlock: prev, Timestamp: ts, Transactions: txs, Nonce: nonce}, nil
}

func EncodeBlock(b Block) []byte {
	var buf bytes.Buffer
	encodeBlock(&buf, b)
	return buf.Bytes()
}

func DecodeBlock(b []byte) (Block, error) {
	r := bytes.NewReader(b)
	blk, err := decodeBlock(r)
	if err != nil {
		return Block{}, err
	}
	if r.Len() != 0 {
		return Block{}, fmt.Errorf("trailing bytes after block")
	}
	return blk, nil
}

func encodeUint32(v uint32) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, v)
	return buf.Bytes()
}

func decodeUint32(b []byte) (uint32, error) {
	return readUint32(bytes.NewReader(b))
}

func encodeHash(h Hash) []byte {
	return h[:]
}

func decodeHash(b []byte) (Hash, error) {
	if len(b) != 32 {
		return Hash{}, fmt.Errorf("invalid hash length %d", len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func encodeUTXOSet(u UTXOSet) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(u)))
	for op, out := range u {
		encodeOutPoint(&buf, op)
		encodeOutput(&buf, out)
	}
	return buf.Bytes()
}

func decodeUTXOSet(b []byte) (UTXOSet, error) {
	r := bytes.NewReader(b)
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	u := make(UTXOSet, n)
	for i := uint32(0); i < n; i++ {
		op, err := decodeOutPoint(r)
		if err != nil {
			return nil, err
		}
		out, err := decodeOutput(r)
		if err != nil {
			return nil, err
		}
		u[op] = out
	}
	return u, nil
}

func encodeMempool(m Mempool) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(m)))
	for _, tx := range m {
		encodeTransaction(&buf, tx)
	}
	return buf.Bytes()
}

func decodeMempool(b []byte) (Mempool, error) {
	r := bytes.NewReader(b)
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	m := make(Mempool, n)
	for i := uint32(0); i < n; i++ {
		tx, err := decodeTransaction(r)
		if err != nil {
			return nil, err
		}
		m[tx.ID()] = tx
	}
	return m, nil
}
