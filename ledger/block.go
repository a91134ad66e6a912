package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"time"
)

// Block groups a batch of transactions under a proof-of-work nonce,
// chained to its predecessor by hash.
type Block struct {
	PreviousBlock Hash
	Timestamp     int64
	Transactions  []Transaction
	Nonce         uint64
}

func NewBlock(previous Hash) Block {
	return Block{PreviousBlock: previous, Timestamp: time.Now().UnixNano()}
}

// Hash is the block's identity: SHA-256 of its canonical encoding,
// nonce included.
func (b Block) Hash() Hash {
	return sha256Sum(EncodeBlock(b))
}

// hasLeadingZeroBits reports whether the first n bits of h are zero,
// counted LSB-first within each byte: the low remaining_bits bits of
// the byte at index n/8 are checked, not the high bits. This mirrors
// the bit convention the ledger was distilled from; it is not the
// conventional MSB leading-zero-bits reading of a hash.
func hasLeadingZeroBits(h Hash, n uint32) bool {
	fullBytes := int(n / 8)
	remainingBits := n % 8

	if fullBytes > len(h) {
		return false
	}
	for i := 0; i < fullBytes; i++ {
		if h[i] != 0 {
			return false
		}
	}
	if remainingBits == 0 {
		return true
	}
	if fullBytes == len(h) {
		return false
	}
	mask := byte((1 << remainingBits) - 1)
	return h[fullBytes]&mask == 0
}

// ValidateBlock checks proof-of-work and miner-reward accounting
// against utxoSnapshot. Every non-coinbase transaction must validate
// cleanly; a transaction whose outputs exceed its inputs is treated as
// a reward claim of that delta rather than an outright rejection, and
// the sum of all such deltas must equal reward plus the fees collected
// from every other transaction in the block.
func (b Block) ValidateBlock(difficulty uint32, reward uint32, utxoSnapshot UTXOSet) *BlockError {
	if !hasLeadingZeroBits(b.Hash(), difficulty) {
		return &BlockError{Kind: InvalidHash}
	}

	expectedReward := reward
	var actualReward uint32
	for _, tx := range b.Transactions {
		fee, txErr := tx.Validate(utxoSnapshot)
		if txErr == nil {
			expectedReward += fee
			continue
		}
		if txErr.Kind == InvalidOutputAmount {
			actualReward += txErr.Delta
			continue
		}
		return &BlockError{Kind: InvalidTransaction}
	}

	if expectedReward != actualReward {
		return &BlockError{Kind: InvalidMinerReward}
	}
	return nil
}

// Mine searches for a nonce making the block's hash satisfy difficulty,
// by serializing once and rewriting the trailing 8 bytes (the nonce's
// fixed position in the canonical encoding) on every attempt rather
// than re-encoding the whole block each time.
func (b *Block) Mine(difficulty uint32) {
	b.Nonce = 0
	buf := EncodeBlock(*b)
	nonceOffset := len(buf) - 8

	var nonce uint64
	for {
		sum := sha256.Sum256(buf)
		var h Hash
		copy(h[:], sum[:])
		if hasLeadingZeroBits(h, difficulty) {
			b.Nonce = nonce
			return
		}
		nonce++
		binary.LittleEndian.PutUint64(buf[nonceOffset:], nonce)
	}
}

// Apply spends each transaction's inputs out of utxoSet, inserts its
// outputs, and drops it from mempool. Callers are expected to have
// already validated the block.
func (b Block) Apply(utxoSet UTXOSet, mempool Mempool) {
	for _, tx := range b.Transactions {
		for _, in := range tx.Inputs {
			utxoSet.Remove(OutPoint{TxID: in.Core.TxID, OutputIndex: in.Core.OutputIndex})
		}
		txID := tx.ID()
		for i, out := range tx.Outputs {
			utxoSet.Insert(OutPoint{TxID: txID, OutputIndex: uint32(i)}, out)
		}
		mempool.Remove(txID)
	}
}

// PendingUTXOs accumulates outputs that Rewind has determined must be
// restored to the UTXO set but whose Output value has not yet been
// found, because the block that created them lies further back in the
// chain log than the rewind has scanned.
type PendingUTXOs map[OutPoint]struct{}

// Rewind undoes the block's effect on utxoSet: every output the block
// created is deleted, and every output its transactions spent is
// marked pending for restoration by an earlier block's AddPendingUTXOs.
func (b Block) Rewind(utxoSet UTXOSet, pending PendingUTXOs) {
	for _, tx := range b.Transactions {
		txID := tx.ID()
		for i := range tx.Outputs {
			op := OutPoint{TxID: txID, OutputIndex: uint32(i)}
			utxoSet.Remove(op)
			delete(pending, op)
		}
		for _, in := range tx.Inputs {
			pending[OutPoint{TxID: in.Core.TxID, OutputIndex: in.Core.OutputIndex}] = struct{}{}
		}
	}
}

// AddPendingUTXOs restores any outputs in pending that this (earlier)
// block created, removing them from pending as they are resolved.
func (b Block) AddPendingUTXOs(utxoSet UTXOSet, pending PendingUTXOs) {
	for _, tx := range b.Transactions {
		txID := tx.ID()
		for i, out := range tx.Outputs {
			op := OutPoint{TxID: txID, OutputIndex: uint32(i)}
			if _, ok := pending[op]; ok {
				delete(pending, op)
				utxoSet.Insert(op, out)
			}
		}
	}
}

// removeLowestFeeTransaction evicts the block's lowest-fee transaction
// and returns the lowest fee among what remains, recomputed from
// scratch rather than tracked incrementally -- tracking only the
// second-lowest fee seen while scanning for the minimum misses cases
// where a lower-but-not-second-lowest fee was skipped over once the
// minimum changed.
func (b *Block) removeLowestFeeTransaction(utxoSet UTXOSet) (uint32, bool) {
	if len(b.Transactions) == 0 {
		return 0, false
	}

	lowestIdx := 0
	lowestFee, _ := b.Transactions[0].Validate(utxoSet)
	for i := 1; i < len(b.Transactions); i++ {
		fee, _ := b.Transactions[i].Validate(utxoSet)
		if fee < lowestFee {
			lowestFee = fee
			lowestIdx = i
		}
	}
	b.Transactions = append(b.Transactions[:lowestIdx], b.Transactions[lowestIdx+1:]...)

	if len(b.Transactions) == 0 {
		return 0, false
	}
	newLowest, _ := b.Transactions[0].Validate(utxoSet)
	for i := 1; i < len(b.Transactions); i++ {
		fee, _ := b.Transactions[i].Validate(utxoSet)
		if fee < newLowest {
			newLowest = fee
		}
	}
	return newLowest, true
}

// BuildFromMempool greedily fills a new block up to maxTransactions,
// always keeping the highest-fee transactions seen so far. Transactions
// that no longer validate against utxoSnapshot (e.g. a double-spend
// already confirmed elsewhere) are silently skipped rather than
// admitted.
func BuildFromMempool(previous Hash, mempool Mempool, utxoSnapshot UTXOSet, maxTransactions int) Block {
	block := NewBlock(previous)
	lowestFee := uint32(math.MaxUint32)

	for _, tx := range mempool {
		fee, txErr := tx.Validate(utxoSnapshot)
		if txErr != nil {
			continue
		}

		if len(block.Transactions) < maxTransactions {
			block.Transactions = append(block.Transactions, tx)
			if fee < lowestFee {
				lowestFee = fee
			}
			continue
		}

		if fee > lowestFee {
			newLowest, ok := block.removeLowestFeeTransaction(utxoSnapshot)
			if ok {
				lowestFee = newLowest
			} else {
				lowestFee = math.MaxUint32
			}
			block.Transactions = append(block.Transactions, tx)
			if fee < lowestFee {
				lowestFee = fee
			}
		}
	}

	return block
}
