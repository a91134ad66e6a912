// Package index maintains a badger-backed, address-keyed view over
// the ledger's UTXO set. It is a rebuildable cache, not a source of
// truth: the authoritative UTXO set lives in the ledger's flat state
// file, and this index exists purely so a wallet balance or
// spendable-output lookup does not need to scan that whole set.
package index

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/ripemd160"

	"github.com/petiibhuzah/utxoledger/ledger"
)

// pubKeyHash160 is Bitcoin's Hash160, duplicated from the wallet
// package rather than imported from it: the index is a node-side
// component keyed by the same hash wallets derive addresses from, and
// importing wallet here would point the dependency the wrong way.
func pubKeyHash160(pub interface{ SerializeCompressed() []byte }) []byte {
	shaHash := sha256.Sum256(pub.SerializeCompressed())
	hasher := ripemd160.New()
	hasher.Write(shaHash[:])
	return hasher.Sum(nil)
}

var addressPrefix = []byte("addr-")

// AddressIndex maps a public key hash to the OutPoints it owns, backed
// by badger so large UTXO sets don't need to live entirely in memory
// on the query path.
type AddressIndex struct {
	db *badger.DB
}

func Open(dir string) (*AddressIndex, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open address index: %w", err)
	}
	return &AddressIndex{db: db}, nil
}

func (idx *AddressIndex) Close() error {
	return idx.db.Close()
}

func addressKey(pubKeyHash []byte, op ledger.OutPoint) []byte {
	key := make([]byte, 0, len(addressPrefix)+len(pubKeyHash)+36)
	key = append(key, addressPrefix...)
	key = append(key, pubKeyHash...)
	key = append(key, op.TxID[:]...)
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], op.OutputIndex)
	key = append(key, idxBuf[:]...)
	return key
}

// Rebuild discards whatever the index currently holds and repopulates
// it from scratch by scanning utxoSet. Call this after opening the
// index against a ledger whose chain log may have moved independently
// of the index (first run, or after a rewind).
func (idx *AddressIndex) Rebuild(utxoSet ledger.UTXOSet) error {
	return idx.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var stale [][]byte
		for it.Seek(addressPrefix); it.ValidForPrefix(addressPrefix); it.Next() {
			stale = append(stale, append([]byte{}, it.Item().Key()...))
		}
		it.Close()
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		for op, out := range utxoSet {
			pubKeyHash := pubKeyHash160(out.ToPubKey)
			var amountBuf [4]byte
			binary.BigEndian.PutUint32(amountBuf[:], out.Amount)
			if err := txn.Set(addressKey(pubKeyHash, op), amountBuf[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UTXOEntry is a single spendable output as seen through the index.
type UTXOEntry struct {
	OutPoint ledger.OutPoint
	Amount   uint32
}

// Lookup returns every output the index currently has recorded for
// pubKeyHash.
func (idx *AddressIndex) Lookup(pubKeyHash []byte) ([]UTXOEntry, error) {
	prefix := append(append([]byte{}, addressPrefix...), pubKeyHash...)

	var entries []UTXOEntry
	err := idx.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			suffix := bytes.TrimPrefix(key, prefix)
			if len(suffix) != 36 {
				continue
			}

			var op ledger.OutPoint
			copy(op.TxID[:], suffix[:32])
			op.OutputIndex = binary.BigEndian.Uint32(suffix[32:36])

			var amount uint32
			if err := item.Value(func(val []byte) error {
				if len(val) != 4 {
					return fmt.Errorf("corrupt amount value for %x", key)
				}
				amount = binary.BigEndian.Uint32(val)
				return nil
			}); err != nil {
				return err
			}

			entries = append(entries, UTXOEntry{OutPoint: op, Amount: amount})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lookup address index: %w", err)
	}
	return entries, nil
}

// Balance sums every output the index has recorded for pubKeyHash.
func (idx *AddressIndex) Balance(pubKeyHash []byte) (uint32, error) {
	entries, err := idx.Lookup(pubKeyHash)
	if err != nil {
		return 0, err
	}
	var total uint32
	for _, e := range entries {
		total += e.Amount
	}
	return total, nil
}
