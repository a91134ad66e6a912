package ledger

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash is a 32-byte SHA-256 digest used as a transaction id, block id,
// and UTXO key component.
type Hash [32]byte

// ZeroHash is the default previous-block hash for the genesis block.
var ZeroHash = Hash{}

func sha256Sum(b []byte) Hash {
	var h Hash
	sum := sha256.Sum256(b)
	copy(h[:], sum[:])
	return h
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}
