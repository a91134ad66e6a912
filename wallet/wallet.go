package wallet

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/ripemd160"

	"github.com/petiibhuzah/utxoledger/ledger"
)

const (
	checksumLength = 4
	version        = byte(0x00)
)

// Wallet holds the secp256k1 key pair an address is derived from. It
// does not hold coins -- coins live in the ledger's UTXO set, locked to
// a public key.
type Wallet struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// MakeWallet generates a fresh key pair.
func MakeWallet() (*Wallet, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &Wallet{PrivateKey: priv, PublicKey: priv.PubKey()}, nil
}

// Address derives a human-readable, checksummed, Base58 address from
// the wallet's public key: SHA256 -> RIPEMD160 -> version byte ->
// checksum -> Base58Encode.
func (w *Wallet) Address() []byte {
	pubHash := PublicKeyHash(w.PublicKey)
	versioned := append([]byte{version}, pubHash...)
	checksum := Checksum(versioned)
	full := append(versioned, checksum...)
	return Base58Encode(full)
}

// SignTransactionInput signs a spend of (txID, outputIndex) with this
// wallet's private key.
func (w *Wallet) SignTransactionInput(txID ledger.Hash, outputIndex uint32) ledger.Input {
	return ledger.SignInput(txID, outputIndex, w.PrivateKey)
}

// ValidateAddress checks the Base58 decoding, length, and checksum of
// a candidate address, without resolving it against any UTXO set.
func ValidateAddress(address string) bool {
	decoded := Base58Decode([]byte(address))
	if len(decoded) != 1+ripemd160.Size+checksumLength {
		return false
	}

	addrVersion := decoded[0]
	pubKeyHash := decoded[1 : 1+ripemd160.Size]
	actualChecksum := decoded[1+ripemd160.Size:]

	payload := append([]byte{addrVersion}, pubKeyHash...)
	return bytes.Equal(actualChecksum, Checksum(payload))
}

// PublicKeyHash is Bitcoin's Hash160: RIPEMD160(SHA256(pubkey)).
func PublicKeyHash(pub *secp256k1.PublicKey) []byte {
	shaHash := sha256.Sum256(pub.SerializeCompressed())

	hasher := ripemd160.New()
	hasher.Write(shaHash[:])
	return hasher.Sum(nil)
}

// Checksum is the first 4 bytes of a double SHA-256 of payload.
func Checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLength]
}

// GobEncode stores only the private scalar; the public key and curve
// point are always recomputed from it on decode.
func (w *Wallet) GobEncode() ([]byte, error) {
	data := struct{ D []byte }{D: w.PrivateKey.Serialize()}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w *Wallet) GobDecode(b []byte) error {
	var data struct{ D []byte }
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&data); err != nil {
		return err
	}

	priv := secp256k1.PrivKeyFromBytes(data.D)
	w.PrivateKey = priv
	w.PublicKey = priv.PubKey()
	return nil
}
