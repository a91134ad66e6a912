package wallet

import (
	"log"

	"github.com/mr-tron/base58"
)

// Base58Encode converts binary data to a Base58-encoded string,
// avoiding characters that are easily confused in a typed-out address.
func Base58Encode(input []byte) []byte {
	return []byte(base58.Encode(input))
}

// Base58Decode is the inverse of Base58Encode.
func Base58Decode(input []byte) []byte {
	decoded, err := base58.Decode(string(input))
	if err != nil {
		log.Panic(err)
	}
	return decoded
}
