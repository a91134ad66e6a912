package ledger

import "fmt"

// TxError is the result of a failed Transaction.Validate. The three
// kinds mirror the original source's TransactionValidityError exactly;
// InvalidOutputAmount doubles as the coinbase signal during block
// accounting (see Block.ValidateBlock).
type TxError struct {
	Kind  TxErrorKind
	Index uint32 // meaningful for InputDoesNotExist and InvalidSignature
	Delta uint32 // meaningful for InvalidOutputAmount
}

type TxErrorKind int

const (
	InputDoesNotExist TxErrorKind = iota
	InvalidSignature
	InvalidOutputAmount
)

func (e *TxError) Error() string {
	switch e.Kind {
	case InputDoesNotExist:
		return fmt.Sprintf("input %d does not exist", e.Index)
	case InvalidSignature:
		return fmt.Sprintf("input %d has an invalid signature", e.Index)
	case InvalidOutputAmount:
		return fmt.Sprintf("outputs exceed inputs by %d", e.Delta)
	default:
		return "unknown transaction error"
	}
}

// BlockError is the result of a failed Block.ValidateBlock.
type BlockError struct {
	Kind BlockErrorKind
}

type BlockErrorKind int

const (
	InvalidHash BlockErrorKind = iota
	InvalidTransaction
	InvalidMinerReward
)

func (e *BlockError) Error() string {
	switch e.Kind {
	case InvalidHash:
		return "block hash does not meet the difficulty target"
	case InvalidTransaction:
		return "block contains a non-coinbase transaction that failed validation"
	case InvalidMinerReward:
		return "claimed miner reward does not match expected reward plus fees"
	default:
		return "unknown block error"
	}
}
