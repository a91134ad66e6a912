package ledger

// OutPoint identifies a single Output by the id of the transaction
// that created it and its index within that transaction's outputs.
type OutPoint struct {
	TxID        Hash
	OutputIndex uint32
}

// UTXOSet maps every currently-spendable Output by its OutPoint. Order
// is irrelevant (spec.md §3); callers needing a stable iteration order
// must impose one themselves.
type UTXOSet map[OutPoint]Output

func NewUTXOSet() UTXOSet {
	return make(UTXOSet)
}

func (u UTXOSet) Insert(op OutPoint, out Output) {
	u[op] = out
}

func (u UTXOSet) Remove(op OutPoint) {
	delete(u, op)
}

func (u UTXOSet) Get(op OutPoint) (Output, bool) {
	out, ok := u[op]
	return out, ok
}
