package chain

import "github.com/bsv-blockchain/go-sdk/script"

// LockingScript is the output script a TxOut pays to, reused verbatim from
// go-sdk so script-byte comparisons (peg-in deposit matching) never need a
// bespoke encoding.
type LockingScript = script.Script

// NewLockingScript wraps raw script bytes, mirroring script.NewFromBytes.
func NewLockingScript(b []byte) *LockingScript {
	return script.NewFromBytes(b)
}
