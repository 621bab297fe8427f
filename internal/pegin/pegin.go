// Package pegin implements the peg-in pattern predicate: deciding whether a
// transaction deposits funds for a sibling-chain federation, independent of
// any store or indexer state. It is pure so the Detection Engine can call
// it per-transaction without side effects, mirroring how the teacher keeps
// its blockproc wallet-matching rules free of I/O.
package pegin

import (
	"bytes"

	"github.com/nodewatch/btcmonitor/internal/chain"
)

// opReturn is the standard OP_RETURN opcode.
const opReturn = 0x6a

// payloadLen is the magic (4 bytes) plus recipient address (20 bytes).
const payloadLen = 24

// Federation describes a single sibling-chain federation's peg-in
// parameters, as loaded from config.peg_in.
type Federation struct {
	Tag             string
	DepositScript   *chain.LockingScript
	Magic           [4]byte
	MinPeginAmount  uint64
}

// Match is the outcome of a matched peg-in predicate: the aggregate deposit
// value and the sibling-chain recipient address extracted from the leading
// OP_RETURN payload.
type Match struct {
	DepositValue uint64
	Recipient    [20]byte
}

// Detect evaluates the peg-in predicate from spec §4.3 against tx for
// federation f. It reports ok=false if the transaction is not a peg-in for
// this federation.
func Detect(f Federation, tx chain.Tx) (Match, bool) {
	depositValue, hasDeposit := sumDepositOutputs(f, tx)
	if !hasDeposit || depositValue < f.MinPeginAmount {
		return Match{}, false
	}

	recipient, hasPayload := leadingOpReturnPayload(f, tx)
	if !hasPayload {
		return Match{}, false
	}

	return Match{DepositValue: depositValue, Recipient: recipient}, true
}

// sumDepositOutputs sums every output value that pays the federation's
// deposit script, exact-byte match.
func sumDepositOutputs(f Federation, tx chain.Tx) (uint64, bool) {
	depositBytes := f.DepositScript.Bytes()

	var total uint64
	var found bool
	for _, out := range tx.Outputs {
		if out.Script == nil {
			continue
		}
		if bytes.Equal(out.Script.Bytes(), depositBytes) {
			total += out.Value
			found = true
		}
	}
	return total, found
}

// leadingOpReturnPayload finds the first (lowest output index) OP_RETURN
// output carrying a direct 24-byte push whose first 4 bytes match the
// federation's magic, and returns the trailing 20-byte recipient.
func leadingOpReturnPayload(f Federation, tx chain.Tx) ([20]byte, bool) {
	for _, out := range tx.Outputs {
		if out.Script == nil {
			continue
		}
		recipient, ok := parseOpReturnPayload(out.Script.Bytes(), f.Magic)
		if ok {
			return recipient, true
		}
	}
	return [20]byte{}, false
}

// parseOpReturnPayload recognizes the exact byte layout
// OP_RETURN <push-24> <4-byte magic><20-byte recipient>. Direct pushes of
// 1-75 bytes are encoded as a single length-prefix byte equal to the push
// length, so a 24-byte push is the literal byte 0x18.
//
// This walks the raw output bytes rather than decoding them through
// go-sdk's script.Script instruction parser, the same call chosen by
// luxfi-indexer's parseRuneFromOpReturn: a fixed-layout OP_RETURN payload
// has nothing to gain from a general opcode decoder, since the shape is
// known up front and a length/prefix check covers it directly.
func parseOpReturnPayload(script []byte, magic [4]byte) ([20]byte, bool) {
	const pushLen = payloadLen
	if len(script) != 2+pushLen {
		return [20]byte{}, false
	}
	if script[0] != opReturn || script[1] != pushLen {
		return [20]byte{}, false
	}
	payload := script[2:]
	for i := range magic {
		if payload[i] != magic[i] {
			return [20]byte{}, false
		}
	}
	var recipient [20]byte
	copy(recipient[:], payload[4:])
	return recipient, true
}
