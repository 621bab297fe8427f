package pegin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodewatch/btcmonitor/internal/chain"
)

func depositScript() *chain.LockingScript {
	return chain.NewLockingScript([]byte{0x76, 0xa9, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 0x88, 0xac})
}

func opReturnPayload(magic [4]byte, recipient [20]byte) []byte {
	out := []byte{opReturn, payloadLen}
	out = append(out, magic[:]...)
	out = append(out, recipient[:]...)
	return out
}

func testFederation() Federation {
	return Federation{
		Tag:            "sidechain-a",
		DepositScript:  depositScript(),
		Magic:          [4]byte{0xde, 0xad, 0xbe, 0xef},
		MinPeginAmount: 1000,
	}
}

func TestDetect(t *testing.T) {
	f := testFederation()
	recipient := [20]byte{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}

	t.Run("matches a well-formed peg-in", func(t *testing.T) {
		tx := chain.Tx{
			Outputs: []chain.TxOut{
				{Value: 5000, Script: f.DepositScript},
				{Value: 0, Script: chain.NewLockingScript(opReturnPayload(f.Magic, recipient))},
			},
		}

		match, ok := Detect(f, tx)
		require.True(t, ok)
		assert.Equal(t, uint64(5000), match.DepositValue)
		assert.Equal(t, recipient, match.Recipient)
	})

	t.Run("sums multiple deposit outputs", func(t *testing.T) {
		tx := chain.Tx{
			Outputs: []chain.TxOut{
				{Value: 2000, Script: f.DepositScript},
				{Value: 3000, Script: f.DepositScript},
				{Value: 0, Script: chain.NewLockingScript(opReturnPayload(f.Magic, recipient))},
			},
		}

		match, ok := Detect(f, tx)
		require.True(t, ok)
		assert.Equal(t, uint64(5000), match.DepositValue)
	})

	t.Run("rejects below minimum deposit", func(t *testing.T) {
		f := testFederation()
		f.MinPeginAmount = 10000
		tx := chain.Tx{
			Outputs: []chain.TxOut{
				{Value: 5000, Script: f.DepositScript},
				{Value: 0, Script: chain.NewLockingScript(opReturnPayload(f.Magic, recipient))},
			},
		}

		_, ok := Detect(f, tx)
		assert.False(t, ok, "expected no match below minimum deposit")
	})

	t.Run("rejects missing deposit output", func(t *testing.T) {
		tx := chain.Tx{
			Outputs: []chain.TxOut{
				{Value: 0, Script: chain.NewLockingScript(opReturnPayload(f.Magic, recipient))},
			},
		}

		_, ok := Detect(f, tx)
		assert.False(t, ok, "expected no match without a deposit output")
	})

	t.Run("rejects missing OP_RETURN payload", func(t *testing.T) {
		tx := chain.Tx{
			Outputs: []chain.TxOut{
				{Value: 5000, Script: f.DepositScript},
			},
		}

		_, ok := Detect(f, tx)
		assert.False(t, ok, "expected no match without an OP_RETURN payload")
	})

	t.Run("rejects wrong magic", func(t *testing.T) {
		wrongMagic := [4]byte{0, 0, 0, 0}
		tx := chain.Tx{
			Outputs: []chain.TxOut{
				{Value: 5000, Script: f.DepositScript},
				{Value: 0, Script: chain.NewLockingScript(opReturnPayload(wrongMagic, recipient))},
			},
		}

		_, ok := Detect(f, tx)
		assert.False(t, ok, "expected no match with wrong magic")
	})

	t.Run("rejects wrong payload length", func(t *testing.T) {
		badScript := []byte{opReturn, 10, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
		tx := chain.Tx{
			Outputs: []chain.TxOut{
				{Value: 5000, Script: f.DepositScript},
				{Value: 0, Script: chain.NewLockingScript(badScript)},
			},
		}

		_, ok := Detect(f, tx)
		assert.False(t, ok, "expected no match with wrong payload length")
	})

	t.Run("picks the leading OP_RETURN when multiple are present", func(t *testing.T) {
		otherRecipient := [20]byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}
		tx := chain.Tx{
			Outputs: []chain.TxOut{
				{Value: 5000, Script: f.DepositScript},
				{Value: 0, Script: chain.NewLockingScript(opReturnPayload(f.Magic, recipient))},
				{Value: 0, Script: chain.NewLockingScript(opReturnPayload(f.Magic, otherRecipient))},
			},
		}

		match, ok := Detect(f, tx)
		require.True(t, ok)
		assert.Equal(t, recipient, match.Recipient, "expected leading payload's recipient")
	})

	t.Run("ignores outputs with a nil script", func(t *testing.T) {
		tx := chain.Tx{
			Outputs: []chain.TxOut{
				{Value: 5000, Script: nil},
				{Value: 5000, Script: f.DepositScript},
				{Value: 0, Script: chain.NewLockingScript(opReturnPayload(f.Magic, recipient))},
			},
		}

		match, ok := Detect(f, tx)
		require.True(t, ok)
		assert.Equal(t, uint64(5000), match.DepositValue, "nil-script output should be ignored")
	})
}
