package redis

import (
	"encoding/hex"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/nodewatch/btcmonitor/internal/chain"
)

func chainhashFromString(s string) (chain.Txid, error) {
	h, err := chainhash.NewHashFromHex(s)
	if err != nil {
		return chain.Txid{}, err
	}
	return *h, nil
}

func outpointFromString(s string) (chain.Outpoint, error) {
	op, err := transaction.OutpointFromString(s)
	if err != nil {
		return chain.Outpoint{}, err
	}
	return *op, nil
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
