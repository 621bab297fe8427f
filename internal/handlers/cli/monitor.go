package cli

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/urfave/cli/v3"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/monitor"
	"github.com/nodewatch/btcmonitor/internal/store"
)

// monitorCommand groups the `monitor add` and `monitor cancel` subcommands,
// the btcmonitor equivalent of the teacher's `watch`/`unwatch` pair, widened
// to cover all six MonitorSpec variants instead of one wallet shape.
func monitorCommand(svc monitor.Api) *cli.Command {
	return &cli.Command{
		Name:        "monitor",
		Description: "Register or cancel a monitor.",
		Commands: []*cli.Command{
			monitorAddCommand(svc),
			monitorCancelCommand(svc),
		},
	}
}

var monitorFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "variant",
		Usage:    "one of tx, group, utxo, pegin, newblock, address",
		Required: true,
	},
	&cli.StringFlag{Name: "txid", Usage: "transaction id (tx variant)"},
	&cli.StringFlag{Name: "group-id", Usage: "group identifier (group variant)"},
	&cli.StringSliceFlag{Name: "group-txid", Usage: "member txid, repeatable (group variant)"},
	&cli.StringFlag{Name: "outpoint", Usage: "txid:index (utxo variant)"},
	&cli.StringFlag{Name: "federation-tag", Usage: "federation tag, must match config peg_in entry (pegin variant)"},
	&cli.StringFlag{Name: "script-hex", Usage: "output locking script bytes, hex-encoded (address variant)"},
	&cli.StringFlag{Name: "context-tag", Usage: "opaque caller-supplied tag carried through to news items"},
}

func monitorAddCommand(svc monitor.Api) *cli.Command {
	return &cli.Command{
		Name:        "add",
		Description: "Registers a new monitor.",
		Usage:       "monitor add --variant tx --txid <hex>",
		Flags:       monitorFlags,
		Action: func(ctx context.Context, c *cli.Command) error {
			spec, err := specFromFlags(c)
			if err != nil {
				return err
			}
			return svc.Monitor(ctx, spec)
		},
	}
}

func monitorCancelCommand(svc monitor.Api) *cli.Command {
	return &cli.Command{
		Name:        "cancel",
		Description: "Cancels an existing monitor.",
		Usage:       "monitor cancel --variant tx --txid <hex>",
		Flags:       monitorFlags,
		Action: func(ctx context.Context, c *cli.Command) error {
			spec, err := specFromFlags(c)
			if err != nil {
				return err
			}
			return svc.Cancel(ctx, spec)
		},
	}
}

// specFromFlags builds a store.MonitorSpec from the flags shared by `add`
// and `cancel`, validating that the variant-specific fields required by
// MonitorSpec.Key are present.
func specFromFlags(c *cli.Command) (store.MonitorSpec, error) {
	variant := store.Variant(c.String("variant"))
	spec := store.MonitorSpec{
		Variant:    variant,
		ContextTag: c.String("context-tag"),
	}

	switch variant {
	case store.VariantTx:
		txid, err := parseTxid(c.String("txid"))
		if err != nil {
			return store.MonitorSpec{}, err
		}
		spec.Txid = txid

	case store.VariantGroup:
		spec.GroupID = c.String("group-id")
		for _, s := range c.StringSlice("group-txid") {
			txid, err := parseTxid(s)
			if err != nil {
				return store.MonitorSpec{}, err
			}
			spec.GroupTxids = append(spec.GroupTxids, txid)
		}

	case store.VariantUtxo:
		op, err := transaction.OutpointFromString(c.String("outpoint"))
		if err != nil {
			return store.MonitorSpec{}, fmt.Errorf("parsing outpoint: %w", err)
		}
		spec.Outpoint = *op

	case store.VariantPegIn:
		spec.FederationTag = c.String("federation-tag")

	case store.VariantAddress:
		raw, err := hex.DecodeString(c.String("script-hex"))
		if err != nil {
			return store.MonitorSpec{}, fmt.Errorf("parsing script-hex: %w", err)
		}
		spec.Script = chain.NewLockingScript(raw)

	case store.VariantNewBlock:
		// no additional fields

	default:
		return store.MonitorSpec{}, fmt.Errorf("unknown variant %q", variant)
	}

	return spec, nil
}

func parseTxid(s string) (chain.Txid, error) {
	h, err := chainhash.NewHashFromHex(s)
	if err != nil {
		return chain.Txid{}, fmt.Errorf("parsing txid: %w", err)
	}
	return *h, nil
}
