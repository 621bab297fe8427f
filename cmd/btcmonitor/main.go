// Command btcmonitor wires the Config Loader, Monitor Store, Indexer
// Adapter, and Monitor Facade together behind the CLI shell, the way the
// teacher's blockwatch binary stitches walletregistry and blockproc behind
// cli.Run.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nodewatch/btcmonitor/internal/apierr"
	"github.com/nodewatch/btcmonitor/internal/config"
	"github.com/nodewatch/btcmonitor/internal/handlers/cli"
	"github.com/nodewatch/btcmonitor/internal/indexer"
	"github.com/nodewatch/btcmonitor/internal/infra/indexer/bitcoinrpc"
	redisstore "github.com/nodewatch/btcmonitor/internal/infra/storage/redis"
	"github.com/nodewatch/btcmonitor/internal/monitor"
	"github.com/nodewatch/btcmonitor/internal/pkg/logger"
	pkghttp "github.com/nodewatch/btcmonitor/internal/pkg/transport/http"
	"github.com/nodewatch/btcmonitor/internal/pkg/transport/jsonrpc"
	"github.com/nodewatch/btcmonitor/internal/pkg/resilience/retry"
	"github.com/nodewatch/btcmonitor/internal/pkg/telemetry"
)

const serviceName = "btcmonitor"

// errConfig and errStore mark startup failures so exitCodeFor maps them to
// apierr.ExitConfig and apierr.ExitStore.
var (
	errConfig = errors.New("config")
	errStore  = errors.New("store")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func run() error {
	ctx := context.Background()

	configPath := os.Getenv("BTCMONITOR_CONFIG_FILE")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}

	if err := logger.Init(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	if shutdown, err := telemetry.Init(ctx, serviceName); err != nil {
		logger.Warn(ctx, "telemetry disabled", "error", err)
	} else {
		defer shutdown(ctx)
	}

	store, err := redisstore.NewClient(ctx, cfg.Store.Addr, "", cfg.Store.Password, cfg.Store.DB)
	if err != nil {
		return fmt.Errorf("connecting to %w: %w", errStore, err)
	}
	defer store.Close()

	idx := newIndexer(cfg)

	federations, err := cfg.Federations()
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}

	r := retry.New(retry.WithAttempts(uint(cfg.Indexer.Retries + 1)))

	svc, err := monitor.New(ctx, store, idx, r, monitor.Params{
		ConfirmationThreshold: cfg.ConfirmationThreshold,
		ReorgWindow:           cfg.ReorgWindow,
		Federations:           federations,
		NewBlockEmitOnReplay:  cfg.NewBlockEmitOnReplay,
	})
	if err != nil {
		return fmt.Errorf("initializing monitor facade: %w", err)
	}

	return cli.Run(ctx, svc, int64(cfg.TickIntervalMS))
}

// newIndexer builds the Indexer Adapter over a retrying HTTP transport,
// bridging the teacher's pkg/transport/http retryablehttp.Client into the
// generic pkg/transport/jsonrpc.Client via StandardClient, the documented
// way to recover a *http.Client from a *retryablehttp.Client.
func newIndexer(cfg *config.Config) indexer.Port {
	httpClient := pkghttp.NewClient(
		pkghttp.WithTimeout(cfg.Indexer.Timeout),
		pkghttp.WithRetryMax(cfg.Indexer.Retries),
	)

	conn := jsonrpc.NewClient(httpClient.StandardClient(), cfg.Indexer.URL)
	return bitcoinrpc.NewClient(conn)
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return apierr.ExitOK
	case errors.Is(err, errConfig):
		return apierr.ExitConfig
	case errors.Is(err, errStore):
		return apierr.ExitStore
	}
	return apierr.Code(err)
}
