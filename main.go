package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"amm-indexer/boff"
	"amm-indexer/chain"
	"amm-indexer/config"
	"amm-indexer/database"
	"amm-indexer/indexer"
	"amm-indexer/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type options struct {
	configFile string
	factory    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	logger.Sync()
	if err != nil {
		fmt.Println("Error: ", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "amm-indexer",
		Short:         "Index UniswapV2 pairs and find swap routes over them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "config.toml", "configuration file (toml format)")
	root.PersistentFlags().StringVar(&opts.factory, "factory", "", "factory address, overrides indexer.factory_address")

	root.AddCommand(
		newIndexCommand(opts),
		newFindCommand(opts),
		newGraphCommand(opts),
	)
	return root
}

func newIndexCommand(opts *options) *cobra.Command {
	var workers int

	c := &cobra.Command{
		Use:   "index",
		Short: "Index every pair the factory created since the last run",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, func(cfg *config.Config) {
				if workers > 0 {
					cfg.Indexer.Workers = workers
				}
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return errors.Wrap(err, "config")
			}

			_, err = runIndexer(c.Context(), cfg)
			return err
		},
	}
	c.Flags().IntVar(&workers, "workers", 0, "number of workers, overrides indexer.workers")
	return c
}

func loadConfig(opts *options, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.BuildConfig(opts.configFile)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	if opts.factory != "" {
		cfg.Indexer.FactoryAddress = opts.factory
	}
	for _, override := range overrides {
		override(cfg)
	}

	config.GlobalConfigCallback.Call(cfg)
	logger.Info("Running with configuration: chain: %s, database: %s, factory: %s",
		cfg.Chain.NodeURL, cfg.DB.Database, cfg.Indexer.FactoryAddress)
	return cfg, nil
}

func runIndexer(ctx context.Context, cfg *config.Config) (indexer.Summary, error) {
	db, err := connectDB(ctx, cfg, database.ConnectAndInitialize)
	if err != nil {
		return indexer.Summary{}, err
	}

	nodeURL, err := cfg.Chain.FullNodeURL()
	if err != nil {
		return indexer.Summary{}, err
	}
	client, err := boff.RetryWithMaxElapsed(
		ctx,
		func() (*chain.Client, error) {
			return chain.DialRPCNode(ctx, nodeURL, cfg.Chain.Timeout())
		},
		"DialRPCNode",
	)
	if err != nil {
		return indexer.Summary{}, errors.Wrap(err, "could not connect to the RPC node")
	}
	defer client.Close()

	var poolOpts []indexer.Option
	if cfg.Indexer.MetricsAddress != "" {
		poolOpts = append(poolOpts, indexer.WithMetrics(indexer.NewMetrics(prometheus.DefaultRegisterer)))

		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := indexer.ServeMetrics(metricsCtx, cfg.Indexer.MetricsAddress); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	pool, err := indexer.NewPool(
		indexer.ParamsFromConfig(cfg.Indexer),
		client,
		indexer.NewDatabaseStore(database.NewStore(db)),
		poolOpts...,
	)
	if err != nil {
		return indexer.Summary{}, err
	}

	summary, err := pool.Run(ctx)
	logger.Info("Run at block %d: %d tasks dispatched, %d pairs indexed, %d skipped, %d reserves refreshed (%d failed)",
		summary.BlockHeight, summary.Dispatched, summary.Indexed, summary.Skipped, summary.Refreshed, summary.RefreshFailed)
	if summary.SkipLedgerFailed > 0 {
		logger.Warn("%d skipped pair markers could not be written", summary.SkipLedgerFailed)
	}
	if err != nil {
		return summary, errors.Wrap(err, "indexer run")
	}
	return summary, nil
}

func connectDB(
	ctx context.Context, cfg *config.Config, connect func(*config.DBConfig) (*gorm.DB, error),
) (*gorm.DB, error) {
	db, err := boff.RetryWithMaxElapsed(
		ctx,
		func() (*gorm.DB, error) {
			return connect(&cfg.DB)
		},
		"ConnectDB",
	)
	if err != nil {
		return nil, errors.Wrap(err, "database connect and initialize error")
	}
	return db, nil
}

func parseAddress(flag, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, errors.Errorf("--%s: invalid address %q", flag, value)
	}
	return common.HexToAddress(value), nil
}
