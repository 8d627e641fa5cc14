package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"

	"amm-indexer/config"
	"amm-indexer/database"
	"amm-indexer/logger"
	"amm-indexer/router"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newFindCommand(opts *options) *cobra.Command {
	var from, to, amount string
	var maxHops int

	c := &cobra.Command{
		Use:   "find",
		Short: "Find the best swap route between two indexed tokens",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, func(cfg *config.Config) {
				if c.Flags().Changed("max-hops") {
					cfg.Router.MaxHops = maxHops
				}
			})
			if err != nil {
				return err
			}

			fromAddr, err := parseAddress("from", from)
			if err != nil {
				return err
			}
			toAddr, err := parseAddress("to", to)
			if err != nil {
				return err
			}
			amountIn, ok := new(big.Int).SetString(amount, 10)
			if !ok {
				return errors.Wrapf(router.ErrInvalidAmount, "--amount %q", amount)
			}

			lg, err := loadGraph(c.Context(), cfg)
			if err != nil {
				return err
			}

			return findRoute(c.OutOrStdout(), lg, cfg.Router, fromAddr, toAddr, amountIn)
		},
	}

	flags := c.Flags()
	flags.StringVar(&from, "from", "", "address of the token to sell")
	flags.StringVar(&to, "to", "", "address of the token to buy")
	flags.StringVar(&amount, "amount", "", "amount to sell in the token's smallest unit")
	flags.IntVar(&maxHops, "max-hops", 0, "maximum number of swaps, overrides router.max_hops (0 is unbounded)")
	_ = c.MarkFlagRequired("from")
	_ = c.MarkFlagRequired("to")
	_ = c.MarkFlagRequired("amount")
	return c
}

func newGraphCommand(opts *options) *cobra.Command {
	var out string

	c := &cobra.Command{
		Use:   "graph",
		Short: "Write the token graph in Graphviz DOT format",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			lg, err := loadGraph(c.Context(), cfg)
			if err != nil {
				return err
			}

			b, err := lg.MarshalDOT("tokens")
			if err != nil {
				return err
			}
			b = append(b, '\n')

			if out == "-" {
				_, err = c.OutOrStdout().Write(b)
				return err
			}
			return os.WriteFile(out, b, 0644)
		},
	}
	c.Flags().StringVar(&out, "out", "-", "output file, - for stdout")
	return c
}

func loadGraph(ctx context.Context, cfg *config.Config) (*router.LiquidityGraph, error) {
	if !common.IsHexAddress(cfg.Indexer.FactoryAddress) {
		return nil, errors.Errorf("invalid factory address %q", cfg.Indexer.FactoryAddress)
	}

	db, err := connectDB(ctx, cfg, database.Connect)
	if err != nil {
		return nil, err
	}
	return router.BuildGraph(ctx, database.NewStore(db), cfg.Indexer.Factory())
}

// findRoute prints the pairs against the base token, when one is configured
// and indexed, followed by the best route.
func findRoute(
	w io.Writer, lg *router.LiquidityGraph, cfg config.RouterConfig, from, to common.Address, amountIn *big.Int,
) error {
	if cfg.BaseToken != "" {
		err := printNeighbours(w, lg, common.HexToAddress(cfg.BaseToken))
		if errors.Is(err, router.ErrUnknownToken) {
			logger.Warn("Base token %s is not in the graph, not listing its pairs", cfg.BaseToken)
		} else if err != nil {
			return err
		}
	}

	route, err := router.NewFinder(lg, cfg.MaxHops).FindRoute(from, to, amountIn)
	if err != nil {
		return err
	}
	printRoute(w, route)
	return nil
}

func printRoute(w io.Writer, route *router.Route) {
	fmt.Fprintf(w, "route: %s\n", route)
	for _, hop := range route.Hops {
		fmt.Fprintf(w, "  %s -> %s via %s: %s -> %s\n",
			hop.TokenIn.Symbol, hop.TokenOut.Symbol, database.AddressString(hop.Pair),
			formatAmount(hop.AmountIn, hop.TokenIn.Decimals), formatAmount(hop.AmountOut, hop.TokenOut.Decimals))
	}
	last := route.Tokens[len(route.Tokens)-1]
	fmt.Fprintf(w, "amount out: %s %s\n", formatAmount(route.AmountOut, last.Decimals), last.Symbol)
}

func printNeighbours(w io.Writer, lg *router.LiquidityGraph, base common.Address) error {
	baseToken, ok := lg.Node(base)
	if !ok {
		return errors.Wrapf(router.ErrUnknownToken, "base token %s", base.Hex())
	}
	neighbours, err := lg.Neighbours(base)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "pairs against %s:\n", baseToken.Symbol)
	for _, n := range neighbours {
		fmt.Fprintf(w, "  %s %s: %s %s / %s %s\n",
			database.AddressString(n.Token.Address), n.Token.Symbol,
			formatAmount(n.BaseReserve, baseToken.Decimals), baseToken.Symbol,
			formatAmount(n.TokenReserve, n.Token.Decimals), n.Token.Symbol)
	}
	return nil
}

// formatAmount renders an integer amount in whole token units.
func formatAmount(amount *big.Int, decimals uint8) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
