package main

import (
	"bytes"
	"context"
	"math/big"
	"net/http/httptest"
	"testing"

	"amm-indexer/config"
	"amm-indexer/database"
	"amm-indexer/indexer"
	"amm-indexer/router"
	indexer_testing "amm-indexer/testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	factory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	usdc    = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth    = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	dai     = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

const usdcToDaiRoute = `route: USDC -> WETH -> DAI
  USDC -> WETH via 0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc: 1000 -> 0.332322289155923718
  WETH -> DAI via 0xa478c2975ab1ea89e8196811f51a7b7ade33eb11: 0.332322289155923718 -> 1003.965728257672333219
amount out: 1003.965728257672333219 DAI
`

func TestPrintRoute(t *testing.T) {
	lg := fixtureGraph()

	route, err := router.NewFinder(lg, 0).FindRoute(usdc, dai, big.NewInt(1_000_000_000))
	require.NoError(t, err)

	var buf bytes.Buffer
	printRoute(&buf, route)
	assert.Equal(t, usdcToDaiRoute, buf.String())

	buf.Reset()
	require.NoError(t, printNeighbours(&buf, lg, weth))
	assert.Equal(t, `pairs against WETH:
  0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48 USDC: 10000 WETH / 30000000 USDC
  0x6b175474e89094c44da98b954eedeac495271d0f DAI: 6600 WETH / 20000000 DAI
`, buf.String())
}

func TestFindRouteUnknownBaseToken(t *testing.T) {
	lg := fixtureGraph()
	mkr := common.HexToAddress("0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2")

	var buf bytes.Buffer
	err := findRoute(&buf, lg, config.RouterConfig{BaseToken: mkr.Hex()}, usdc, dai, big.NewInt(1_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, usdcToDaiRoute, buf.String())

	buf.Reset()
	err = findRoute(&buf, lg, config.RouterConfig{BaseToken: weth.Hex(), MaxHops: 1}, usdc, dai, big.NewInt(1_000_000_000))
	require.ErrorIs(t, err, router.ErrNoRouteFound)
	assert.Contains(t, buf.String(), "pairs against WETH:")
}

// fixtureGraph holds the pools of testing/testdata/fixture.json.
func fixtureGraph() *router.LiquidityGraph {
	lg := router.NewLiquidityGraph()
	usdcNode := router.TokenNode{TokenID: 1, Address: usdc, Symbol: "USDC", Decimals: 6}
	wethNode := router.TokenNode{TokenID: 2, Address: weth, Symbol: "WETH", Decimals: 18}
	daiNode := router.TokenNode{TokenID: 3, Address: dai, Symbol: "DAI", Decimals: 18}

	lg.AddPair(router.PairLiquidity{
		Pair:     common.HexToAddress("0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"),
		Token0:   usdcNode,
		Token1:   wethNode,
		Reserve0: mustBig("30000000000000"),
		Reserve1: mustBig("10000000000000000000000"),
	})
	lg.AddPair(router.PairLiquidity{
		Pair:     common.HexToAddress("0xa478c2975ab1ea89e8196811f51a7b7ade33eb11"),
		Token0:   daiNode,
		Token1:   wethNode,
		Reserve0: mustBig("20000000000000000000000000"),
		Reserve1: mustBig("6600000000000000000000"),
	})
	return lg
}

func TestIntegration(t *testing.T) {
	dbCfg, ok := database.TestDBConfig()
	if !ok {
		t.Skip("TEST_DB_HOST not set")
	}
	ctx := context.Background()

	mc, err := indexer_testing.NewMockChainFromFixture("testing/testdata/fixture.json")
	require.NoError(t, err)
	srv := httptest.NewServer(mc.Handler())
	defer srv.Close()

	cfg := initConfig(dbCfg, srv.URL)
	require.NoError(t, cfg.Validate())

	summary, err := runIndexer(ctx, cfg)
	require.NoError(t, err, "Could not run the indexer")
	assert.Equal(t, indexer.Summary{BlockHeight: 19000000, Dispatched: 3, Indexed: 3}, summary)

	// second run over the same tables finds nothing new
	cfg.DB.DropTableAtStart = false
	summary, err = runIndexer(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Dispatched)

	lg, err := loadGraph(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, lg.NodeCount())
	assert.Equal(t, 3, lg.EdgeCount())

	route, err := router.NewFinder(lg, cfg.Router.MaxHops).FindRoute(usdc, dai, big.NewInt(1_000_000_000))
	require.NoError(t, err)

	var buf bytes.Buffer
	printRoute(&buf, route)
	assert.Equal(t, usdcToDaiRoute, buf.String())

	// a later head with one more pair keeps the earlier pairs in the graph
	mc.SetHead(19000100)
	mc.AddPair(indexer_testing.MockPair{
		Address:  common.HexToAddress("0xae461ca67b15dc8dc81ce7615e0320da1a9ab8d5"),
		Token0:   dai,
		Token1:   usdc,
		Reserve0: mustBig("1000000000000000000000"),
		Reserve1: mustBig("1000000000"),
	})
	summary, err = runIndexer(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, indexer.Summary{BlockHeight: 19000100, Dispatched: 4, Indexed: 1, Refreshed: 3}, summary)

	lg, err = loadGraph(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, lg.NodeCount())
	assert.Equal(t, 4, lg.EdgeCount())
}

func initConfig(dbCfg config.DBConfig, nodeURL string) *config.Config {
	cfg := &config.Config{
		DB: dbCfg,
		Chain: config.ChainConfig{
			NodeURL:       nodeURL,
			TimeoutMillis: 5000,
		},
		Logger: config.LoggerConfig{
			Level:       "DEBUG",
			MaxFileSize: 10,
			Console:     true,
		},
		Indexer: config.IndexerConfig{
			FactoryAddress:   factory.Hex(),
			Workers:          2,
			RetryAttempts:    config.DefaultRetryAttempts,
			RetryDelayMillis: 10,
			TokenCacheSize:   config.DefaultTokenCacheSize,
			RepairSkipped:    true,
		},
		Router: config.RouterConfig{
			BaseToken: weth.Hex(),
			MaxHops:   3,
		},
	}

	config.GlobalConfigCallback.Call(cfg)

	return cfg
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid integer " + s)
	}
	return v
}
