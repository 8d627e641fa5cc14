package chain_test

import (
	"context"
	"math/big"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"amm-indexer/chain"
	indexer_testing "amm-indexer/testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	factory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	usdc    = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth    = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	mkr     = common.HexToAddress("0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2")
	pairUW  = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	pairMW  = common.HexToAddress("0xC2aDdA861F89bBB333c90c492cB837741916A225")
)

func newTestClient(t *testing.T) (*chain.Client, *indexer_testing.MockChain) {
	mc, err := indexer_testing.NewMockChainFromFixture("../testing/testdata/fixture.json")
	require.NoError(t, err)

	srv := httptest.NewServer(mc.Handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client, err := chain.DialRPCNode(context.Background(), u, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client, mc
}

func TestBlocks(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	head, err := client.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(19000000), head)

	block, err := client.BlockByNumber(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, chain.BlockInfo{Height: head, Hash: indexer_testing.BlockHash(head)}, block)

	_, err = client.BlockByNumber(ctx, head+1)
	var readErr *chain.ReadError
	require.ErrorAs(t, err, &readErr)
}

func TestFactory(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	length, err := client.AllPairsLength(ctx, factory)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), length)

	pair, err := client.AllPairs(ctx, factory, 0)
	require.NoError(t, err)
	assert.Equal(t, pairUW, pair)

	_, err = client.AllPairs(ctx, factory, 3)
	var readErr *chain.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "allPairs", readErr.Op)
}

func TestPairInfoIsOneBatch(t *testing.T) {
	client, mc := newTestClient(t)

	requests, calls := mc.Requests(), mc.Calls()

	info, err := client.PairInfo(context.Background(), pairUW)
	require.NoError(t, err)

	assert.Equal(t, usdc, info.Token0)
	assert.Equal(t, weth, info.Token1)
	assert.Equal(t, "30000000000000", info.Reserve0.String())
	assert.Equal(t, "10000000000000000000000", info.Reserve1.String())

	assert.Equal(t, requests+1, mc.Requests())
	assert.Equal(t, calls+3, mc.Calls())
}

func TestPairInfoErrors(t *testing.T) {
	client, mc := newTestClient(t)
	ctx := context.Background()

	mc.FailCalls(pairUW, "getReserves", 1)
	_, err := client.PairInfo(ctx, pairUW)
	var readErr *chain.ReadError
	require.ErrorAs(t, err, &readErr)

	// the injected failure is consumed
	_, err = client.PairInfo(ctx, pairUW)
	require.NoError(t, err)

	// an address without code returns empty results
	_, err = client.PairInfo(ctx, common.HexToAddress("0xdead"))
	require.ErrorIs(t, err, chain.ErrEmptyResult)

	zeroPair := common.HexToAddress("0xbeef")
	mc.AddPair(indexer_testing.MockPair{Address: zeroPair, Token1: weth, Reserve0: big.NewInt(0), Reserve1: big.NewInt(0)})
	_, err = client.PairInfo(ctx, zeroPair)
	require.ErrorIs(t, err, chain.ErrZeroAddress)
}

func TestTokenMetadata(t *testing.T) {
	client, mc := newTestClient(t)
	ctx := context.Background()

	md, err := client.TokenMetadata(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, chain.TokenMetadata{Name: "USD Coin", Symbol: "USDC", Decimals: 6}, md)

	md, err = client.TokenMetadata(ctx, mkr)
	require.NoError(t, err)
	assert.Equal(t, chain.TokenMetadata{Name: "Maker", Symbol: "MKR", Decimals: 18}, md)

	mc.FailCalls(weth, "decimals", -1)
	md, err = client.TokenMetadata(ctx, weth)
	var readErr *chain.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, chain.UnknownToken(), md)
}

func TestUnreachableNode(t *testing.T) {
	srv := httptest.NewServer(nil)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	srv.Close()

	client, err := chain.DialRPCNode(context.Background(), u, time.Second)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.BlockNumber(context.Background())
	var readErr *chain.ReadError
	require.ErrorAs(t, err, &readErr)

	_, err = client.PairInfo(context.Background(), pairUW)
	require.ErrorAs(t, err, &readErr)
}
