package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"amm-indexer/chain"
	indexer_testing "amm-indexer/testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// CopyFactory snapshots the first count pairs of a factory, their tokens and
// reserves into a fixture the mock chain can serve.
func CopyFactory(
	ctx context.Context, client *chain.Client, factory common.Address, count uint64,
) (*indexer_testing.Fixture, error) {
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	length, err := client.AllPairsLength(ctx, factory)
	if err != nil {
		return nil, err
	}
	count = min(count, length)

	fx := &indexer_testing.Fixture{
		Head:    head,
		Factory: factory,
		Tokens:  make(map[common.Address]indexer_testing.MockToken),
	}

	for i := uint64(0); i < count; i++ {
		pair, err := client.AllPairs(ctx, factory, i)
		if err != nil {
			return nil, err
		}

		info, err := client.PairInfo(ctx, pair)
		if err != nil {
			return nil, errors.Wrapf(err, "pair %d", i)
		}

		fx.Pairs = append(fx.Pairs, indexer_testing.MockPair{
			Address:  pair,
			Token0:   info.Token0,
			Token1:   info.Token1,
			Reserve0: info.Reserve0,
			Reserve1: info.Reserve1,
		})

		for _, token := range []common.Address{info.Token0, info.Token1} {
			if _, ok := fx.Tokens[token]; ok {
				continue
			}

			md, err := client.TokenMetadata(ctx, token)
			fx.Tokens[token] = indexer_testing.MockToken{
				Name:     md.Name,
				Symbol:   md.Symbol,
				Decimals: md.Decimals,
				Broken:   err != nil,
			}
		}
	}

	return fx, nil
}

// Assuming that the node is running on 8545, this copies the first pairs of
// the given factory so the indexer can be replayed against the mock chain.
func main() {
	nodeURL := flag.String("node", "http://localhost:8545", "JSON-RPC node URL")
	factory := flag.String("factory", "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f", "UniswapV2 factory address")
	count := flag.Uint64("count", 100, "number of pairs to copy")
	out := flag.String("out", "fixture.json", "output file")
	flag.Parse()

	ctx := context.Background()

	u, err := url.Parse(*nodeURL)
	if err != nil {
		fmt.Println(err)
		panic(err)
	}

	client, err := chain.DialRPCNode(ctx, u, 10*time.Second)
	if err != nil {
		fmt.Println(err)
		panic(err)
	}
	defer client.Close()

	fx, err := CopyFactory(ctx, client, common.HexToAddress(*factory), *count)
	if err != nil {
		fmt.Println(err)
		panic(err)
	}

	content, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		fmt.Println(err)
		panic(err)
	}
	err = os.WriteFile(*out, content, 0644)
	if err != nil {
		fmt.Println(err)
		panic(err)
	}
}
