package benchmarks

import (
	"math/big"
	"math/rand"
	"testing"

	"amm-indexer/router"

	"github.com/ethereum/go-ethereum/common"
)

// randomGraph links every token to the next one and to a few random others.
// Reserves follow one global price per token, so the graph has no arbitrage
// loops.
func randomGraph(tokens, pairsPerToken int) *router.LiquidityGraph {
	rng := rand.New(rand.NewSource(1))

	nodes := make([]router.TokenNode, tokens)
	prices := make([]int64, tokens)
	for i := range nodes {
		nodes[i] = router.TokenNode{
			TokenID:  int64(i + 1),
			Address:  common.BigToAddress(big.NewInt(int64(0x1000 + i))),
			Symbol:   "T",
			Decimals: 18,
		}
		prices[i] = 1 + rng.Int63n(1000)
	}

	lg := router.NewLiquidityGraph()
	n := 0
	for i := range nodes {
		for k := 0; k < pairsPerToken; k++ {
			j := rng.Intn(tokens)
			if k == 0 {
				j = (i + 1) % tokens
			}
			depth := big.NewInt(1 + rng.Int63n(1_000_000))
			lg.AddPair(router.PairLiquidity{
				Pair:     common.BigToAddress(big.NewInt(int64(0x900000 + n))),
				Token0:   nodes[i],
				Token1:   nodes[j],
				Reserve0: new(big.Int).Mul(depth, big.NewInt(prices[j])),
				Reserve1: new(big.Int).Mul(depth, big.NewInt(prices[i])),
			})
			n++
		}
	}
	return lg
}

func benchmarkFindRoute(b *testing.B, tokens, pairsPerToken int) {
	lg := randomGraph(tokens, pairsPerToken)
	finder := router.NewFinder(lg, 0)

	from := common.BigToAddress(big.NewInt(0x1000))
	to := common.BigToAddress(big.NewInt(int64(0x1000 + tokens - 1)))
	amount := big.NewInt(1_000_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := finder.FindRoute(from, to, amount); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFindRoute100(b *testing.B) {
	benchmarkFindRoute(b, 100, 4)
}

func BenchmarkFindRoute1000(b *testing.B) {
	benchmarkFindRoute(b, 1000, 4)
}

func BenchmarkBuildGraph(b *testing.B) {
	for i := 0; i < b.N; i++ {
		randomGraph(1000, 4)
	}
}
