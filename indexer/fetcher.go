package indexer

import (
	"context"

	"amm-indexer/chain"

	"github.com/ethereum/go-ethereum/common"
)

// PairFetcher resolves a pair number of a factory to the pair address, its
// tokens and current reserves.
type PairFetcher struct {
	chain ChainReader
}

func NewPairFetcher(c ChainReader) *PairFetcher {
	return &PairFetcher{chain: c}
}

func (f *PairFetcher) Fetch(ctx context.Context, factory common.Address, number uint64) (common.Address, chain.PairInfo, error) {
	pair, err := f.chain.AllPairs(ctx, factory, number)
	if err != nil {
		return common.Address{}, chain.PairInfo{}, err
	}

	info, err := f.chain.PairInfo(ctx, pair)
	if err != nil {
		return common.Address{}, chain.PairInfo{}, err
	}

	return pair, info, nil
}
