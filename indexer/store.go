package indexer

import (
	"context"
	"math/big"

	"amm-indexer/chain"
	"amm-indexer/database"

	"github.com/ethereum/go-ethereum/common"
)

// ChainReader is the subset of chain.Client the indexer reads from.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, height uint64) (chain.BlockInfo, error)
	AllPairsLength(ctx context.Context, factory common.Address) (uint64, error)
	AllPairs(ctx context.Context, factory common.Address, number uint64) (common.Address, error)
	PairInfo(ctx context.Context, pair common.Address) (chain.PairInfo, error)
	TokenMetadata(ctx context.Context, token common.Address) (chain.TokenMetadata, error)
}

type Store interface {
	InsertBlock(ctx context.Context, height uint64, hash common.Hash) (uint64, error)
	UpsertFactory(ctx context.Context, address common.Address) (uint64, error)
	MaxIndexedPairNumber(ctx context.Context, factoryID uint64) (int64, error)
	SkippedPairNumbers(ctx context.Context, factoryID uint64) ([]uint64, error)
	RecordSkippedPair(ctx context.Context, factoryID, number, blockID uint64, reason string) error
	PairsWithoutReserveAt(ctx context.Context, factoryID, blockID uint64) ([]database.IndexedPair, error)
	InTx(ctx context.Context, fn func(tx StoreTx) error) error
}

// StoreTx holds the writes of a single pair. They commit or roll back
// together.
type StoreTx interface {
	TokenIDsByAddress(token0, token1 common.Address) (database.TokenIDs, error)
	UpsertToken(address common.Address, md chain.TokenMetadata) (uint64, error)
	InsertPair(factoryID, number uint64, address common.Address, token0ID, token1ID uint64) (uint64, error)
	InsertReserve(pairID, blockID uint64, reserve0, reserve1 *big.Int) error
	ClearSkippedPair(factoryID, number uint64) error
}

type databaseStore struct {
	*database.Store
}

// NewDatabaseStore adapts database.Store to the Store interface.
func NewDatabaseStore(s *database.Store) Store {
	return databaseStore{Store: s}
}

func (s databaseStore) InTx(ctx context.Context, fn func(tx StoreTx) error) error {
	return s.Store.InTx(ctx, func(tx *database.Tx) error {
		return fn(tx)
	})
}
