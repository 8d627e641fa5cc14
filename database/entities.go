package database

import (
	"github.com/shopspring/decimal"
)

// BaseEntity is an abstract entity, all other entities should be derived from it
type BaseEntity struct {
	ID uint64 `gorm:"primaryKey"`
}

// Block is the chain head a run of the indexer writes its reserve
// snapshots against.
type Block struct {
	BaseEntity
	Height uint64 `gorm:"index"`
	Hash   string `gorm:"type:varchar(66);uniqueIndex"`
}

type Factory struct {
	BaseEntity
	Address string `gorm:"type:varchar(42);uniqueIndex"`
}

type Token struct {
	BaseEntity
	Address  string `gorm:"type:varchar(42);uniqueIndex"`
	Name     string `gorm:"type:varchar(255)"`
	Symbol   string `gorm:"type:varchar(255)"`
	Decimals uint8
}

// Pair numbers are the factory's allPairs indices. Token0 and Token1 keep
// the on-chain order.
type Pair struct {
	BaseEntity
	FactoryID uint64 `gorm:"uniqueIndex:idx_pairs_factory_number"`
	Number    uint64 `gorm:"uniqueIndex:idx_pairs_factory_number"`
	Address   string `gorm:"type:varchar(42);uniqueIndex"`
	Token0ID  uint64 `gorm:"column:token0_id;index"`
	Token1ID  uint64 `gorm:"column:token1_id;index"`

	Factory *Factory `gorm:"foreignKey:FactoryID"`
	Token0  *Token   `gorm:"foreignKey:Token0ID"`
	Token1  *Token   `gorm:"foreignKey:Token1ID"`
}

// Reserve rows are append-only, one per pair and block.
type Reserve struct {
	BaseEntity
	PairID   uint64          `gorm:"uniqueIndex:idx_reserves_pair_block"`
	BlockID  uint64          `gorm:"uniqueIndex:idx_reserves_pair_block;index"`
	Reserve0 decimal.Decimal `gorm:"type:decimal(65,0)"`
	Reserve1 decimal.Decimal `gorm:"type:decimal(65,0)"`

	Pair  *Pair  `gorm:"foreignKey:PairID"`
	Block *Block `gorm:"foreignKey:BlockID"`
}

// SkippedPair marks a pair number that was given up on after all retry
// attempts failed.
type SkippedPair struct {
	BaseEntity
	FactoryID uint64 `gorm:"uniqueIndex:idx_skipped_pairs_factory_number"`
	Number    uint64 `gorm:"uniqueIndex:idx_skipped_pairs_factory_number"`
	BlockID   uint64
	Reason    string `gorm:"type:varchar(1024)"`
}

// PairReserves is one row of the liquidity snapshot read by the router.
type PairReserves struct {
	PairID         uint64          `gorm:"column:pair_id"`
	PairAddress    string          `gorm:"column:pair_address"`
	Token0ID       uint64          `gorm:"column:token0_id"`
	Token0Address  string          `gorm:"column:token0_address"`
	Token0Symbol   string          `gorm:"column:token0_symbol"`
	Token0Decimals uint8           `gorm:"column:token0_decimals"`
	Token1ID       uint64          `gorm:"column:token1_id"`
	Token1Address  string          `gorm:"column:token1_address"`
	Token1Symbol   string          `gorm:"column:token1_symbol"`
	Token1Decimals uint8           `gorm:"column:token1_decimals"`
	BlockID        uint64          `gorm:"column:block_id"`
	Reserve0       decimal.Decimal `gorm:"column:reserve0"`
	Reserve1       decimal.Decimal `gorm:"column:reserve1"`
}

// IndexedPair identifies an already persisted pair.
type IndexedPair struct {
	ID      uint64
	Number  uint64
	Address string
}
