package database

import (
	"context"
	"database/sql"
	"math/big"
	"strings"
	"unicode/utf8"

	"amm-indexer/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxTextLength = 255

// Store is the relational store of the indexer. Run-level rows are written
// directly, everything belonging to one pair goes through InTx.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Tx is a transaction scoped to the indexing of a single pair.
type Tx struct {
	db *gorm.DB
}

// TokenIDs is the result of the token existence check of a pair.
type TokenIDs struct {
	Token0, Token1 uint64
	Has0, Has1     bool
}

// AddressString is the form addresses are stored in.
func AddressString(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// InTx runs fn in a READ COMMITTED transaction. The transaction is rolled
// back if fn returns an error or panics, otherwise committed.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.WithContext(ctx).Transaction(
		func(gtx *gorm.DB) error {
			return fn(&Tx{db: gtx})
		},
		&sql.TxOptions{Isolation: sql.LevelReadCommitted},
	)
}

// InsertBlock returns the id of the block row with the given hash, creating
// it if needed.
func (s *Store) InsertBlock(ctx context.Context, height uint64, hash common.Hash) (uint64, error) {
	block := &Block{Height: height, Hash: hash.Hex()}
	err := insertOrGet(s.db.WithContext(ctx), block, &Block{Hash: block.Hash})
	if err != nil {
		return 0, storeError("insertBlock", err)
	}
	return block.ID, nil
}

func (s *Store) UpsertFactory(ctx context.Context, address common.Address) (uint64, error) {
	factory := &Factory{Address: AddressString(address)}
	err := insertOrGet(s.db.WithContext(ctx), factory, &Factory{Address: factory.Address})
	if err != nil {
		return 0, storeError("upsertFactory", err)
	}
	return factory.ID, nil
}

func (s *Store) FactoryID(ctx context.Context, address common.Address) (uint64, error) {
	var factory Factory
	err := s.db.WithContext(ctx).Where(&Factory{Address: AddressString(address)}).First(&factory).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, storeError("factoryID", errors.Wrap(ErrFactoryNotFound, address.Hex()))
	}
	if err != nil {
		return 0, storeError("factoryID", err)
	}
	return factory.ID, nil
}

// MaxIndexedPairNumber returns the highest persisted pair number of the
// factory, or -1 if it has no pairs yet.
func (s *Store) MaxIndexedPairNumber(ctx context.Context, factoryID uint64) (int64, error) {
	var latest sql.NullInt64
	err := s.db.WithContext(ctx).
		Model(&Pair{}).
		Select("MAX(number)").
		Where("factory_id = ?", factoryID).
		Row().
		Scan(&latest)
	if err != nil {
		return 0, storeError("maxIndexedPairNumber", err)
	}
	if !latest.Valid {
		return -1, nil
	}
	return latest.Int64, nil
}

func (s *Store) SkippedPairNumbers(ctx context.Context, factoryID uint64) ([]uint64, error) {
	var numbers []uint64
	err := s.db.WithContext(ctx).
		Model(&SkippedPair{}).
		Where("factory_id = ?", factoryID).
		Order("number").
		Pluck("number", &numbers).Error
	if err != nil {
		return nil, storeError("skippedPairNumbers", err)
	}
	return numbers, nil
}

// RecordSkippedPair marks a pair number as given up on. Recording the same
// number again refreshes the block and reason.
func (s *Store) RecordSkippedPair(ctx context.Context, factoryID, number, blockID uint64, reason string) error {
	skipped := &SkippedPair{
		FactoryID: factoryID,
		Number:    number,
		BlockID:   blockID,
		Reason:    truncate(reason, 1024),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "factory_id"}, {Name: "number"}},
			DoUpdates: clause.AssignmentColumns([]string{"block_id", "reason"}),
		}).
		Create(skipped).Error
	return storeError("recordSkippedPair", err)
}

// PairsWithoutReserveAt lists the factory's pairs that have no reserve
// snapshot at blockID.
func (s *Store) PairsWithoutReserveAt(ctx context.Context, factoryID, blockID uint64) ([]IndexedPair, error) {
	var pairs []IndexedPair
	err := s.db.WithContext(ctx).
		Table("pairs AS p").
		Select("p.id AS id, p.number AS number, p.address AS address").
		Joins("LEFT JOIN reserves AS r ON r.pair_id = p.id AND r.block_id = ?", blockID).
		Where("p.factory_id = ? AND r.id IS NULL", factoryID).
		Order("p.number").
		Scan(&pairs).Error
	if err != nil {
		return nil, storeError("pairsWithoutReserveAt", err)
	}
	return pairs, nil
}

func (s *Store) TokenByAddress(ctx context.Context, address common.Address) (*Token, error) {
	var token Token
	err := s.db.WithContext(ctx).Where(&Token{Address: AddressString(address)}).First(&token).Error
	if err != nil {
		return nil, storeError("tokenByAddress", err)
	}
	return &token, nil
}

// StreamPairsWithLatestReserves calls fn for every pair of the factory with
// its newest reserve snapshot at or below the latest block that has reserve
// rows for the factory. A pair whose snapshot at that block is missing comes
// with its newest earlier one, PairReserves.BlockID tells which. All rows
// come from one read-only transaction. The latest block id is returned.
func (s *Store) StreamPairsWithLatestReserves(ctx context.Context, factoryID uint64, fn func(*PairReserves) error) (uint64, error) {
	var blockID uint64

	err := s.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			var latest sql.NullInt64
			err := tx.Table("reserves AS r").
				Select("MAX(r.block_id)").
				Joins("JOIN pairs AS p ON p.id = r.pair_id").
				Where("p.factory_id = ?", factoryID).
				Row().
				Scan(&latest)
			if err != nil {
				return err
			}
			if !latest.Valid {
				return ErrNoReserves
			}
			blockID = uint64(latest.Int64)

			newest := tx.Table("reserves").
				Select("pair_id, MAX(block_id) AS block_id").
				Where("block_id <= ?", blockID).
				Group("pair_id")

			rows, err := tx.Table("reserves AS r").
				Select(`p.id AS pair_id, p.address AS pair_address,
					t0.id AS token0_id, t0.address AS token0_address, t0.symbol AS token0_symbol, t0.decimals AS token0_decimals,
					t1.id AS token1_id, t1.address AS token1_address, t1.symbol AS token1_symbol, t1.decimals AS token1_decimals,
					r.block_id AS block_id, r.reserve0 AS reserve0, r.reserve1 AS reserve1`).
				Joins("JOIN (?) AS n ON n.pair_id = r.pair_id AND n.block_id = r.block_id", newest).
				Joins("JOIN pairs AS p ON p.id = r.pair_id").
				Joins("JOIN tokens AS t0 ON t0.id = p.token0_id").
				Joins("JOIN tokens AS t1 ON t1.id = p.token1_id").
				Where("p.factory_id = ?", factoryID).
				Order("p.number").
				Rows()
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var pr PairReserves
				if err := tx.ScanRows(rows, &pr); err != nil {
					return err
				}
				if err := fn(&pr); err != nil {
					return err
				}
			}
			return rows.Err()
		},
		&sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	)
	if err != nil {
		return 0, storeError("streamPairsWithLatestReserves", err)
	}

	return blockID, nil
}

// TokenIDsByAddress looks up both tokens of a pair with one query.
func (tx *Tx) TokenIDsByAddress(token0, token1 common.Address) (TokenIDs, error) {
	a0, a1 := AddressString(token0), AddressString(token1)

	var tokens []Token
	err := tx.db.Select("id", "address").Where("address IN ?", []string{a0, a1}).Find(&tokens).Error
	if err != nil {
		return TokenIDs{}, storeError("tokenIDsByAddress", err)
	}

	var ids TokenIDs
	for _, t := range tokens {
		if t.Address == a0 {
			ids.Token0, ids.Has0 = t.ID, true
		}
		if t.Address == a1 {
			ids.Token1, ids.Has1 = t.ID, true
		}
	}
	return ids, nil
}

// UpsertToken returns the id of the token row with the given address,
// creating it from md if needed. A concurrent insert of the same address
// resolves to the row that won.
func (tx *Tx) UpsertToken(address common.Address, md chain.TokenMetadata) (uint64, error) {
	token := &Token{
		Address:  AddressString(address),
		Name:     truncate(md.Name, maxTextLength),
		Symbol:   truncate(md.Symbol, maxTextLength),
		Decimals: md.Decimals,
	}
	err := insertOrGet(tx.db, token, &Token{Address: token.Address})
	if err != nil {
		return 0, storeError("upsertToken", err)
	}
	return token.ID, nil
}

// InsertPair fails with ErrPairExists if the pair number or address is
// already taken.
func (tx *Tx) InsertPair(factoryID, number uint64, address common.Address, token0ID, token1ID uint64) (uint64, error) {
	pair := &Pair{
		FactoryID: factoryID,
		Number:    number,
		Address:   AddressString(address),
		Token0ID:  token0ID,
		Token1ID:  token1ID,
	}
	err := tx.db.Omit(clause.Associations).Create(pair).Error
	if isDuplicateKey(err) {
		return 0, storeError("insertPair", errors.Wrapf(ErrPairExists, "number %d", number))
	}
	if err != nil {
		return 0, storeError("insertPair", err)
	}
	return pair.ID, nil
}

// InsertReserve appends a reserve snapshot. A second snapshot of the same
// pair at the same block is ignored.
func (tx *Tx) InsertReserve(pairID, blockID uint64, reserve0, reserve1 *big.Int) error {
	reserve := &Reserve{
		PairID:   pairID,
		BlockID:  blockID,
		Reserve0: decimal.NewFromBigInt(reserve0, 0),
		Reserve1: decimal.NewFromBigInt(reserve1, 0),
	}
	err := tx.db.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(reserve).Error
	return storeError("insertReserve", err)
}

func (tx *Tx) ClearSkippedPair(factoryID, number uint64) error {
	err := tx.db.
		Where("factory_id = ? AND number = ?", factoryID, number).
		Delete(&SkippedPair{}).Error
	return storeError("clearSkippedPair", err)
}

// insertOrGet inserts row unless a row with the same unique key exists, and
// loads the stored row into row either way.
func insertOrGet[T any](db *gorm.DB, row *T, key *T) error {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil && !isDuplicateKey(res.Error) {
		return res.Error
	}
	if res.Error == nil && res.RowsAffected > 0 {
		return nil
	}

	var stored T
	if err := db.Where(key).First(&stored).Error; err != nil {
		return err
	}
	*row = stored
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
