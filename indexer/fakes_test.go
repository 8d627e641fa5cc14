package indexer

import (
	"context"
	"fmt"
	"maps"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"amm-indexer/chain"
	"amm-indexer/database"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var factoryAddress = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")

func tokenAddress(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

func pairAddress(n uint64) common.Address {
	return common.BigToAddress(new(big.Int).SetUint64(0x9000 + n))
}

type fakePair struct {
	token0, token1     common.Address
	reserve0, reserve1 *big.Int
}

// fakeChain serves a factory whose pair n trades token n against token n+1.
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	pairs    []fakePair
	failPair map[uint64]int // remaining PairInfo failures, negative fails forever
	failMeta map[common.Address]bool
	blockErr error

	metadataDelay time.Duration
	onPairInfo    func(number uint64)

	pairInfoCalls map[uint64]int
	metaCalls     atomic.Int64
	inFlight      atomic.Int64
	maxInFlight   atomic.Int64

	events *eventLog
}

func newFakeChain(pairs int, events *eventLog) *fakeChain {
	f := &fakeChain{
		head:          100,
		failPair:      make(map[uint64]int),
		failMeta:      make(map[common.Address]bool),
		pairInfoCalls: make(map[uint64]int),
		events:        events,
	}
	f.addPairs(pairs)
	return f
}

func (f *fakeChain) addPairs(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := 0; i < n; i++ {
		k := len(f.pairs)
		f.pairs = append(f.pairs, fakePair{
			token0:   tokenAddress(k),
			token1:   tokenAddress(k + 1),
			reserve0: big.NewInt(int64(1000 * (k + 1))),
			reserve1: big.NewInt(int64(2000 * (k + 1))),
		})
	}
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.blockErr != nil {
		return 0, f.blockErr
	}
	return f.head, nil
}

func (f *fakeChain) BlockByNumber(ctx context.Context, height uint64) (chain.BlockInfo, error) {
	return chain.BlockInfo{Height: height, Hash: common.BigToHash(new(big.Int).SetUint64(height))}, nil
}

func (f *fakeChain) AllPairsLength(ctx context.Context, factory common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return uint64(len(f.pairs)), nil
}

func (f *fakeChain) AllPairs(ctx context.Context, factory common.Address, number uint64) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if number >= uint64(len(f.pairs)) {
		return common.Address{}, &chain.ReadError{Op: "allPairs", Err: chain.ErrZeroAddress}
	}
	return pairAddress(number), nil
}

func (f *fakeChain) PairInfo(ctx context.Context, pair common.Address) (chain.PairInfo, error) {
	number := pair.Big().Uint64() - 0x9000

	if f.onPairInfo != nil {
		f.onPairInfo(number)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.pairInfoCalls[number]++

	if n := f.failPair[number]; n != 0 {
		if n > 0 {
			f.failPair[number] = n - 1
		}
		return chain.PairInfo{}, &chain.ReadError{Op: "pairInfo", Err: fmt.Errorf("execution reverted")}
	}

	p := f.pairs[number]
	return chain.PairInfo{Token0: p.token0, Token1: p.token1, Reserve0: p.reserve0, Reserve1: p.reserve1}, nil
}

func (f *fakeChain) TokenMetadata(ctx context.Context, token common.Address) (chain.TokenMetadata, error) {
	f.metaCalls.Add(1)

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.metadataDelay > 0 {
		time.Sleep(f.metadataDelay)
	}
	f.events.add("fetched " + token.Hex())

	f.mu.Lock()
	fail := f.failMeta[token]
	f.mu.Unlock()
	if fail {
		return chain.UnknownToken(), &chain.ReadError{Op: "tokenMetadata", Err: fmt.Errorf("execution reverted")}
	}

	k := token.Big().Int64() - 0x1000
	return chain.TokenMetadata{
		Name:     fmt.Sprintf("Token %d", k),
		Symbol:   fmt.Sprintf("T%d", k),
		Decimals: 18,
	}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type memPair struct {
	id, factoryID, number, token0, token1 uint64
	address                               common.Address
}

type memReserve struct {
	pairID, blockID    uint64
	reserve0, reserve1 string
}

type memState struct {
	nextID    uint64
	blocks    map[common.Hash]uint64
	factories map[common.Address]uint64
	tokens    map[common.Address]uint64
	metadata  map[uint64]chain.TokenMetadata
	pairs     map[uint64]memPair // by number
	reserves  map[[2]uint64]memReserve
	skipped   map[uint64]string
}

func (s *memState) clone() memState {
	c := *s
	c.blocks = maps.Clone(s.blocks)
	c.factories = maps.Clone(s.factories)
	c.tokens = maps.Clone(s.tokens)
	c.metadata = maps.Clone(s.metadata)
	c.pairs = maps.Clone(s.pairs)
	c.reserves = maps.Clone(s.reserves)
	c.skipped = maps.Clone(s.skipped)
	return c
}

// memStore is an in-memory Store. Transactions are serialized and roll back
// by restoring a copy of the state taken when they began.
type memStore struct {
	mu    sync.Mutex
	state memState

	failInsertPair    map[uint64]bool
	failRecordSkipped error
	failClearSkipped  error
	events            *eventLog
}

func newMemStore(events *eventLog) *memStore {
	return &memStore{
		state: memState{
			blocks:    make(map[common.Hash]uint64),
			factories: make(map[common.Address]uint64),
			tokens:    make(map[common.Address]uint64),
			metadata:  make(map[uint64]chain.TokenMetadata),
			pairs:     make(map[uint64]memPair),
			reserves:  make(map[[2]uint64]memReserve),
			skipped:   make(map[uint64]string),
		},
		failInsertPair: make(map[uint64]bool),
		events:         events,
	}
}

func (s *memStore) id() uint64 {
	s.state.nextID++
	return s.state.nextID
}

func (s *memStore) InsertBlock(ctx context.Context, height uint64, hash common.Hash) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.state.blocks[hash]; ok {
		return id, nil
	}
	id := s.id()
	s.state.blocks[hash] = id
	return id, nil
}

func (s *memStore) UpsertFactory(ctx context.Context, address common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.state.factories[address]; ok {
		return id, nil
	}
	id := s.id()
	s.state.factories[address] = id
	return id, nil
}

func (s *memStore) MaxIndexedPairNumber(ctx context.Context, factoryID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := int64(-1)
	for n := range s.state.pairs {
		latest = max(latest, int64(n))
	}
	return latest, nil
}

func (s *memStore) SkippedPairNumbers(ctx context.Context, factoryID uint64) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var numbers []uint64
	for n := range s.state.skipped {
		numbers = append(numbers, n)
	}
	return numbers, nil
}

func (s *memStore) RecordSkippedPair(ctx context.Context, factoryID, number, blockID uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failRecordSkipped != nil {
		return s.failRecordSkipped
	}

	s.state.skipped[number] = reason
	return nil
}

func (s *memStore) PairsWithoutReserveAt(ctx context.Context, factoryID, blockID uint64) ([]database.IndexedPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pairs []database.IndexedPair
	for _, p := range s.state.pairs {
		if _, ok := s.state.reserves[[2]uint64{p.id, blockID}]; ok {
			continue
		}
		pairs = append(pairs, database.IndexedPair{ID: p.id, Number: p.number, Address: database.AddressString(p.address)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Number < pairs[j].Number })
	return pairs, nil
}

func (s *memStore) FactoryID(ctx context.Context, address common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.state.factories[address]
	if !ok {
		return 0, database.ErrFactoryNotFound
	}
	return id, nil
}

// StreamPairsWithLatestReserves gives every pair its newest reserve row at or
// below the latest block with reserves.
func (s *memStore) StreamPairsWithLatestReserves(ctx context.Context, factoryID uint64, fn func(*database.PairReserves) error) (uint64, error) {
	s.mu.Lock()
	state := s.state.clone()
	s.mu.Unlock()

	var latest uint64
	for key := range state.reserves {
		latest = max(latest, key[1])
	}
	if latest == 0 {
		return 0, database.ErrNoReserves
	}

	addresses := make(map[uint64]common.Address)
	for addr, id := range state.tokens {
		addresses[id] = addr
	}

	var numbers []uint64
	for n := range state.pairs {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	for _, n := range numbers {
		p := state.pairs[n]

		var newest *memReserve
		for key, r := range state.reserves {
			if key[0] == p.id && key[1] <= latest && (newest == nil || key[1] > newest.blockID) {
				r := r
				newest = &r
			}
		}
		if newest == nil {
			continue
		}

		md0, md1 := state.metadata[p.token0], state.metadata[p.token1]
		err := fn(&database.PairReserves{
			PairID:         p.id,
			PairAddress:    database.AddressString(p.address),
			Token0ID:       p.token0,
			Token0Address:  database.AddressString(addresses[p.token0]),
			Token0Symbol:   md0.Symbol,
			Token0Decimals: md0.Decimals,
			Token1ID:       p.token1,
			Token1Address:  database.AddressString(addresses[p.token1]),
			Token1Symbol:   md1.Symbol,
			Token1Decimals: md1.Decimals,
			BlockID:        newest.blockID,
			Reserve0:       decimal.RequireFromString(newest.reserve0),
			Reserve1:       decimal.RequireFromString(newest.reserve1),
		})
		if err != nil {
			return 0, err
		}
	}
	return latest, nil
}

func (s *memStore) InTx(ctx context.Context, fn func(tx StoreTx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.state.clone()
	defer func() {
		if r := recover(); r != nil {
			s.state = saved
			panic(r)
		}
		if err != nil {
			s.state = saved
		}
	}()

	return fn(&memTx{s: s})
}

func (s *memStore) pairCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.pairs)
}

func (s *memStore) snapshot() memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

type memTx struct {
	s *memStore
}

func (tx *memTx) TokenIDsByAddress(token0, token1 common.Address) (database.TokenIDs, error) {
	var ids database.TokenIDs
	ids.Token0, ids.Has0 = tx.s.state.tokens[token0]
	ids.Token1, ids.Has1 = tx.s.state.tokens[token1]
	return ids, nil
}

func (tx *memTx) UpsertToken(address common.Address, md chain.TokenMetadata) (uint64, error) {
	tx.s.events.add("upsert " + address.Hex())

	if id, ok := tx.s.state.tokens[address]; ok {
		return id, nil
	}
	id := tx.s.id()
	tx.s.state.tokens[address] = id
	tx.s.state.metadata[id] = md
	return id, nil
}

func (tx *memTx) InsertPair(factoryID, number uint64, address common.Address, token0ID, token1ID uint64) (uint64, error) {
	if tx.s.failInsertPair[number] {
		return 0, fmt.Errorf("deadlock found")
	}
	if _, ok := tx.s.state.pairs[number]; ok {
		return 0, database.ErrPairExists
	}

	id := tx.s.id()
	tx.s.state.pairs[number] = memPair{
		id: id, factoryID: factoryID, number: number,
		token0: token0ID, token1: token1ID, address: address,
	}
	return id, nil
}

func (tx *memTx) InsertReserve(pairID, blockID uint64, reserve0, reserve1 *big.Int) error {
	key := [2]uint64{pairID, blockID}
	if _, ok := tx.s.state.reserves[key]; ok {
		return nil
	}
	tx.s.state.reserves[key] = memReserve{pairID: pairID, blockID: blockID, reserve0: reserve0.String(), reserve1: reserve1.String()}
	return nil
}

func (tx *memTx) ClearSkippedPair(factoryID, number uint64) error {
	if tx.s.failClearSkipped != nil {
		return tx.s.failClearSkipped
	}
	delete(tx.s.state.skipped, number)
	return nil
}
