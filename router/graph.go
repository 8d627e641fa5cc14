package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"

	"amm-indexer/database"

	"github.com/ethereum/go-ethereum/common"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/simple"
)

// TokenNode is a token vertex of the liquidity graph, identified by the
// token's database id.
type TokenNode struct {
	TokenID  int64
	Address  common.Address
	Symbol   string
	Decimals uint8
}

func (n *TokenNode) ID() int64 {
	return n.TokenID
}

// Attributes labels the node with the token symbol in DOT output.
func (n *TokenNode) Attributes() []encoding.Attribute {
	return []encoding.Attribute{{Key: "label", Value: n.Symbol}}
}

// PairLiquidity is a pair with reserves oriented to its token0 and token1.
type PairLiquidity struct {
	Pair     common.Address
	Token0   TokenNode
	Token1   TokenNode
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// pairEdge is a pool between two tokens. ReserveF belongs to F and ReserveT
// to T, reversing the edge swaps both.
type pairEdge struct {
	F, T     *TokenNode
	Pair     common.Address
	ReserveF *big.Int
	ReserveT *big.Int
}

func (e *pairEdge) From() graph.Node { return e.F }
func (e *pairEdge) To() graph.Node   { return e.T }

func (e *pairEdge) ReversedEdge() graph.Edge {
	return &pairEdge{F: e.T, T: e.F, Pair: e.Pair, ReserveF: e.ReserveT, ReserveT: e.ReserveF}
}

// Weight is the negative log of the marginal rate from F to T after the fee.
// It is negative whenever one F buys more than one T.
func (e *pairEdge) Weight() float64 {
	return -logRate(e.ReserveF, e.ReserveT)
}

// depth is the pool invariant k = reserveF*reserveT.
func (e *pairEdge) depth() *big.Int {
	if e.ReserveF == nil || e.ReserveT == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(e.ReserveF, e.ReserveT)
}

// LiquidityGraph is an undirected token graph with one edge per token pair.
type LiquidityGraph struct {
	g         *simple.WeightedUndirectedGraph
	byAddress map[common.Address]*TokenNode
	// BlockID is the block the reserves were read at, zero when built by hand.
	BlockID uint64
}

func NewLiquidityGraph() *LiquidityGraph {
	return &LiquidityGraph{
		g:         simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		byAddress: make(map[common.Address]*TokenNode),
	}
}

// AddPair adds the pool as an edge between its tokens. A pair of a token
// with itself is ignored. When two pools connect the same tokens the deeper
// one is kept. It reports whether the edge was stored.
func (lg *LiquidityGraph) AddPair(p PairLiquidity) bool {
	if p.Token0.TokenID == p.Token1.TokenID {
		return false
	}

	from := lg.node(p.Token0)
	to := lg.node(p.Token1)
	e := &pairEdge{F: from, T: to, Pair: p.Pair, ReserveF: p.Reserve0, ReserveT: p.Reserve1}

	if existing := lg.edge(from.ID(), to.ID()); existing != nil {
		if e.depth().Cmp(existing.depth()) <= 0 {
			return false
		}
	}
	lg.g.SetWeightedEdge(e)
	return true
}

func (lg *LiquidityGraph) node(t TokenNode) *TokenNode {
	if n, ok := lg.g.Node(t.TokenID).(*TokenNode); ok {
		return n
	}
	n := &t
	lg.g.AddNode(n)
	lg.byAddress[n.Address] = n
	return n
}

// edge returns the pool between x and y oriented from x, or nil.
func (lg *LiquidityGraph) edge(xid, yid int64) *pairEdge {
	e := lg.g.WeightedEdgeBetween(xid, yid)
	if e == nil {
		return nil
	}
	return e.(*pairEdge)
}

// Node returns the token with the given address.
func (lg *LiquidityGraph) Node(address common.Address) (*TokenNode, bool) {
	n, ok := lg.byAddress[address]
	return n, ok
}

func (lg *LiquidityGraph) NodeCount() int {
	return lg.g.Nodes().Len()
}

func (lg *LiquidityGraph) EdgeCount() int {
	return lg.g.Edges().Len()
}

// BaseReserve is the pool between a base token and one of its neighbours.
type BaseReserve struct {
	Token        *TokenNode
	Pair         common.Address
	BaseReserve  *big.Int
	TokenReserve *big.Int
}

// Neighbours lists every token pooled against base with the reserves of
// that pool, ordered by token id.
func (lg *LiquidityGraph) Neighbours(base common.Address) ([]BaseReserve, error) {
	b, ok := lg.Node(base)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, base.Hex())
	}

	var res []BaseReserve
	to := lg.g.From(b.ID())
	for to.Next() {
		e := lg.edge(b.ID(), to.Node().ID())
		res = append(res, BaseReserve{
			Token:        e.T,
			Pair:         e.Pair,
			BaseReserve:  e.ReserveF,
			TokenReserve: e.ReserveT,
		})
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Token.TokenID < res[j].Token.TokenID
	})
	return res, nil
}

// maxLogRate is the largest log rate over both directions of every edge, or
// zero if no rate exceeds one.
func (lg *LiquidityGraph) maxLogRate() float64 {
	shift := 0.0
	edges := lg.g.WeightedEdges()
	for edges.Next() {
		e := edges.WeightedEdge().(*pairEdge)
		shift = math.Max(shift, logRate(e.ReserveF, e.ReserveT))
		shift = math.Max(shift, logRate(e.ReserveT, e.ReserveF))
	}
	return shift
}

// ReserveSource reads the latest reserve snapshot of a factory.
type ReserveSource interface {
	FactoryID(ctx context.Context, address common.Address) (uint64, error)
	StreamPairsWithLatestReserves(ctx context.Context, factoryID uint64, fn func(*database.PairReserves) error) (uint64, error)
}

// BuildGraph loads every pair of the factory with its reserves at the latest
// indexed block. A pair without a snapshot at that block, such as one whose
// refresh failed, is added with its newest earlier snapshot. A factory
// without reserves gives an empty graph.
func BuildGraph(ctx context.Context, src ReserveSource, factory common.Address) (*LiquidityGraph, error) {
	factoryID, err := src.FactoryID(ctx, factory)
	if err != nil {
		return nil, fmt.Errorf("BuildGraph: %w", err)
	}

	lg := NewLiquidityGraph()
	var pairs, dropped int
	var rowBlocks []uint64
	blockID, err := src.StreamPairsWithLatestReserves(ctx, factoryID, func(row *database.PairReserves) error {
		pairs++
		if !lg.AddPair(pairFromRow(row)) {
			dropped++
		}
		rowBlocks = append(rowBlocks, row.BlockID)
		return nil
	})
	if errors.Is(err, database.ErrNoReserves) {
		zlog.Warn("Factory %s has no reserves yet", factory.Hex())
		return lg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BuildGraph: %w", err)
	}

	lg.BlockID = blockID
	if n := countOlder(rowBlocks, blockID); n > 0 {
		zlog.Warn("%d pairs have no reserves at block id %d, using their newest earlier snapshot", n, blockID)
	}
	zlog.Info("Built liquidity graph at block id %d: %d pairs, %d tokens, %d edges (%d pairs not used)",
		blockID, pairs, lg.NodeCount(), lg.EdgeCount(), dropped)
	return lg, nil
}

func countOlder(blockIDs []uint64, latest uint64) int {
	n := 0
	for _, id := range blockIDs {
		if id < latest {
			n++
		}
	}
	return n
}

func pairFromRow(row *database.PairReserves) PairLiquidity {
	return PairLiquidity{
		Pair: common.HexToAddress(row.PairAddress),
		Token0: TokenNode{
			TokenID:  int64(row.Token0ID),
			Address:  common.HexToAddress(row.Token0Address),
			Symbol:   row.Token0Symbol,
			Decimals: row.Token0Decimals,
		},
		Token1: TokenNode{
			TokenID:  int64(row.Token1ID),
			Address:  common.HexToAddress(row.Token1Address),
			Symbol:   row.Token1Symbol,
			Decimals: row.Token1Decimals,
		},
		Reserve0: row.Reserve0.BigInt(),
		Reserve1: row.Reserve1.BigInt(),
	}
}
