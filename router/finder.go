package router

import (
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Hop is one swap of a route.
type Hop struct {
	Pair       common.Address
	TokenIn    *TokenNode
	TokenOut   *TokenNode
	ReserveIn  *big.Int
	ReserveOut *big.Int
	AmountIn   *big.Int
	AmountOut  *big.Int
}

type Route struct {
	Tokens    []*TokenNode
	Hops      []Hop
	AmountIn  *big.Int
	AmountOut *big.Int

	// Cost is -ln of the product of the marginal rates along the route.
	Cost float64
}

func (r *Route) String() string {
	symbols := make([]string, len(r.Tokens))
	for i, t := range r.Tokens {
		symbols[i] = t.Symbol
	}
	return strings.Join(symbols, " -> ")
}

// rateGraph weighs a hop x->y with the negative log of its marginal rate, so
// the cheapest path is the one with the best product of rates. Costs can be
// negative.
type rateGraph struct {
	*simple.WeightedUndirectedGraph
}

func (g rateGraph) Weight(xid, yid int64) (float64, bool) {
	if xid == yid {
		return 0, true
	}
	e := g.WeightedEdgeBetween(xid, yid)
	if e == nil {
		return math.Inf(1), false
	}
	return e.Weight(), true
}

// potentialGraph is the rate graph plus a virtual source with a zero cost
// edge to every token.
type potentialGraph struct {
	rateGraph
	source graph.Node
}

func (g potentialGraph) Node(id int64) graph.Node {
	if id == g.source.ID() {
		return g.source
	}
	return g.rateGraph.Node(id)
}

func (g potentialGraph) Nodes() graph.Nodes {
	nodes := graph.NodesOf(g.rateGraph.Nodes())
	return iterator.NewOrderedNodes(append(nodes, g.source))
}

func (g potentialGraph) From(id int64) graph.Nodes {
	if id == g.source.ID() {
		return g.rateGraph.Nodes()
	}
	return g.rateGraph.From(id)
}

func (g potentialGraph) HasEdgeBetween(xid, yid int64) bool {
	if xid == g.source.ID() || yid == g.source.ID() {
		return xid != yid
	}
	return g.rateGraph.HasEdgeBetween(xid, yid)
}

func (g potentialGraph) Edge(uid, vid int64) graph.Edge {
	if uid == g.source.ID() {
		if n := g.rateGraph.Node(vid); n != nil {
			return simple.Edge{F: g.source, T: n}
		}
		return nil
	}
	return g.rateGraph.Edge(uid, vid)
}

func (g potentialGraph) Weight(xid, yid int64) (float64, bool) {
	if xid == g.source.ID() {
		return 0, true
	}
	return g.rateGraph.Weight(xid, yid)
}

// reweightedGraph shifts every cost by the potentials of its endpoints:
// w(x,y) + h(x) - h(y). With h the distances from the virtual source all
// costs are non-negative and every path between two tokens changes by the
// same amount, so shortest paths are kept.
type reweightedGraph struct {
	rateGraph
	potential map[int64]float64
}

func (g reweightedGraph) Weight(xid, yid int64) (float64, bool) {
	w, ok := g.rateGraph.Weight(xid, yid)
	if !ok || xid == yid {
		return w, ok
	}
	return math.Max(0, w+g.potential[xid]-g.potential[yid]), true
}

// shiftedGraph adds the largest log rate of the graph to every cost, making
// all of them non-negative. Paths with more hops pay the shift once per hop.
type shiftedGraph struct {
	rateGraph
	shift float64
}

func (g shiftedGraph) Weight(xid, yid int64) (float64, bool) {
	w, ok := g.rateGraph.Weight(xid, yid)
	if !ok || xid == yid {
		return w, ok
	}
	return math.Max(0, w+g.shift), true
}

type searchGraph interface {
	graph.Graph
	path.Weighted
}

// Finder searches routes on a fixed liquidity graph with Dijkstra over
// non-negative costs.
type Finder struct {
	graph   *LiquidityGraph
	rates   rateGraph
	search  searchGraph
	maxHops int
}

// NewFinder prepares a finder over lg. The costs are fixed here, pairs added
// to lg afterwards are searched with stale costs. maxHops of zero means
// unbounded.
//
// Costs are made non-negative with potentials from one Bellman-Ford pass, so
// each search finds the path with the best product of marginal rates. If the
// graph holds an arbitrage loop no such potentials exist and a constant
// shift is used instead, which favours routes with fewer hops.
func NewFinder(lg *LiquidityGraph, maxHops int) *Finder {
	f := &Finder{
		graph:   lg,
		rates:   rateGraph{lg.g},
		maxHops: maxHops,
	}

	if potential, ok := f.potentials(); ok {
		f.search = reweightedGraph{rateGraph: f.rates, potential: potential}
	} else {
		shift := lg.maxLogRate()
		zlog.Warn("Liquidity graph has an arbitrage loop, searching with costs shifted by %.6f", shift)
		f.search = shiftedGraph{rateGraph: f.rates, shift: shift}
	}
	return f
}

// potentials returns the distance of every token from a virtual source, or
// false if a negative cycle is reachable.
func (f *Finder) potentials() (map[int64]float64, bool) {
	source := f.graph.g.NewNode()
	shortest, ok := path.BellmanFordFrom(source, potentialGraph{rateGraph: f.rates, source: source})
	if !ok {
		return nil, false
	}

	h := make(map[int64]float64)
	nodes := f.graph.g.Nodes()
	for nodes.Next() {
		id := nodes.Node().ID()
		h[id] = shortest.WeightTo(id)
	}
	return h, true
}

// FindRoute finds the path from one token to another with the best product
// of marginal rates and replays amountIn along it with exact integer math.
func (f *Finder) FindRoute(from, to common.Address, amountIn *big.Int) (*Route, error) {
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	src, ok := f.graph.Node(from)
	if !ok {
		return nil, errors.Wrap(ErrUnknownToken, from.Hex())
	}
	dst, ok := f.graph.Node(to)
	if !ok {
		return nil, errors.Wrap(ErrUnknownToken, to.Hex())
	}

	if src.ID() == dst.ID() {
		return &Route{
			Tokens:    []*TokenNode{src},
			AmountIn:  new(big.Int).Set(amountIn),
			AmountOut: new(big.Int).Set(amountIn),
		}, nil
	}

	nodes, cost := path.DijkstraFromTo(src, dst, f.search)
	if len(nodes) < 2 || math.IsInf(cost, 1) {
		return nil, errors.Wrapf(ErrNoRouteFound, "%s to %s", src.Symbol, dst.Symbol)
	}
	if f.maxHops > 0 && len(nodes)-1 > f.maxHops {
		return nil, errors.Wrapf(ErrNoRouteFound, "best route has %d hops, limit is %d", len(nodes)-1, f.maxHops)
	}

	return f.replay(nodes, amountIn)
}

func (f *Finder) replay(nodes []graph.Node, amountIn *big.Int) (*Route, error) {
	route := &Route{
		Tokens:   make([]*TokenNode, len(nodes)),
		Hops:     make([]Hop, 0, len(nodes)-1),
		AmountIn: new(big.Int).Set(amountIn),
	}
	for i, n := range nodes {
		route.Tokens[i] = n.(*TokenNode)
	}

	amount := route.AmountIn
	for i := 0; i+1 < len(nodes); i++ {
		e := f.graph.edge(nodes[i].ID(), nodes[i+1].ID())
		if e == nil {
			return nil, errors.Errorf("route has no pool between tokens %d and %d", nodes[i].ID(), nodes[i+1].ID())
		}

		out, err := GetAmountOut(amount, e.ReserveF, e.ReserveT)
		if err != nil {
			return nil, err
		}
		route.Hops = append(route.Hops, Hop{
			Pair:       e.Pair,
			TokenIn:    e.F,
			TokenOut:   e.T,
			ReserveIn:  e.ReserveF,
			ReserveOut: e.ReserveT,
			AmountIn:   amount,
			AmountOut:  out,
		})
		route.Cost += e.Weight()
		amount = out
	}
	route.AmountOut = amount

	return route, nil
}
