package indexer

import (
	"context"

	"amm-indexer/chain"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type TokenReader interface {
	TokenMetadata(ctx context.Context, token common.Address) (chain.TokenMetadata, error)
}

// TokenInfo is the outcome of a metadata read. When the token's getters
// could not be read, Metadata holds chain.UnknownToken() and FetchErr the
// reason.
type TokenInfo struct {
	Metadata  chain.TokenMetadata
	Defaulted bool
	FetchErr  error
}

type ResolvedTokens struct {
	Token0, Token1 uint64

	addr0, addr1 common.Address
}

// TokenResolver maps the two tokens of a pair to store ids, creating
// missing tokens from their on-chain metadata. Ids are cached once the
// transaction that created or read them has committed.
type TokenResolver struct {
	chain   TokenReader
	cache   *lru.Cache
	group   singleflight.Group
	metrics *Metrics
}

func NewTokenResolver(c TokenReader, cacheSize int, metrics *Metrics) (*TokenResolver, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "token cache")
	}

	return &TokenResolver{
		chain:   c,
		cache:   cache,
		metrics: metrics,
	}, nil
}

// Resolve returns the ids of both tokens inside tx. Existing tokens are read
// without chain calls. When both are missing their metadata is read
// concurrently and both reads finish before either token is written.
func (r *TokenResolver) Resolve(ctx context.Context, tx StoreTx, token0, token1 common.Address) (ResolvedTokens, error) {
	res := ResolvedTokens{addr0: token0, addr1: token1}

	id0, ok0 := r.cached(token0)
	id1, ok1 := r.cached(token1)
	if ok0 && ok1 {
		r.metrics.TokenCacheHits.Inc()
		res.Token0, res.Token1 = id0, id1
		return res, nil
	}

	ids, err := tx.TokenIDsByAddress(token0, token1)
	if err != nil {
		return res, err
	}

	switch {
	case ids.Has0 && ids.Has1:
		res.Token0, res.Token1 = ids.Token0, ids.Token1

	case ids.Has0:
		res.Token0 = ids.Token0
		res.Token1, err = r.upsert(tx, token1, r.fetch(ctx, token1))

	case ids.Has1:
		res.Token1 = ids.Token1
		res.Token0, err = r.upsert(tx, token0, r.fetch(ctx, token0))

	default:
		var info0, info1 TokenInfo

		var g errgroup.Group
		g.Go(func() error {
			info0 = r.fetch(ctx, token0)
			return nil
		})
		g.Go(func() error {
			info1 = r.fetch(ctx, token1)
			return nil
		})
		_ = g.Wait() // fetch never fails, unreadable tokens get defaults

		res.Token0, err = r.upsert(tx, token0, info0)
		if err != nil {
			return res, err
		}
		res.Token1, err = r.upsert(tx, token1, info1)
	}

	return res, err
}

// Remember caches the ids of a committed pair.
func (r *TokenResolver) Remember(res ResolvedTokens) {
	r.cache.Add(res.addr0, res.Token0)
	r.cache.Add(res.addr1, res.Token1)
}

func (r *TokenResolver) cached(token common.Address) (uint64, bool) {
	v, ok := r.cache.Get(token)
	if !ok {
		return 0, false
	}
	return v.(uint64), true
}

// fetch reads token metadata. Concurrent reads of the same token share one
// chain request.
func (r *TokenResolver) fetch(ctx context.Context, token common.Address) TokenInfo {
	v, _, _ := r.group.Do(token.Hex(), func() (interface{}, error) {
		md, err := r.chain.TokenMetadata(ctx, token)
		if err != nil {
			r.metrics.TokenFetches.WithLabelValues("defaulted").Inc()
			zlog.Warn("Token %s metadata unavailable, storing defaults: %v", token.Hex(), err)
			return TokenInfo{Metadata: chain.UnknownToken(), Defaulted: true, FetchErr: err}, nil
		}

		r.metrics.TokenFetches.WithLabelValues("ok").Inc()
		return TokenInfo{Metadata: md}, nil
	})

	return v.(TokenInfo)
}

func (r *TokenResolver) upsert(tx StoreTx, token common.Address, info TokenInfo) (uint64, error) {
	return tx.UpsertToken(token, info.Metadata)
}
