package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

func (c *Client) AllPairsLength(ctx context.Context, factory common.Address) (uint64, error) {
	call := newCall(factory, &FactoryABI, "allPairsLength")
	if err := c.batchCall(ctx, call); err != nil {
		return 0, &ReadError{Op: "allPairsLength", Err: err}
	}

	out, err := call.unpack()
	if err != nil {
		return 0, &ReadError{Op: "allPairsLength", Err: err}
	}

	length, ok := out[0].(*big.Int)
	if !ok || !length.IsUint64() {
		return 0, &ReadError{Op: "allPairsLength", Err: errors.Errorf("invalid length %v", out[0])}
	}
	return length.Uint64(), nil
}

func (c *Client) AllPairs(ctx context.Context, factory common.Address, number uint64) (common.Address, error) {
	call := newCall(factory, &FactoryABI, "allPairs", new(big.Int).SetUint64(number))
	if err := c.batchCall(ctx, call); err != nil {
		return common.Address{}, &ReadError{Op: "allPairs", Err: err}
	}

	addr, err := unpackAddress(call)
	if err != nil {
		return common.Address{}, &ReadError{Op: "allPairs", Err: errors.Wrapf(err, "pair %d", number)}
	}
	return addr, nil
}

// PairInfo reads token0, token1 and the current reserves of a pair in one
// batch request.
func (c *Client) PairInfo(ctx context.Context, pair common.Address) (PairInfo, error) {
	token0 := newCall(pair, &PairABI, "token0")
	token1 := newCall(pair, &PairABI, "token1")
	reserves := newCall(pair, &PairABI, "getReserves")

	if err := c.batchCall(ctx, token0, token1, reserves); err != nil {
		return PairInfo{}, &ReadError{Op: "pairInfo", Err: err}
	}

	var (
		info PairInfo
		err  error
	)
	if info.Token0, err = unpackAddress(token0); err != nil {
		return PairInfo{}, &ReadError{Op: "pairInfo", Err: errors.Wrap(err, pair.Hex())}
	}
	if info.Token1, err = unpackAddress(token1); err != nil {
		return PairInfo{}, &ReadError{Op: "pairInfo", Err: errors.Wrap(err, pair.Hex())}
	}

	out, err := reserves.unpack()
	if err != nil {
		return PairInfo{}, &ReadError{Op: "pairInfo", Err: errors.Wrap(err, pair.Hex())}
	}

	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return PairInfo{}, &ReadError{Op: "pairInfo", Err: errors.Errorf("%s: unexpected reserves types %T, %T", pair.Hex(), out[0], out[1])}
	}
	info.Reserve0, info.Reserve1 = r0, r1

	return info, nil
}
