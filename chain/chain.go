package chain

import (
	"context"
	"math/big"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Client reads UniswapV2 factory, pair and ERC20 state from a JSON-RPC node.
// Contract reads that belong together are sent as one JSON-RPC batch.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	timeout time.Duration
}

// BlockInfo identifies the block a run of the indexer is anchored to.
type BlockInfo struct {
	Height uint64
	Hash   common.Hash
}

// PairInfo holds the token order and reserves of a pair as stored on-chain.
type PairInfo struct {
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

func DialRPCNode(ctx context.Context, nodeURL *url.URL, timeout time.Duration) (*Client, error) {
	c, err := rpc.DialContext(ctx, nodeURL.String())
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc node")
	}

	return NewClient(c, timeout), nil
}

func NewClient(c *rpc.Client, timeout time.Duration) *Client {
	return &Client{
		rpc:     c,
		eth:     ethclient.NewClient(c),
		timeout: timeout,
	}
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, &ReadError{Op: "eth_blockNumber", Err: err}
	}

	return n, nil
}

// BlockByNumber only decodes the number and hash of the block, so it works
// for chains whose header layout differs from Ethereum mainnet.
func (c *Client) BlockByNumber(ctx context.Context, height uint64) (BlockInfo, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var head *struct {
		Number hexutil.Uint64 `json:"number"`
		Hash   common.Hash    `json:"hash"`
	}
	err := c.rpc.CallContext(ctx, &head, "eth_getBlockByNumber", hexutil.EncodeUint64(height), false)
	if err == nil && head == nil {
		err = ethereum.NotFound
	}
	if err != nil {
		return BlockInfo{}, &ReadError{Op: "eth_getBlockByNumber", Err: err}
	}

	return BlockInfo{Height: uint64(head.Number), Hash: head.Hash}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
