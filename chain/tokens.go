package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const (
	UnknownName     = "unknown"
	UnknownSymbol   = "unknown"
	UnknownDecimals = 18
)

type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// UnknownToken is the metadata stored for tokens whose ERC20 getters cannot
// be read.
func UnknownToken() TokenMetadata {
	return TokenMetadata{
		Name:     UnknownName,
		Symbol:   UnknownSymbol,
		Decimals: UnknownDecimals,
	}
}

// TokenMetadata reads name, symbol and decimals in one batch request. On any
// failure the error is returned together with UnknownToken().
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error) {
	name := newCall(token, &ERC20ABI, "name")
	symbol := newCall(token, &ERC20ABI, "symbol")
	decimals := newCall(token, &ERC20ABI, "decimals")

	if err := c.batchCall(ctx, name, symbol, decimals); err != nil {
		return UnknownToken(), &ReadError{Op: "tokenMetadata", Err: err}
	}

	var (
		md  TokenMetadata
		err error
	)
	if md.Name, err = unpackText(name); err != nil {
		return UnknownToken(), &ReadError{Op: "tokenMetadata", Err: errors.Wrap(err, token.Hex())}
	}
	if md.Symbol, err = unpackText(symbol); err != nil {
		return UnknownToken(), &ReadError{Op: "tokenMetadata", Err: errors.Wrap(err, token.Hex())}
	}

	out, err := decimals.unpack()
	if err != nil {
		return UnknownToken(), &ReadError{Op: "tokenMetadata", Err: errors.Wrap(err, token.Hex())}
	}
	d, ok := out[0].(uint8)
	if !ok {
		return UnknownToken(), &ReadError{Op: "tokenMetadata", Err: errors.Errorf("%s: unexpected decimals type %T", token.Hex(), out[0])}
	}
	md.Decimals = d

	return md, nil
}
