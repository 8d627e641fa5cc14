package chain

import (
	"bytes"
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

type contractCall struct {
	to     common.Address
	abi    *abi.ABI
	method string
	args   []interface{}

	result hexutil.Bytes
	err    error
}

func newCall(to common.Address, contract *abi.ABI, method string, args ...interface{}) *contractCall {
	return &contractCall{to: to, abi: contract, method: method, args: args}
}

// unpack decodes the raw result of the call into its output values.
func (cc *contractCall) unpack() ([]interface{}, error) {
	if cc.err != nil {
		return nil, cc.err
	}
	if len(cc.result) == 0 {
		return nil, errors.Wrap(ErrEmptyResult, cc.method)
	}

	out, err := cc.abi.Unpack(cc.method, cc.result)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", cc.method)
	}
	return out, nil
}

// batchCall sends all calls as eth_call requests of a single JSON-RPC batch.
// A transport failure fails the whole batch, per-call failures are stored on
// the calls themselves.
func (c *Client) batchCall(ctx context.Context, calls ...*contractCall) error {
	elems := make([]rpc.BatchElem, len(calls))
	for i, cc := range calls {
		data, err := cc.abi.Pack(cc.method, cc.args...)
		if err != nil {
			return errors.Wrapf(err, "pack %s", cc.method)
		}

		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callArgs(cc.to, data), "latest"},
			Result: &cc.result,
		}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.rpc.BatchCallContext(ctx, elems); err != nil {
		return err
	}

	for i := range elems {
		calls[i].err = elems[i].Error
	}
	return nil
}

func callArgs(to common.Address, data []byte) map[string]interface{} {
	return map[string]interface{}{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
}

func unpackAddress(cc *contractCall) (common.Address, error) {
	out, err := cc.unpack()
	if err != nil {
		return common.Address{}, err
	}

	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.Errorf("%s: unexpected output type %T", cc.method, out[0])
	}
	if addr == (common.Address{}) {
		return common.Address{}, errors.Wrap(ErrZeroAddress, cc.method)
	}
	return addr, nil
}

// unpackText decodes a string output. Some older tokens declare name and
// symbol as bytes32, which is decoded with trailing zero bytes trimmed.
func unpackText(cc *contractCall) (string, error) {
	if cc.err == nil && len(cc.result) == 32 {
		return strings.ToValidUTF8(string(bytes.TrimRight(cc.result, "\x00")), ""), nil
	}

	out, err := cc.unpack()
	if err != nil {
		return "", err
	}

	s, ok := out[0].(string)
	if !ok {
		return "", errors.Errorf("%s: unexpected output type %T", cc.method, out[0])
	}
	return strings.ToValidUTF8(s, ""), nil
}
