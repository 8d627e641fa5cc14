package testing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"amm-indexer/chain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
)

// MockPair is a UniswapV2 pair served by MockChain.
type MockPair struct {
	Address  common.Address `json:"address"`
	Token0   common.Address `json:"token0"`
	Token1   common.Address `json:"token1"`
	Reserve0 *big.Int       `json:"reserve0"`
	Reserve1 *big.Int       `json:"reserve1"`
}

// MockToken is an ERC20 token served by MockChain. Bytes32 tokens return
// name and symbol as bytes32, Broken tokens revert on every getter.
type MockToken struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Bytes32  bool   `json:"bytes32,omitempty"`
	Broken   bool   `json:"broken,omitempty"`
}

// Fixture is the JSON snapshot of a factory written by chain_copy.
type Fixture struct {
	Head    uint64                       `json:"head"`
	Factory common.Address               `json:"factory"`
	Pairs   []MockPair                   `json:"pairs"`
	Tokens  map[common.Address]MockToken `json:"tokens"`
}

// MockChain answers the JSON-RPC subset the indexer uses: eth_blockNumber,
// eth_getBlockByNumber and eth_call against one factory, its pairs and tokens.
// Single and batch requests are supported.
type MockChain struct {
	mu       sync.Mutex
	head     uint64
	factory  common.Address
	pairs    []MockPair
	pairIdx  map[common.Address]int
	tokens   map[common.Address]MockToken
	failures map[string]int

	requests atomic.Int64
	calls    atomic.Int64
}

func NewMockChain(factory common.Address, head uint64) *MockChain {
	return &MockChain{
		head:     head,
		factory:  factory,
		pairIdx:  make(map[common.Address]int),
		tokens:   make(map[common.Address]MockToken),
		failures: make(map[string]int),
	}
}

func NewMockChainFromFixture(fileName string) (*MockChain, error) {
	file, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}

	var fx Fixture
	if err := json.Unmarshal(file, &fx); err != nil {
		return nil, err
	}

	mc := NewMockChain(fx.Factory, fx.Head)
	for addr, t := range fx.Tokens {
		mc.AddToken(addr, t)
	}
	for _, p := range fx.Pairs {
		mc.AddPair(p)
	}
	return mc, nil
}

func (mc *MockChain) AddToken(addr common.Address, t MockToken) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.tokens[addr] = t
}

func (mc *MockChain) AddPair(p MockPair) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.pairIdx[p.Address] = len(mc.pairs)
	mc.pairs = append(mc.pairs, p)
}

func (mc *MockChain) SetReserves(pair common.Address, r0, r1 *big.Int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	i := mc.pairIdx[pair]
	mc.pairs[i].Reserve0, mc.pairs[i].Reserve1 = r0, r1
}

func (mc *MockChain) SetHead(head uint64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.head = head
}

// FailCalls makes the next n eth_calls of method on addr return an error.
// A negative n fails every call.
func (mc *MockChain) FailCalls(addr common.Address, method string, n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.failures[failureKey(addr, method)] = n
}

// Requests is the number of HTTP requests served. A batch counts once.
func (mc *MockChain) Requests() int64 {
	return mc.requests.Load()
}

// Calls is the number of eth_call requests served, batched or not.
func (mc *MockChain) Calls() int64 {
	return mc.calls.Load()
}

// BlockHash is the hash the mock reports for the block at height.
func BlockHash(height uint64) common.Hash {
	return common.BytesToHash([]byte(fmt.Sprintf("block-%d", height)))
}

func (mc *MockChain) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", mc.serveRPC).Methods(http.MethodPost)
	return r
}

type rpcRequest struct {
	Version string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (mc *MockChain) serveRPC(writer http.ResponseWriter, request *http.Request) {
	mc.requests.Add(1)

	body, err := io.ReadAll(request.Body)
	if err != nil {
		http.Error(writer, "Invalid request body", http.StatusBadRequest)
		return
	}

	writer.Header().Set("Content-Type", "application/json")

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []rpcRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			http.Error(writer, "Invalid json", http.StatusBadRequest)
			return
		}

		resps := make([]rpcResponse, len(reqs))
		for i := range reqs {
			resps[i] = mc.handle(&reqs[i])
		}
		writeJSON(writer, resps)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(writer, "Invalid json", http.StatusBadRequest)
		return
	}
	writeJSON(writer, mc.handle(&req))
}

func writeJSON(writer http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		fmt.Printf("Error writing response: %v\n", err)
	}
}

func (mc *MockChain) handle(req *rpcRequest) rpcResponse {
	resp := rpcResponse{Version: "2.0", ID: req.ID}

	result, err := mc.dispatch(req)
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}
	return resp
}

func (mc *MockChain) dispatch(req *rpcRequest) (interface{}, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	switch req.Method {
	case "eth_blockNumber":
		return hexutil.Uint64(mc.head), nil

	case "eth_getBlockByNumber":
		if len(req.Params) == 0 {
			return nil, fmt.Errorf("missing block number")
		}
		var tag string
		if err := json.Unmarshal(req.Params[0], &tag); err != nil {
			return nil, err
		}
		height := mc.head
		if tag != "latest" {
			h, err := hexutil.DecodeUint64(tag)
			if err != nil {
				return nil, err
			}
			height = h
		}
		if height > mc.head {
			return nil, nil
		}
		return map[string]interface{}{
			"number": hexutil.Uint64(height),
			"hash":   BlockHash(height),
		}, nil

	case "eth_call":
		mc.calls.Add(1)
		return mc.ethCall(req)

	default:
		return nil, fmt.Errorf("method %s not supported", req.Method)
	}
}

type callMsg struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Input hexutil.Bytes  `json:"input"`
}

func (mc *MockChain) ethCall(req *rpcRequest) (interface{}, error) {
	if len(req.Params) == 0 {
		return nil, fmt.Errorf("missing call arguments")
	}

	var msg callMsg
	if err := json.Unmarshal(req.Params[0], &msg); err != nil {
		return nil, err
	}
	data := msg.Data
	if len(data) == 0 {
		data = msg.Input
	}
	if len(data) < 4 {
		return hexutil.Bytes{}, nil
	}

	var (
		contract *abi.ABI
		handler  func(method *abi.Method, args []interface{}) ([]byte, error)
	)
	if msg.To == mc.factory {
		contract, handler = &chain.FactoryABI, mc.factoryCall
	} else if i, ok := mc.pairIdx[msg.To]; ok {
		contract = &chain.PairABI
		handler = func(method *abi.Method, args []interface{}) ([]byte, error) {
			return pairCall(&mc.pairs[i], method)
		}
	} else if t, ok := mc.tokens[msg.To]; ok {
		contract = &chain.ERC20ABI
		handler = func(method *abi.Method, args []interface{}) ([]byte, error) {
			return tokenCall(t, method)
		}
	} else {
		// no code at the address
		return hexutil.Bytes{}, nil
	}

	method, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("execution reverted")
	}

	if mc.shouldFail(msg.To, method.Name) {
		return nil, fmt.Errorf("execution reverted: injected failure of %s", method.Name)
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}

	out, err := handler(method, args)
	if err != nil {
		return nil, err
	}
	return hexutil.Bytes(out), nil
}

func (mc *MockChain) factoryCall(method *abi.Method, args []interface{}) ([]byte, error) {
	switch method.Name {
	case "allPairsLength":
		return method.Outputs.Pack(big.NewInt(int64(len(mc.pairs))))
	case "allPairs":
		i, ok := args[0].(*big.Int)
		if !ok || !i.IsInt64() || i.Int64() >= int64(len(mc.pairs)) {
			return nil, fmt.Errorf("execution reverted")
		}
		return method.Outputs.Pack(mc.pairs[i.Int64()].Address)
	}
	return nil, fmt.Errorf("execution reverted")
}

func pairCall(p *MockPair, method *abi.Method) ([]byte, error) {
	switch method.Name {
	case "token0":
		return method.Outputs.Pack(p.Token0)
	case "token1":
		return method.Outputs.Pack(p.Token1)
	case "getReserves":
		return method.Outputs.Pack(p.Reserve0, p.Reserve1, uint32(0))
	}
	return nil, fmt.Errorf("execution reverted")
}

func tokenCall(t MockToken, method *abi.Method) ([]byte, error) {
	if t.Broken {
		return nil, fmt.Errorf("execution reverted")
	}

	switch method.Name {
	case "name":
		if t.Bytes32 {
			return bytes32(t.Name), nil
		}
		return method.Outputs.Pack(t.Name)
	case "symbol":
		if t.Bytes32 {
			return bytes32(t.Symbol), nil
		}
		return method.Outputs.Pack(t.Symbol)
	case "decimals":
		return method.Outputs.Pack(t.Decimals)
	}
	return nil, fmt.Errorf("execution reverted")
}

func bytes32(s string) []byte {
	out := make([]byte, 32)
	copy(out, s)
	return out
}

func (mc *MockChain) shouldFail(addr common.Address, method string) bool {
	key := failureKey(addr, method)
	n, ok := mc.failures[key]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		mc.failures[key] = n - 1
	}
	return true
}

func failureKey(addr common.Address, method string) string {
	return strings.ToLower(addr.Hex()) + "." + method
}
