package signals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
)

// ErrUnsupportedToken is returned for tokens the balance reader cannot read.
var ErrUnsupportedToken = errors.New("unsupported token")

var nativeTokens = map[string]string{
	"ethereum": "ETH",
	"polygon":  "POL",
	"arbitrum": "ETH",
}

var weiPerEther = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// RPCBalanceSource reads native token balances with eth_getBalance over JSON-RPC.
type RPCBalanceSource struct {
	endpoints map[string]string
	client    *http.Client
	cache     Cache
	clock     Clock
	logger    *slog.Logger
	requestID atomic.Int64
}

// NewRPCBalanceSource creates a balance source. endpoints maps canonical network names to
// JSON-RPC URLs.
func NewRPCBalanceSource(endpoints map[string]string, cache Cache, clock Clock, logger *slog.Logger) *RPCBalanceSource {
	if clock == nil {
		clock = SystemClock{}
	}

	return &RPCBalanceSource{
		endpoints: endpoints,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		cache:     cache,
		clock:     clock,
		logger:    logger.With("module", "balance_reader"),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result string    `json:"result"`
	Error  *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Balance returns the native balance of address on network, in whole tokens.
func (s *RPCBalanceSource) Balance(ctx context.Context, address, token, network string) (Reading, error) {
	canonical := NormalizeNetwork(network)

	native, ok := nativeTokens[canonical]
	if !ok || !strings.EqualFold(native, token) {
		return Reading{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedToken, token, network)
	}

	endpoint, ok := s.endpoints[canonical]
	if !ok {
		return Reading{}, fmt.Errorf("%w: no rpc endpoint for %s", ErrSignalUnavailable, network)
	}

	key := CacheKey("balance", address, token, canonical)

	if s.cache != nil {
		if reading, ok := s.cache.Get(ctx, key); ok {
			return reading, nil
		}
	}

	wei, err := s.getBalance(ctx, endpoint, address)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: balance of %s: %w", ErrSignalUnavailable, address, err)
	}

	value, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Float64()
	reading := Reading{Value: value, Timestamp: s.clock.Now()}

	if s.cache != nil {
		s.cache.Set(ctx, key, reading)
	}

	return reading, nil
}

func (s *RPCBalanceSource) getBalance(ctx context.Context, endpoint, address string) (*big.Int, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      s.requestID.Add(1),
		Method:  "eth_getBalance",
		Params:  []any{address, "latest"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	var body rpcResponse

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return nil, err
	}

	if body.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", body.Error.Code, body.Error.Message)
	}

	wei, ok := new(big.Int).SetString(strings.TrimPrefix(body.Result, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q", body.Result)
	}

	return wei, nil
}
