package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DefensiveGasPrice is returned alongside an error when no gas price could be read. It is
// high enough that a "below" gas condition never passes on an unreachable oracle.
const DefensiveGasPrice = 999.0

// Explorer is an Etherscan-compatible API serving a gas oracle for one network.
type Explorer struct {
	BaseURL string
	APIKey  string
}

// Default explorers per network.
var (
	EtherscanURL   = "https://api.etherscan.io/api"
	PolygonscanURL = "https://api.polygonscan.com/api"
	ArbiscanURL    = "https://api.arbiscan.io/api"
)

var networkAliases = map[string]string{
	"ethereum": "ethereum",
	"eth":      "ethereum",
	"mainnet":  "ethereum",
	"polygon":  "polygon",
	"matic":    "polygon",
	"arbitrum": "arbitrum",
	"arb":      "arbitrum",
}

// NormalizeNetwork resolves network aliases such as "eth" or "matic".
func NormalizeNetwork(network string) string {
	normalized := strings.ToLower(strings.TrimSpace(network))
	if canonical, ok := networkAliases[normalized]; ok {
		return canonical
	}

	return normalized
}

// ExplorerGasSource reads SafeGasPrice from per-network gas oracle endpoints. Networks
// without an explorer fall back to the ethereum one.
type ExplorerGasSource struct {
	explorers map[string]Explorer
	client    *http.Client
	cache     Cache
	clock     Clock
	logger    *slog.Logger
}

// NewExplorerGasSource creates a gas source. explorers is keyed by canonical network name.
func NewExplorerGasSource(
	explorers map[string]Explorer,
	cache Cache,
	clock Clock,
	logger *slog.Logger,
) *ExplorerGasSource {
	if clock == nil {
		clock = SystemClock{}
	}

	return &ExplorerGasSource{
		explorers: explorers,
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		cache:     cache,
		clock:     clock,
		logger:    logger.With("module", "gas_oracle"),
	}
}

// DefaultExplorers returns the ethereum, polygon and arbitrum explorers with the given keys.
func DefaultExplorers(etherscanKey, polygonscanKey, arbiscanKey string) map[string]Explorer {
	return map[string]Explorer{
		"ethereum": {BaseURL: EtherscanURL, APIKey: etherscanKey},
		"polygon":  {BaseURL: PolygonscanURL, APIKey: polygonscanKey},
		"arbitrum": {BaseURL: ArbiscanURL, APIKey: arbiscanKey},
	}
}

type gasOracleResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type gasOracleResult struct {
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
}

// GasPrice returns the gas price of network in gwei. On failure it returns
// DefensiveGasPrice together with an error wrapping ErrSignalUnavailable.
func (s *ExplorerGasSource) GasPrice(ctx context.Context, network string) (Reading, error) {
	canonical := NormalizeNetwork(network)
	key := CacheKey("gas", canonical)

	if s.cache != nil {
		if reading, ok := s.cache.Get(ctx, key); ok {
			return reading, nil
		}
	}

	explorer, ok := s.explorers[canonical]
	if !ok {
		s.logger.WarnContext(ctx, "Unknown network, using ethereum gas price", "network", network)

		explorer, ok = s.explorers["ethereum"]
		if !ok {
			return s.defensive(), fmt.Errorf("%w: no gas explorer for %s", ErrSignalUnavailable, network)
		}
	}

	price, err := s.fetch(ctx, explorer)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to fetch gas price", "network", network, "error", err)

		return s.defensive(), fmt.Errorf("%w: gas price of %s: %w", ErrSignalUnavailable, network, err)
	}

	reading := Reading{Value: price, Timestamp: s.clock.Now()}

	if s.cache != nil {
		s.cache.Set(ctx, key, reading)
	}

	return reading, nil
}

func (s *ExplorerGasSource) defensive() Reading {
	return Reading{Value: DefensiveGasPrice, Timestamp: s.clock.Now()}
}

func (s *ExplorerGasSource) fetch(ctx context.Context, explorer Explorer) (float64, error) {
	query := url.Values{}
	query.Set("module", "gastracker")
	query.Set("action", "gasoracle")

	if explorer.APIKey != "" {
		query.Set("apikey", explorer.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, explorer.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body gasOracleResponse

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return 0, err
	}

	if body.Status != "1" {
		return 0, fmt.Errorf("explorer returned status %q: %s", body.Status, body.Message)
	}

	var result gasOracleResult

	err = json.Unmarshal(body.Result, &result)
	if err != nil {
		return 0, fmt.Errorf("invalid gas oracle result: %w", err)
	}

	return strconv.ParseFloat(result.SafeGasPrice, 64)
}
