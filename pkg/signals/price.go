package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultCoinGeckoURL is the public CoinGecko API.
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

	defaultHTTPTimeout = 10 * time.Second
)

var coinGeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"USDC":  "usd-coin",
	"USDT":  "tether",
	"DAI":   "dai",
	"MATIC": "matic-network",
	"POL":   "matic-network",
	"ARB":   "arbitrum",
	"OP":    "optimism",
	"AVAX":  "avalanche-2",
	"SOL":   "solana",
	"BNB":   "binancecoin",
	"LINK":  "chainlink",
}

// CoinGeckoID maps a token symbol to its CoinGecko id. Unmapped symbols are used as ids.
func CoinGeckoID(token string) string {
	if id, ok := coinGeckoIDs[strings.ToUpper(token)]; ok {
		return id
	}

	return strings.ToLower(token)
}

// CoinGeckoPriceSource reads spot prices from the CoinGecko simple price endpoint.
type CoinGeckoPriceSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cache   Cache
	clock   Clock
	logger  *slog.Logger
}

// PriceOption configures a CoinGeckoPriceSource.
type PriceOption func(*CoinGeckoPriceSource)

// WithPriceBaseURL overrides the CoinGecko endpoint.
func WithPriceBaseURL(baseURL string) PriceOption {
	return func(s *CoinGeckoPriceSource) { s.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithPriceAPIKey sets the CoinGecko pro API key.
func WithPriceAPIKey(apiKey string) PriceOption {
	return func(s *CoinGeckoPriceSource) { s.apiKey = apiKey }
}

// WithPriceHTTPClient replaces the HTTP client.
func WithPriceHTTPClient(client *http.Client) PriceOption {
	return func(s *CoinGeckoPriceSource) { s.client = client }
}

// NewCoinGeckoPriceSource creates a price source. A nil cache disables caching.
func NewCoinGeckoPriceSource(cache Cache, clock Clock, logger *slog.Logger, opts ...PriceOption) *CoinGeckoPriceSource {
	if clock == nil {
		clock = SystemClock{}
	}

	source := &CoinGeckoPriceSource{
		baseURL: DefaultCoinGeckoURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		cache:   cache,
		clock:   clock,
		logger:  logger.With("module", "price_oracle"),
	}

	for _, opt := range opts {
		opt(source)
	}

	return source
}

func (s *CoinGeckoPriceSource) Price(ctx context.Context, token, currency string) (Reading, error) {
	currency = strings.ToLower(currency)
	if currency == "" {
		currency = "usd"
	}

	key := CacheKey("price", token, currency)

	if s.cache != nil {
		if reading, ok := s.cache.Get(ctx, key); ok {
			return reading, nil
		}
	}

	id := CoinGeckoID(token)

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return Reading{}, fmt.Errorf("failed to create price request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if s.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: price of %s: %w", ErrSignalUnavailable, token, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("%w: price of %s: status %d", ErrSignalUnavailable, token, resp.StatusCode)
	}

	var body map[string]map[string]float64

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: price of %s: %w", ErrSignalUnavailable, token, err)
	}

	price, ok := body[id][currency]
	if !ok || price == 0 {
		return Reading{}, fmt.Errorf("%w: price not found for %s in %s", ErrSignalUnavailable, token, currency)
	}

	reading := Reading{Value: price, Timestamp: s.clock.Now()}

	if s.cache != nil {
		s.cache.Set(ctx, key, reading)
	}

	s.logger.DebugContext(ctx, "Fetched price", "token", token, "currency", currency, "price", price)

	return reading, nil
}
