package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/shiftflow/pkg/signals"
)

// SignalOptions configures the price, gas and balance sources.
type SignalOptions struct {
	CacheTTL time.Duration
	// CacheURL selects a shared redis cache; empty keeps readings in process.
	CacheURL        string
	CoinGeckoAPIKey string
	EtherscanKey    string
	PolygonscanKey  string
	ArbiscanKey     string
	// RPCEndpoints are network=url pairs; a bare url is the ethereum endpoint.
	RPCEndpoints []string
}

// NewSignalSources builds the signal sources sharing one cache. The returned close function
// releases the cache connection.
func NewSignalSources(opts SignalOptions, logger *slog.Logger) (signals.Sources, func() error, error) {
	clock := signals.SystemClock{}

	var (
		cache   signals.Cache
		closeFn = func() error { return nil }
	)

	if opts.CacheURL != "" {
		redisCache, err := signals.NewRedisCache(opts.CacheURL, opts.CacheTTL, logger)
		if err != nil {
			return signals.Sources{}, nil, fmt.Errorf("invalid signal cache url: %w", err)
		}

		cache = redisCache
		closeFn = redisCache.Close
	} else {
		cache = signals.NewMemoryCache(opts.CacheTTL, clock)
	}

	endpoints, err := ParseRPCEndpoints(opts.RPCEndpoints)
	if err != nil {
		_ = closeFn()

		return signals.Sources{}, nil, err
	}

	var priceOptions []signals.PriceOption
	if opts.CoinGeckoAPIKey != "" {
		priceOptions = append(priceOptions, signals.WithPriceAPIKey(opts.CoinGeckoAPIKey))
	}

	sources := signals.Sources{
		Price: signals.NewCoinGeckoPriceSource(cache, clock, logger, priceOptions...),
		Gas: signals.NewExplorerGasSource(
			signals.DefaultExplorers(opts.EtherscanKey, opts.PolygonscanKey, opts.ArbiscanKey),
			cache, clock, logger,
		),
		Balance: signals.NewRPCBalanceSource(endpoints, cache, clock, logger),
		Clock:   clock,
	}

	return sources, closeFn, nil
}

// ParseRPCEndpoints turns network=url entries into a network to url map.
func ParseRPCEndpoints(entries []string) (map[string]string, error) {
	endpoints := make(map[string]string, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		network, url, found := strings.Cut(entry, "=")
		if !found {
			endpoints["ethereum"] = entry

			continue
		}

		network = strings.ToLower(strings.TrimSpace(network))
		url = strings.TrimSpace(url)

		if network == "" || url == "" {
			return nil, fmt.Errorf("invalid rpc endpoint %q, want network=url", entry)
		}

		endpoints[network] = url
	}

	return endpoints, nil
}
