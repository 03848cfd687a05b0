// Package sideshift is a client for the SideShift v2 swap API.
package sideshift

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
)

// DefaultBaseURL is the public SideShift v2 API.
const DefaultBaseURL = "https://sideshift.ai/api/v2"

const defaultTimeout = 30 * time.Second

// ErrInvalidResponse is returned when the API answers with a body that cannot be decoded.
var ErrInvalidResponse = errors.New("invalid sideshift response")

// APIError is a non-2xx answer from the swap provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sideshift api error (status %d): %s", e.StatusCode, e.Message)
}

// IsAPIError reports whether err carries an APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError

	return errors.As(err, &apiErr)
}

// Coin is an asset supported by the provider.
type Coin struct {
	Coin     string   `json:"coin"`
	Name     string   `json:"name"`
	Networks []string `json:"networks"`
}

// Client calls the SideShift API.
type Client struct {
	baseURL     string
	secret      string
	affiliateID string
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a Client authenticated with secret. affiliateID is attached to every quote
// and shift request.
func NewClient(secret, affiliateID string, logger *slog.Logger, opts ...Option) *Client {
	client := &Client{
		baseURL:     DefaultBaseURL,
		secret:      secret,
		affiliateID: affiliateID,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		logger:      logger.With("module", "sideshift"),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Coins lists the supported assets.
func (c *Client) Coins(ctx context.Context) ([]Coin, error) {
	var coins []Coin

	err := c.do(ctx, http.MethodGet, "/coins", nil, &coins)
	if err != nil {
		return nil, err
	}

	return coins, nil
}

// RequestQuote asks for a fixed-rate quote.
func (c *Client) RequestQuote(ctx context.Context, request models.QuoteRequest) (*models.Quote, error) {
	request.AffiliateID = c.affiliateID

	var quote models.Quote

	err := c.do(ctx, http.MethodPost, "/quotes", request, &quote)
	if err != nil {
		return nil, err
	}

	if quote.ID == "" {
		return nil, fmt.Errorf("%w: quote without id", ErrInvalidResponse)
	}

	return &quote, nil
}

// CreateFixedShift turns a quote into a fixed-rate shift.
func (c *Client) CreateFixedShift(ctx context.Context, request models.ShiftRequest) (*models.Shift, error) {
	request.AffiliateID = c.affiliateID

	var shift models.Shift

	err := c.do(ctx, http.MethodPost, "/shifts/fixed", request, &shift)
	if err != nil {
		return nil, err
	}

	if shift.ID == "" {
		return nil, fmt.Errorf("%w: shift without id", ErrInvalidResponse)
	}

	return &shift, nil
}

// Shift returns the current state of a shift.
func (c *Client) Shift(ctx context.Context, shiftID string) (*models.Shift, error) {
	var shift models.Shift

	err := c.do(ctx, http.MethodGet, "/shifts/"+url.PathEscape(shiftID), nil, &shift)
	if err != nil {
		return nil, err
	}

	return &shift, nil
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.secret != "" {
		req.Header.Set("x-sideshift-secret", c.secret)
	}

	c.logger.DebugContext(ctx, "Calling sideshift", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sideshift request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}

		var decoded errorBody
		if json.Unmarshal(data, &decoded) == nil && decoded.Error.Message != "" {
			apiErr.Message = decoded.Error.Message
		}

		return apiErr
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	return nil
}
