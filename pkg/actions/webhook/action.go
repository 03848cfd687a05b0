// Package webhook calls HTTP endpoints as a workflow action.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/template"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 1 << 20
)

var (
	// ErrUnexpectedStatus is matched by every non-2xx response.
	ErrUnexpectedStatus = errors.New("webhook returned a non-2xx status")
	ErrInvalidURL       = errors.New("invalid webhook url")
)

// StatusError carries a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook failed: %d", e.StatusCode)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Result is what a webhook call returned.
type Result struct {
	StatusCode int         `json:"status_code"`
	Body       any         `json:"body"`
	Headers    http.Header `json:"headers"`
}

// Action sends webhook requests.
type Action struct {
	client *http.Client
	logger *slog.Logger
}

// NewAction creates an Action. A nil client gets a 30s timeout.
func NewAction(client *http.Client, logger *slog.Logger) *Action {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &Action{
		client: client,
		logger: logger.With("module", "webhook_action"),
	}
}

// Validate checks the url and that every template parses.
func Validate(hook *models.Webhook) error {
	if hook.URL == "" {
		return ErrInvalidURL
	}

	_, err := template.Parse(hook.Body)
	if err != nil {
		return fmt.Errorf("invalid body template: %w", err)
	}

	for key, value := range hook.Headers {
		_, err := template.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid header '%s' template: %w", key, err)
		}
	}

	return nil
}

// Execute renders hook against data and sends it. Network errors and non-2xx responses are
// returned as errors; a non-2xx result is still returned alongside its *StatusError.
func (a *Action) Execute(ctx context.Context, hook *models.Webhook, data map[string]any) (*Result, error) {
	method := strings.ToUpper(hook.Method)
	if method == "" {
		method = http.MethodPost
	}

	logger := a.logger.With("method", method, "url", hook.URL)

	req, err := a.buildRequest(ctx, method, hook, data)
	if err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "Sending webhook")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}

	result, raw, err := a.processResponse(ctx, resp, logger)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.WarnContext(ctx, "Webhook returned an error status", "status_code", resp.StatusCode)

		return result, &StatusError{StatusCode: resp.StatusCode, Body: raw}
	}

	logger.InfoContext(ctx, "Webhook delivered", "status_code", resp.StatusCode)

	return result, nil
}

func (a *Action) buildRequest(
	ctx context.Context,
	method string,
	hook *models.Webhook,
	data map[string]any,
) (*http.Request, error) {
	var body io.Reader

	if method != http.MethodGet {
		rendered := "{}"

		if hook.Body != "" {
			var err error

			rendered, err = template.RenderString(hook.Body, data)
			if err != nil {
				return nil, fmt.Errorf("failed to render body template: %w", err)
			}
		}

		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, hook.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range hook.Headers {
		rendered, err := template.RenderString(value, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, rendered)
	}

	return req, nil
}

func (a *Action) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (*Result, string, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read webhook response: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)

		logger.DebugContext(ctx, "Webhook response is not JSON, keeping it as text")
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}, string(bodyBytes), nil
}
