package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hookline/hookline/internal/retry"
	"github.com/hookline/hookline/pkg/errors"
)

const (
	// DefaultAnthropicEndpoint is the messages endpoint of the Anthropic API.
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"

	// DefaultAnthropicVersion is the API version header value.
	DefaultAnthropicVersion = "2023-06-01"

	// DefaultMaxTokens bounds responses when the request does not set one.
	DefaultMaxTokens = 4096

	maxErrorBodyBytes = 4 * 1024
)

// HTTPOptions configures an HTTPProvider.
type HTTPOptions struct {
	// Name is the registry name. Defaults to "anthropic".
	Name string

	// Endpoint is the messages API URL. Defaults to the Anthropic API.
	Endpoint string

	// APIKey authenticates requests.
	APIKey string

	// Model is used when a request does not name one.
	Model string

	// Client is the underlying HTTP client. Defaults to http.DefaultClient;
	// no request timeout is imposed, cancellation flows through the context.
	Client *http.Client

	// Retry governs transient-failure retries. Defaults to exponential
	// backoff with the standard budget.
	Retry retry.Strategy

	// Logger receives request/retry diagnostics.
	Logger *slog.Logger
}

// HTTPProvider talks to an Anthropic-style messages API over HTTPS.
type HTTPProvider struct {
	name     string
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	retry    retry.Strategy
	logger   *slog.Logger
}

// NewHTTPProvider creates an HTTP backend from the given options.
func NewHTTPProvider(opts HTTPOptions) (*HTTPProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New(errors.CodeProviderError, "api key is required")
	}

	p := &HTTPProvider{
		name:     opts.Name,
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		model:    opts.Model,
		client:   opts.Client,
		retry:    opts.Retry,
		logger:   opts.Logger,
	}
	if p.name == "" {
		p.name = "anthropic"
	}
	if p.endpoint == "" {
		p.endpoint = DefaultAnthropicEndpoint
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	if p.retry == nil {
		p.retry = retry.NewExponentialStrategy()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p, nil
}

// Name implements Provider.
func (p *HTTPProvider) Name() string {
	return p.name
}

// apiRequest is the wire shape of the messages API request body.
type apiRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

// apiResponse is the wire shape of the messages API response body.
type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
}

// Send implements Provider. Retryable failures (429, 5xx, network errors)
// are retried with backoff; everything else surfaces immediately.
func (p *HTTPProvider) Send(ctx context.Context, req *Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New(errors.CodeProviderError, "request has no messages")
	}

	body := apiRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  req.Messages,
	}
	if body.Model == "" {
		body.Model = p.model
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = DefaultMaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderError, "failed to encode request")
	}

	var resp *Response
	attempt := 0
	err = retry.Do(ctx, p.retry, func() error {
		if attempt > 0 {
			p.logger.Debug("retrying provider request", "provider", p.name, "attempt", attempt)
		}
		attempt++

		var sendErr error
		resp, sendErr = p.sendOnce(ctx, payload)
		return sendErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *HTTPProvider) sendOnce(ctx context.Context, payload []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderError, "failed to build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Anthropic-Version", DefaultAnthropicVersion)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderError, "provider request failed")
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBodyBytes))
		apiErr := errors.FromHTTPStatus(httpResp.StatusCode, p.name)
		if len(snippet) > 0 {
			apiErr.Message = fmt.Sprintf("%s: %s", apiErr.Message, strings.TrimSpace(string(snippet)))
		}
		return nil, apiErr
	}

	var decoded apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, errors.CodeProviderError, "failed to decode response")
	}

	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Content:    text.String(),
		StopReason: decoded.StopReason,
		Usage:      decoded.Usage,
	}, nil
}
