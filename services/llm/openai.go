package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultBaseURL is the upstream API root used when none is configured.
	DefaultBaseURL = "https://api.openai.com/v1"

	connectTimeout = 10 * time.Second
	totalTimeout   = 60 * time.Second
	maxRedirects   = 3
)

// OpenAIClient talks to an OpenAI-compatible chat completion endpoint.
//
// The underlying HTTP client is shared across calls and hardened: plain
// HTTP targets are refused, redirects are capped at three and must stay on
// HTTPS, connection establishment gets 10 seconds and the whole exchange 60.
type OpenAIClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// OpenAIOption configures NewOpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient replaces the hardened HTTP client. The caller owns the
// replacement's transport security.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.httpClient = client }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) OpenAIOption {
	return func(c *OpenAIClient) { c.logger = logger }
}

// NewOpenAIClient creates a client for the given API root. An empty baseURL
// uses DefaultBaseURL; a non-HTTPS baseURL is rejected.
func NewOpenAIClient(baseURL string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL: %w", err)
	}
	if parsed.Scheme != "https" {
		return nil, fmt.Errorf("upstream base URL must use https, got %q", parsed.Scheme)
	}

	c := &OpenAIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHardenedHTTPClient(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newHardenedHTTPClient() *http.Client {
	return &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
		},
		CheckRedirect: checkRedirect,
	}
}

// checkRedirect enforces the redirect policy: at most maxRedirects hops,
// all of them HTTPS.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "https" {
		return fmt.Errorf("refusing redirect to non-https URL")
	}
	return nil
}

// Complete implements CompletionClient. Failures are returned as *Error
// with the kind the caller needs for its response taxonomy.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	config := openai.DefaultConfig(req.APIKey)
	config.BaseURL = c.baseURL
	config.HTTPClient = c.httpClient
	client := openai.NewClientWithConfig(config)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	// go-openai drops Temperature on the wire when it is 0 (omitempty),
	// letting the provider fall back to its own default. The library's
	// documented workaround is a smallest-nonzero sentinel.
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		cerr := classifyError(err)
		c.logger.Error("completion call failed",
			"kind", string(cerr.Kind),
			"model", req.Model,
			"error", err)
		return "", cerr
	}

	if len(resp.Choices) == 0 {
		c.logger.Warn("completion response carried no choices", "model", req.Model)
		return "", &Error{Kind: FailureMalformed, Err: errors.New("response carried no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyError maps library and transport errors onto FailureKind.
func classifyError(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: FailureService, Message: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Kind: FailureHTTP, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{Kind: FailureMalformed, Err: err}
	}

	// url.Error covers dial, TLS and redirect-policy failures.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &Error{Kind: FailureTransport, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: FailureTransport, Err: err}
	}

	return &Error{Kind: FailureHTTP, Err: err}
}
