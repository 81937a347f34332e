// Package zabbix is a minimal JSON-RPC 2.0 client for the Zabbix API,
// covering the entity lookups the chat relay needs.
package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const rpcContentType = "application/json-rpc"

// ErrHostNotFound is returned when a host lookup yields no rows.
var ErrHostNotFound = errors.New("host not found")

// Host is one row from host.get. Zabbix returns every field as a string.
type Host struct {
	HostID string `json:"hostid"`
	Host   string `json:"host"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Enabled reports whether the host is monitored. Zabbix encodes enabled
// as status "0".
func (h *Host) Enabled() bool { return h.Status == "0" }

// Problem is one row from problem.get.
type Problem struct {
	EventID  string `json:"eventid"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Clock    string `json:"clock"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Auth    string `json:"auth,omitempty"`
	ID      int64  `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	if e.Data != "" {
		return e.Message + ": " + e.Data
	}
	return e.Message
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int64           `json:"id"`
}

// Client calls the Zabbix JSON-RPC endpoint. Safe for concurrent use.
type Client struct {
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger

	reqID atomic.Int64

	mu        sync.Mutex
	authToken string
	lastErr   string
}

// Option configures NewClient.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the given api_jsonrpc.php endpoint.
func NewClient(apiURL string, opts ...Option) *Client {
	c := &Client{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates with username and password and stores the session
// token for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var token string
	params := map[string]string{"user": username, "password": password}
	if err := c.call(ctx, "user.login", params, &token); err != nil {
		return fmt.Errorf("zabbix login failed: %w", err)
	}

	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
	return nil
}

// SetAuthToken installs a pre-provisioned API token and verifies it by
// fetching the API version.
func (c *Client) SetAuthToken(ctx context.Context, token string) error {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()

	if _, err := c.Version(ctx); err != nil {
		return fmt.Errorf("zabbix auth token verification failed: %w", err)
	}
	return nil
}

// Version returns the Zabbix API version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version string
	if err := c.call(ctx, "apiinfo.version", []any{}, &version); err != nil {
		return "", err
	}
	return version, nil
}

// GetHostByID fetches one host. A lookup that succeeds but matches no host
// returns ErrHostNotFound.
func (c *Client) GetHostByID(ctx context.Context, hostID int64) (*Host, error) {
	params := map[string]any{
		"output":  []string{"hostid", "host", "name", "status"},
		"hostids": strconv.FormatInt(hostID, 10),
	}

	var hosts []Host
	if err := c.call(ctx, "host.get", params, &hosts); err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, ErrHostNotFound
	}
	return &hosts[0], nil
}

// GetProblemsForHost fetches active problems for a host, most recent first.
func (c *Client) GetProblemsForHost(ctx context.Context, hostID int64) ([]Problem, error) {
	params := map[string]any{
		"output":    []string{"eventid", "name", "clock", "severity"},
		"hostids":   []string{strconv.FormatInt(hostID, 10)},
		"sortfield": []string{"clock", "eventid"},
		"sortorder": "DESC",
		"recent":    true,
	}

	var problems []Problem
	if err := c.call(ctx, "problem.get", params, &problems); err != nil {
		return nil, err
	}
	return problems, nil
}

// LastError returns the message of the most recent failed call, empty if
// the last call succeeded.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// call performs one JSON-RPC exchange and decodes the result into out.
// The auth token is attached to every method except user.login and
// apiinfo.version, which the API requires to be unauthenticated.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.reqID.Add(1),
	}
	if method != "user.login" && method != "apiinfo.version" {
		c.mu.Lock()
		req.Auth = c.authToken
		c.mu.Unlock()
	}

	err := c.doCall(ctx, req, out)
	c.mu.Lock()
	if err != nil {
		c.lastErr = err.Error()
	} else {
		c.lastErr = ""
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("zabbix api call failed", "method", method, "error", err)
	}
	return err
}

func (c *Client) doCall(ctx context.Context, req rpcRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", rpcContentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}
