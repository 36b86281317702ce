package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/simfleet/simfleet/internal/api"
)

const defaultUnaryTimeout = 10 * time.Second

// Client talks to one machine agent's command API.
type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

// New builds a client for the agent listening at addr ("ip:port").
func New(addr string) *Client {
	return NewWithClient("http://"+addr, nil)
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

// RequestError reports an HTTP-level failure with the API error code when
// the agent supplied one.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("%s: %s", code, message)
	case code != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, code)
	case message != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

func (c *Client) Configure(ctx context.Context, req api.ConfigureRequest) (api.CommandResponse, error) {
	var resp api.CommandResponse
	err := c.postJSON(ctx, "/api/configure", req, &resp)
	return resp, err
}

func (c *Client) Start(ctx context.Context) (api.CommandResponse, error) {
	var resp api.CommandResponse
	err := c.postJSON(ctx, "/api/start", struct{}{}, &resp)
	return resp, err
}

func (c *Client) Stop(ctx context.Context) (api.CommandResponse, error) {
	var resp api.CommandResponse
	err := c.postJSON(ctx, "/api/stop", struct{}{}, &resp)
	return resp, err
}

func (c *Client) RegisterOrchestrator(ctx context.Context, orchestratorURL string) (api.RegisterOrchestratorResponse, error) {
	var resp api.RegisterOrchestratorResponse
	err := c.postJSON(ctx, "/api/register_orchestrator", api.RegisterOrchestratorRequest{OrchestratorURL: orchestratorURL}, &resp)
	return resp, err
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var resp api.StatusResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &resp)
	return resp, err
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}

	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return &RequestError{StatusCode: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
		}
		return &RequestError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
