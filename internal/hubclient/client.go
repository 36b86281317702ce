package hubclient

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

const defaultUnaryTimeout = 30 * time.Second

// Client talks to the hub's orchestration API on behalf of the CLI.
type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

func New(baseURL string) *Client {
	return NewWithClient(baseURL, nil)
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

func (c *Client) Setups(ctx context.Context) (api.SetupsEnvelope, error) {
	var resp api.SetupsEnvelope
	err := c.doJSON(ctx, http.MethodGet, "/api/setups", nil, &resp)
	return resp, err
}

func (c *Client) Sessions(ctx context.Context) (api.SessionsEnvelope, error) {
	var resp api.SessionsEnvelope
	err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &resp)
	return resp, err
}

func (c *Client) StartAll(ctx context.Context, game string) (api.SessionResponse, error) {
	var resp api.SessionResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/start_all", api.StartRequest{Game: game}, &resp)
	return resp, err
}

func (c *Client) StartMultiplayer(ctx context.Context, game string, numPlayers int) (api.SessionResponse, error) {
	var resp api.SessionResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/start_multiplayer", api.StartRequest{Game: game, NumPlayers: numPlayers}, &resp)
	return resp, err
}

func (c *Client) StartSlot(ctx context.Context, game string, slot int) (api.SessionResponse, error) {
	var resp api.SessionResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/start_slot", api.SlotRequest{Game: game, Slot: slot}, &resp)
	return resp, err
}

func (c *Client) StopAll(ctx context.Context) (api.StopResponse, error) {
	var resp api.StopResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/stop_all", struct{}{}, &resp)
	return resp, err
}

func (c *Client) StopSlot(ctx context.Context, slot int) (api.StopResponse, error) {
	var resp api.StopResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/stop_slot", api.SlotRequest{Slot: slot}, &resp)
	return resp, err
}

func (c *Client) RegisterSetup(ctx context.Context, addr string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/register_setup", api.RegisterSetupRequest{Addr: addr}, nil)
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
