package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/eugenenazirov/tvsubscribe/internal/model"
)

// ErrRequestFailed wraps every unsuccessful API response.
var ErrRequestFailed = errors.New("request failed")

// Client talks to a running tvsubscribe server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client for server, which may omit the scheme.
func New(server string) *Client {
	base := strings.TrimRight(strings.TrimSpace(server), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// TriggerResult reports how many of the requested subscriptions were found.
type TriggerResult struct {
	Triggered int `json:"triggered_count"`
	Requested int `json:"total_requested"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Config returns the runtime settings.
func (c *Client) Config(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if _, err := c.do(ctx, http.MethodGet, "/getConfig", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetConfig applies a partial settings update.
func (c *Client) SetConfig(ctx context.Context, updates map[string]any) (map[string]any, error) {
	var out map[string]any
	if _, err := c.do(ctx, http.MethodPost, "/setConfig", updates, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Subscriptions lists every subscription.
func (c *Client) Subscriptions(ctx context.Context) ([]model.Subscription, error) {
	var out []model.Subscription
	if _, err := c.do(ctx, http.MethodGet, "/getSubscribeList", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddSubscription creates a subscription and returns it with its ID.
func (c *Client) AddSubscription(ctx context.Context, doubanID string, res model.Resolution) (model.Subscription, error) {
	body := map[string]any{"douban_id": doubanID, "resolution": int(res)}
	var out model.Subscription
	if _, err := c.do(ctx, http.MethodPost, "/addSubscribe", body, &out); err != nil {
		return model.Subscription{}, err
	}
	return out, nil
}

// DeleteSubscription removes the subscription for doubanID and res.
func (c *Client) DeleteSubscription(ctx context.Context, doubanID string, res model.Resolution) error {
	body := map[string]any{"douban_id": doubanID, "resolution": int(res)}
	_, err := c.do(ctx, http.MethodPost, "/delSubscribe", body, nil)
	return err
}

// DeleteByIDs removes subscriptions by ID and returns the server's message.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) (string, error) {
	return c.do(ctx, http.MethodPost, "/delSubscribe", map[string]any{"ids": ids}, nil)
}

// Trigger asks the server to process the given subscriptions now.
func (c *Client) Trigger(ctx context.Context, ids []string) (TriggerResult, error) {
	var out TriggerResult
	if _, err := c.do(ctx, http.MethodPost, "/triggerNow", map[string]any{"ids": ids}, &out); err != nil {
		return TriggerResult{}, err
	}
	return out, nil
}

// do sends one request, decodes the envelope's data into out when non-nil
// and returns the envelope message.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("%w: %s %s: status %d", ErrRequestFailed, method, path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		return "", fmt.Errorf("%w: %s (status %d)", ErrRequestFailed, env.Message, resp.StatusCode)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("decode response data: %w", err)
		}
	}
	return env.Message, nil
}
