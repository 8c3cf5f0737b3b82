package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotConfigured is returned when the relay address or token is missing.
	ErrNotConfigured = errors.New("wechat relay not configured")
	// ErrRejected is returned when the relay answers but refuses the message.
	ErrRejected = errors.New("wechat relay rejected message")
)

// Notifier delivers short status messages to a user.
type Notifier interface {
	Send(ctx context.Context, title, content string) error
}

type messageRequest struct {
	Token   string `json:"token"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// WeChat posts messages to a WeChat push relay (POST {server}/send-message).
type WeChat struct {
	server     string
	token      string
	httpClient *http.Client
}

// NewWeChat returns a relay client. Blank server or token yields a notifier
// whose Send reports ErrNotConfigured.
func NewWeChat(server, token string) *WeChat {
	return &WeChat{
		server:     strings.TrimRight(strings.TrimSpace(server), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers one message.
func (n *WeChat) Send(ctx context.Context, title, content string) error {
	if n.server == "" || n.token == "" {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(messageRequest{Token: n.token, Title: title, Content: content})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.server+"/send-message", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var out messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode relay response: %w", err)
	}
	if !out.Success {
		reason := out.Error
		if reason == "" {
			reason = out.Message
		}
		return fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	return nil
}
