package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vovakirdan/wirechat-gateway/internal/proto"
)

// APIError is a non-success response from the gateway's REST side.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// apiClient talks to the request/response endpoints that share the
// websocket's listener.
type apiClient struct {
	base   *url.URL
	http   *http.Client
	userID string
	token  string
}

func (a *apiClient) sendMessage(ctx context.Context, sessionID, text string) (*proto.Message, error) {
	body := map[string]string{"sessionId": sessionID, "text": text}
	var msg proto.Message
	if err := a.do(ctx, http.MethodPost, "/api/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *apiClient) history(ctx context.Context, sessionID string) ([]proto.Message, error) {
	var msgs []proto.Message
	if err := a.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (a *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	} else if a.userID != "" {
		req.Header.Set("X-User-ID", a.userID)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
