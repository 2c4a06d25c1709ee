package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Register(ctx context.Context, name string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/identity", "", map[string]any{
		"name": name,
	}, &out, "")
	return out, err
}

func (c *Client) CreateRoom(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms", token, nil, &out, "")
	return out, err
}

func (c *Client) ListRooms(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms", token, nil, &out, "")
	return out, err
}

func (c *Client) JoinRoom(ctx context.Context, token, roomID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/join", token, nil, &out, "")
	return out, err
}

func (c *Client) Ready(ctx context.Context, token, roomID string, ready bool) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/ready", token, map[string]any{
		"ready": ready,
	}, &out, "")
	return out, err
}

func (c *Client) StartRoom(ctx context.Context, token, roomID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/start", token, nil, &out, "")
	return out, err
}

func (c *Client) RoomState(ctx context.Context, token, roomID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(roomID)+"/state", token, nil, &out, "")
	return out, err
}

func (c *Client) RoomFeed(ctx context.Context, token, roomID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(roomID)+"/feed", token, nil, &out, "")
	return out, err
}

func (c *Client) Roll(ctx context.Context, token, roomID string, dice int, fortune int64, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/roll", token, map[string]any{
		"dice":    dice,
		"fortune": fortune,
	}, &out, idem)
	return out, err
}

func (c *Client) PendingPrompt(ctx context.Context, token, roomID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(roomID)+"/prompt", token, nil, &out, "")
	return out, err
}

func (c *Client) ResolvePrompt(ctx context.Context, token, roomID string, resolution map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/prompt", token, resolution, &out, "")
	return out, err
}

func (c *Client) DeclareBankruptcy(ctx context.Context, token, roomID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms/"+url.PathEscape(roomID)+"/bankrupt", token, nil, &out, "")
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
