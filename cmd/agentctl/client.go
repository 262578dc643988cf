package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"futures-trading-agent/internal/auth"
)

type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient() *client {
	return &client{
		base:  strings.TrimRight(serverURL, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

// apiError is the part of the server's error envelope worth showing. The
// "error" field is a bool on API routes and a code on auth routes.
type apiError struct {
	Message string `json:"message"`
}

func (c *client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *client) login(ctx context.Context, req auth.LoginRequest) (*auth.TokenResponse, error) {
	body, err := c.post(ctx, "/api/auth/login", req)
	if err != nil {
		return nil, err
	}
	var tok auth.TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("login response carried no token")
	}
	return &tok, nil
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e apiError
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			return nil, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Message)
		}
		return nil, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return data, nil
}

// printJSON indents body unless --raw was given.
func printJSON(w io.Writer, body []byte) error {
	if rawOutput {
		_, err := w.Write(append(body, '\n'))
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		_, err = w.Write(append(body, '\n'))
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}
