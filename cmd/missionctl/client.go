package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultClientTimeout bounds every API request.
const DefaultClientTimeout = 10 * time.Second

type client struct {
	addr      string
	actorID   string
	actorType string
	http      *http.Client
}

type envelope[T any] struct {
	Mode string `json:"mode"`
	Data T      `json:"data"`
}

type apiError struct {
	Error string `json:"error"`
}

func (c *client) do(method, path string, body any) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, strings.TrimRight(c.addr, "/")+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actorID != "" {
		req.Header.Set("X-Actor-Id", c.actorID)
	}
	if c.actorType != "" {
		req.Header.Set("X-Actor-Type", c.actorType)
	}

	hc := c.http
	if hc == nil {
		hc = &http.Client{Timeout: DefaultClientTimeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e apiError
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// get decodes the data field of a GET response into T.
func get[T any](c *client, path string) (T, error) {
	return call[T](c, http.MethodGet, path, nil)
}

// post decodes the data field of a POST response into T.
func post[T any](c *client, path string, body any) (T, error) {
	return call[T](c, http.MethodPost, path, body)
}

func call[T any](c *client, method, path string, body any) (T, error) {
	var env envelope[T]
	raw, err := c.do(method, path, body)
	if err != nil {
		return env.Data, err
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env.Data, fmt.Errorf("decode response: %w", err)
	}
	return env.Data, nil
}

const basePath = "/api/mission-control"

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
