// Package supabase talks to a hosted backend: GoTrue for sessions and
// PostgREST for the deals table.
package supabase

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

	applog "dealbook/internal/log"
)

// APIError is a non-2xx response from the hosted backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: %d: %s", e.Status, e.Message)
}

// Client holds the project URL and anon key shared by Auth and Deals.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *applog.Logger
}

func NewClient(baseURL, anonKey string, httpClient *http.Client, logger *applog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: httpClient,
		logger:     logger.WithComponent(applog.ComponentRemote),
	}
}

type request struct {
	method string
	path   string // includes the query string
	token  string // bearer; the anon key when empty
	body   any
	prefer string
}

// do sends req and decodes a 2xx JSON body into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token := req.token
	if token == "" {
		token = c.anonKey
	}
	httpReq.Header.Set("apikey", c.anonKey)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.prefer != "" {
		httpReq.Header.Set("Prefer", req.prefer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.method, pathOnly(req.path), err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "Remote call",
		applog.FieldMethod, req.method,
		applog.FieldPath, pathOnly(req.path),
		applog.FieldStatusCode, resp.StatusCode,
		applog.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error            string `json:"error"`
		ErrorCode        string `json:"error_code"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Code             any    `json:"code"`
	}
	_ = json.Unmarshal(raw, &payload)

	apiErr := &APIError{Status: resp.StatusCode}
	switch {
	case payload.ErrorCode != "":
		apiErr.Code = payload.ErrorCode
	case payload.Error != "":
		apiErr.Code = payload.Error
	case payload.Code != nil:
		apiErr.Code = fmt.Sprint(payload.Code)
	}
	for _, m := range []string{payload.ErrorDescription, payload.Msg, payload.Message} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func pathOnly(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}
