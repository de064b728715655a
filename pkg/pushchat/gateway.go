// Copyright 2024-2026 Aiku AI

package pushchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// RequestOptions are per-request overrides. They are merged into the
// request but never replace the method, URL, body, or the authentication
// and content-type headers the gateway sets itself.
type RequestOptions struct {
	Header http.Header
	Query  url.Values
}

// merge combines option sets left to right; later values win per key.
func mergeRequestOptions(opts []RequestOptions) RequestOptions {
	merged := RequestOptions{Header: http.Header{}, Query: url.Values{}}
	for _, opt := range opts {
		for key, values := range opt.Header {
			merged.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
		for key, values := range opt.Query {
			merged.Query[key] = append([]string(nil), values...)
		}
	}
	return merged
}

// Gateway is the authenticated request/response path to the HTTP API. Its
// only state is the bearer token.
type Gateway struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger

	tokenMu sync.RWMutex
	token   string
}

// NewGateway creates a gateway against baseURL. A nil httpClient uses
// http.DefaultClient.
func NewGateway(baseURL string, httpClient *http.Client, log zerolog.Logger) *Gateway {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Gateway{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
		log:     log.With().Str("component", "http_gateway").Logger(),
	}
}

// SetToken sets the bearer token attached to subsequent requests. An empty
// token removes the header.
func (g *Gateway) SetToken(token string) {
	g.tokenMu.Lock()
	g.token = token
	g.tokenMu.Unlock()
}

// Token returns the current bearer token.
func (g *Gateway) Token() string {
	g.tokenMu.RLock()
	defer g.tokenMu.RUnlock()
	return g.token
}

// Request issues method against path with body encoded as JSON (when
// non-nil) and decodes the response into out (when non-nil).
func (g *Gateway) Request(ctx context.Context, method, path string, body, out any, opts ...RequestOptions) error {
	merged := mergeRequestOptions(opts)

	target, err := url.Parse(g.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to parse request url: %w", err)
	}
	if len(merged.Query) > 0 {
		query := target.Query()
		for key, values := range merged.Query {
			query[key] = values
		}
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range merged.Header {
		req.Header[key] = values
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := g.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	g.log.Trace().Str("method", method).Str("path", path).Msg("Sending request")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts a human readable reason from an error body.
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return strings.TrimSpace(string(data))
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
