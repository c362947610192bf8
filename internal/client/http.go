package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/relaymux/internal/flags"
	"github.com/alfredjeanlab/relaymux/internal/model"
	"github.com/alfredjeanlab/relaymux/internal/presence"
)

// HTTPClient implements RelayClient using the relaymux HTTP/JSON REST API.
// It also exposes the admin endpoints that have no gRPC equivalent.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ RelayClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- Events ---

func (c *HTTPClient) Query(ctx context.Context, filter model.Filter) ([]*model.Event, error) {
	var resp struct {
		Events []*model.Event `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/events?"+filterQuery(filter), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *HTTPClient) Publish(ctx context.Context, ev *model.Event, broadcast bool) (*PublishResult, error) {
	path := "/v1/events"
	if broadcast {
		path += "?broadcast=true"
	}
	var resp PublishResult
	if err := c.doJSON(ctx, http.MethodPost, path, ev, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Subscribe reads the server's SSE stream for filter.
func (c *HTTPClient) Subscribe(ctx context.Context, filter model.Filter, sinceLastOpened bool, fn func(*model.Event)) error {
	path := "/v1/subscribe?" + filterQuery(filter) + "&since_last_opened=" + strconv.FormatBool(sinceLastOpened)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}

	err = readSSE(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readSSE decodes "data:" frames from r until EOF.
func readSSE(r io.Reader, fn func(*model.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var data []byte
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(line) == 0:
			if len(data) > 0 {
				ev, err := model.ParseEvent(data)
				if err != nil {
					return fmt.Errorf("decoding event: %w", err)
				}
				fn(ev)
				data = data[:0]
			}
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimPrefix(line, []byte("data:"))...)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// --- Admin ---

func (c *HTTPClient) GetFlags(ctx context.Context) (flags.Flags, error) {
	var f flags.Flags
	err := c.doJSON(ctx, http.MethodGet, "/v1/flags", nil, &f)
	return f, err
}

// SetFlags replaces the server's runtime flags and returns the result.
func (c *HTTPClient) SetFlags(ctx context.Context, f flags.Flags) (flags.Flags, error) {
	var out flags.Flags
	err := c.doJSON(ctx, http.MethodPut, "/v1/flags", f, &out)
	return out, err
}

// Relays returns the server's relay roster. staleSecs <= 0 uses the server
// default.
func (c *HTTPClient) Relays(ctx context.Context, staleSecs int) ([]presence.Entry, error) {
	path := "/v1/relays"
	if staleSecs > 0 {
		path += "?stale_threshold_secs=" + strconv.Itoa(staleSecs)
	}
	var resp struct {
		Relays []presence.Entry `json:"relays"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Relays, nil
}

func (c *HTTPClient) Watermark(ctx context.Context) (int64, error) {
	var resp struct {
		Watermark int64 `json:"watermark"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/watermark", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Watermark, nil
}

// SubscriptionInfo is one entry of the server's subscription registry.
type SubscriptionInfo struct {
	ID     uint64       `json:"id"`
	Filter model.Filter `json:"filter"`
}

// SubscriptionsResponse is the response from Subscriptions.
type SubscriptionsResponse struct {
	Stats struct {
		Subscriptions int    `json:"subscriptions"`
		NextID        uint64 `json:"next_id"`
		Delivered     uint64 `json:"delivered"`
		Duplicates    uint64 `json:"duplicates"`
	} `json:"stats"`
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
}

func (c *HTTPClient) Subscriptions(ctx context.Context) (*SubscriptionsResponse, error) {
	var resp SubscriptionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/subscriptions", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- internal helpers ---

// filterQuery encodes filter as the "filter" query parameter.
func filterQuery(filter model.Filter) string {
	return url.Values{"filter": {filter.String()}}.Encode()
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsBadRequest reports whether err is a 400 from the server.
func IsBadRequest(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest
}

func apiError(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
