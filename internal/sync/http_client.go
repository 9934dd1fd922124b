package sync

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
)

// SyncActionsPath is the endpoint path batches are posted to.
const SyncActionsPath = "/api/sync/actions"

// HTTPConfig configures HTTPTransport.
type HTTPConfig struct {
	BaseURL string
	Tokens  TokenSource
	Timeout time.Duration // Per request (default: 30 seconds)
	Client  *http.Client  // Optional; Timeout is ignored when set
}

// HTTPTransport posts batches to the sync endpoint over HTTP.
type HTTPTransport struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTPTransport.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		}
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     tokens,
		httpClient: client,
	}
}

// SubmitBatch posts req and decodes the per-action results.
func (c *HTTPTransport) SubmitBatch(ctx context.Context, req models.SyncBatchRequest) (*models.SyncBatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "encode batch", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+SyncActionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.ErrSyncFailed, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSyncAuthFailed, "obtain access token", err)
	}
	if token == "" {
		return nil, errors.New(errors.ErrSyncAuthFailed, "no access token")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, errors.Wrap(errors.ErrSyncTimeout, "sync request timed out", err)
		}
		return nil, errors.Wrap(errors.ErrSyncFailed, "sync request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errors.New(errors.ErrSyncAuthFailed, "sync endpoint rejected the access token")
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.New(errors.ErrSyncFailed,
			fmt.Sprintf("sync endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var out models.SyncBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if isTimeout(err) {
			return nil, errors.Wrap(errors.ErrSyncTimeout, "reading sync response timed out", err)
		}
		return nil, errors.Wrap(errors.ErrSyncFailed, "decode sync response", err)
	}
	return &out, nil
}

// Ping checks GET /health and returns nil on a 2xx answer.
func (c *HTTPTransport) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
