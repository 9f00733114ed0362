// Package globus drives remote-to-remote folder staging through the Globus
// Transfer API. Access tokens are minted from per-identity refresh tokens
// held encrypted in the database; submitted task labels are mirrored into
// redis for operator lookup.
package globus

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
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/repositories"
)

const (
	authTokenURL    = "https://auth.globus.org/v2/oauth2/token"
	transferBaseURL = "https://transfer.api.globus.org/v0.10"

	pollInterval = 5 * time.Second
)

// Transferrer is the staging engine's view of Globus.
type Transferrer interface {
	// InitTransfer submits a recursive folder transfer and returns the task
	// id.
	InitTransfer(ctx context.Context, spec TransferSpec) (string, error)

	// QueryStatus returns the task's current status string (ACTIVE,
	// SUCCEEDED, FAILED).
	QueryStatus(ctx context.Context, identity, taskID string) (string, error)

	// MonitorTransfer polls the task until it reaches a terminal status,
	// returning an error on failure.
	MonitorTransfer(ctx context.Context, identity, taskID string) error
}

// TransferSpec names one recursive folder transfer.
type TransferSpec struct {
	Identity            string
	SourceEndpoint      string
	SourcePath          string
	DestinationEndpoint string
	DestinationPath     string
	Label               string
}

// Client is the HTTP implementation of Transferrer.
type Client struct {
	httpClient *http.Client
	clientID   string
	tokens     repositories.GlobusTokenRepository
	rdb        *redis.Client
	logger     *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedToken
}

type cachedToken struct {
	token   string
	expires time.Time
}

// NewClient builds a Client. rdb may be nil to skip task-label mirroring.
func NewClient(clientID string, tokens repositories.GlobusTokenRepository, rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clientID:   clientID,
		tokens:     tokens,
		rdb:        rdb,
		logger:     logger.Named("globus"),
		cache:      make(map[string]cachedToken),
	}
}

// accessToken exchanges the identity's stored refresh token for an access
// token, caching it until shortly before expiry.
func (c *Client) accessToken(ctx context.Context, identity string) (string, error) {
	c.mu.Lock()
	if cached, ok := c.cache[identity]; ok && time.Now().Before(cached.expires) {
		c.mu.Unlock()
		return cached.token, nil
	}
	c.mu.Unlock()

	record, err := c.tokens.Get(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("globus: refresh token for %s: %w", identity, err)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {string(record.TransferText)},
		"client_id":     {c.clientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("globus: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("globus: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("globus: token exchange status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("globus: decode token response: %w", err)
	}

	c.mu.Lock()
	c.cache[identity] = cachedToken{
		token:   payload.AccessToken,
		expires: time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - time.Minute),
	}
	c.mu.Unlock()
	return payload.AccessToken, nil
}

func (c *Client) do(ctx context.Context, identity, method, path string, body any, out any) error {
	token, err := c.accessToken(ctx, identity)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("globus: marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, transferBaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("globus: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("globus: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("globus: %s %s status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("globus: decode response: %w", err)
		}
	}
	return nil
}

// InitTransfer submits a recursive folder transfer.
func (c *Client) InitTransfer(ctx context.Context, spec TransferSpec) (string, error) {
	var submission struct {
		Value string `json:"value"`
	}
	if err := c.do(ctx, spec.Identity, http.MethodGet, "/submission_id", nil, &submission); err != nil {
		return "", err
	}

	request := map[string]any{
		"DATA_TYPE":            "transfer",
		"submission_id":        submission.Value,
		"source_endpoint":      spec.SourceEndpoint,
		"destination_endpoint": spec.DestinationEndpoint,
		"label":                spec.Label,
		"sync_level":           1,
		"DATA": []map[string]any{{
			"DATA_TYPE":        "transfer_item",
			"source_path":      spec.SourcePath,
			"destination_path": spec.DestinationPath,
			"recursive":        true,
		}},
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, spec.Identity, http.MethodPost, "/transfer", request, &result); err != nil {
		return "", err
	}

	c.recordLabel(ctx, result.TaskID, spec.Label)
	c.logger.Info("transfer submitted",
		zap.String("task", result.TaskID),
		zap.String("label", spec.Label))
	return result.TaskID, nil
}

func (c *Client) recordLabel(ctx context.Context, taskID, label string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, "globus_task_label:"+taskID, label, 0).Err(); err != nil {
		c.logger.Warn("record task label", zap.String("task", taskID), zap.Error(err))
	}
}

// QueryStatus returns the task's current status string.
func (c *Client) QueryStatus(ctx context.Context, identity, taskID string) (string, error) {
	var task struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, identity, http.MethodGet, "/task/"+taskID, nil, &task); err != nil {
		return "", err
	}
	return task.Status, nil
}

// MonitorTransfer polls the task until it succeeds or fails.
func (c *Client) MonitorTransfer(ctx context.Context, identity, taskID string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.QueryStatus(ctx, identity, taskID)
		if err != nil {
			return err
		}
		switch status {
		case "SUCCEEDED":
			return nil
		case "FAILED":
			return fmt.Errorf("globus: task %s failed", taskID)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("globus: monitor %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ Transferrer = (*Client)(nil)
