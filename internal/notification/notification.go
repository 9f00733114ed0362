// Package notification delivers job outcome notifications to an operator
// webhook. Delivery is best-effort: a failed send is logged and never
// affects the job itself.
package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
)

// payload is the JSON body sent to the webhook endpoint. The "text" field
// keeps the body compatible with Slack/Discord incoming webhooks while the
// structured fields serve custom integrations.
type payload struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"text"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Notifier sends job outcome notifications.
type Notifier struct {
	cfg    *config.Webhook
	client *http.Client
	logger *zap.Logger
}

// New builds a Notifier. cfg may be nil, in which case every send is a
// no-op.
func New(cfg *config.Webhook, logger *zap.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("notification"),
	}
}

// JobEnded reports a successfully finished job.
func (n *Notifier) JobEnded(ctx context.Context, jobID uuid.UUID, hpc string) {
	n.send(ctx, "job.ended", "Job completed",
		fmt.Sprintf("Job %s on %s completed.", jobID, hpc),
		map[string]any{"job_id": jobID.String(), "hpc": hpc})
}

// JobFailed reports a failed or cancelled job.
func (n *Notifier) JobFailed(ctx context.Context, jobID uuid.UUID, hpc, reason string) {
	n.send(ctx, "job.failed", "Job failed",
		fmt.Sprintf("Job %s on %s failed: %s", jobID, hpc, reason),
		map[string]any{"job_id": jobID.String(), "hpc": hpc, "reason": reason})
}

func (n *Notifier) send(ctx context.Context, notifType, title, body string, data map[string]any) {
	if n.cfg == nil || n.cfg.URL == "" {
		return
	}

	raw, err := json.Marshal(payload{
		Type:      notifType,
		Title:     title,
		Body:      body,
		Payload:   data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		n.logger.Warn("marshal notification", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(raw))
	if err != nil {
		n.logger.Warn("build notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(n.cfg.Secret))
		mac.Write(raw)
		req.Header.Set("X-Hpcgate-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("deliver notification", zap.String("type", notifType), zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.Warn("notification rejected",
			zap.String("type", notifType),
			zap.Int("status", resp.StatusCode))
	}
}
