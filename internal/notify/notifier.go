package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

const sendTimeout = 10 * time.Second

// Sender posts deployment outcome cards to an operator-configured webhook
// (Slack, Discord, or anything accepting JSON). Failures are logged and
// never propagate into the deployment result.
type Sender struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewSender(url string, logger *slog.Logger) *Sender {
	return &Sender{
		url:    url,
		client: &http.Client{Timeout: sendTimeout},
		logger: logger,
	}
}

// Enabled reports whether a webhook URL is configured.
func (s *Sender) Enabled() bool { return s.url != "" }

func (s *Sender) SendDeploymentNotification(ctx context.Context, n domain.Notification) {
	if !s.Enabled() {
		return
	}

	body, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("cannot encode notification", slog.Any("error", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("cannot build notification request", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("notification delivery failed", slog.Any("error", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn("notification rejected",
			slog.String("status", fmt.Sprintf("%d", resp.StatusCode)))
	}
}
