package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const webhookTimeout = 15 * time.Second

// WebhookNotifier POSTs one JSON document per alert to a fixed URL.
// Receivers are expected to answer 2xx; anything else leaves the row
// unreported so the next tick retries.
type WebhookNotifier struct {
	url    string
	http   *http.Client
	logger *logging.Logger
}

type webhookPayload struct {
	ClientVulnID  string           `json:"client_vuln_id"`
	Title         string           `json:"title"`
	Summary       string           `json:"summary"`
	Project       string           `json:"project"`
	ProjectRepo   string           `json:"project_repo"`
	Library       string           `json:"library"`
	LibraryRepo   string           `json:"library_repo"`
	CommitSHA     string           `json:"commit_sha"`
	VulnType      *string          `json:"vuln_type,omitempty"`
	Severity      *models.Severity `json:"severity,omitempty"`
	ReachablePath json.RawMessage  `json:"reachable_path,omitempty"`
	RecordedAt    *time.Time       `json:"recorded_at,omitempty"`
}

func NewWebhook(url string, logger *logging.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		http:   &http.Client{Timeout: webhookTimeout},
		logger: logger.With("notify_webhook"),
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(webhookPayload{
		ClientVulnID:  alert.ClientVuln.ID,
		Title:         alert.Title(),
		Summary:       alert.Summary(),
		Project:       alert.Project.Name,
		ProjectRepo:   alert.Project.RepoURL,
		Library:       alert.Library.Name,
		LibraryRepo:   alert.Library.RepoURL,
		CommitSHA:     alert.Vuln.CommitSHA,
		VulnType:      alert.Vuln.VulnType,
		Severity:      alert.Vuln.Severity,
		ReachablePath: alert.ClientVuln.ReachablePath,
		RecordedAt:    alert.ClientVuln.RecordedAt,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook receiver answered status %d", resp.StatusCode)
	}
	return nil
}
