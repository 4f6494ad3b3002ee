package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// Alert is one verified vulnerability in one monitored project, joined
// with everything a channel needs to render a useful message.
type Alert struct {
	ClientVuln *models.ClientVuln
	Vuln       *models.UpstreamVuln
	Project    *models.Project
	Library    *models.Library
}

// Title is the one-line headline shared by all channels.
func (a *Alert) Title() string {
	var b strings.Builder
	if a.Vuln.Severity != nil {
		b.WriteString(strings.ToUpper(string(*a.Vuln.Severity)))
		b.WriteString(" ")
	}
	if a.Vuln.VulnType != nil {
		b.WriteString(*a.Vuln.VulnType)
	} else {
		b.WriteString("vulnerability")
	}
	fmt.Fprintf(&b, " in %s reaches %s", a.Library.Name, a.Project.Name)
	return b.String()
}

// Summary returns the analyzer's prose, or a fallback built from the
// fix commit when analysis produced none.
func (a *Alert) Summary() string {
	if a.Vuln.Summary != nil && *a.Vuln.Summary != "" {
		return *a.Vuln.Summary
	}
	return fmt.Sprintf("Fixed upstream in %s commit %s.", a.Library.Name, shortSHA(a.Vuln.CommitSHA))
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// Notifier delivers one alert to one channel. Implementations must be
// safe for use from a single engine goroutine; they are not called
// concurrently for the same alert.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert *Alert) error
}

// FromConfig assembles the channel set: webhook and Slack when
// configured, a log-only notifier when nothing is.
func FromConfig(cfg config.NotifyConfig, logger *logging.Logger) []Notifier {
	var notifiers []Notifier
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhook(cfg.WebhookURL, logger))
	}
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		notifiers = append(notifiers, NewSlack(cfg.SlackToken, cfg.SlackChannel, logger))
	}
	if len(notifiers) == 0 {
		notifiers = append(notifiers, NewLog(logger))
	}
	return notifiers
}

// LogNotifier writes alerts to the structured log. It is the default
// channel so a bare deployment still surfaces verdicts somewhere.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLog(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("notify_log")}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, alert *Alert) error {
	n.logger.Info("notify.alert",
		"client_vuln_id", alert.ClientVuln.ID,
		"project", alert.Project.Name,
		"library", alert.Library.Name,
		"title", alert.Title(),
		"summary", alert.Summary())
	return nil
}
