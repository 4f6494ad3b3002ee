package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// SlackNotifier posts one attachment per alert via chat.postMessage.
type SlackNotifier struct {
	api     *slack.Client
	channel string
	logger  *logging.Logger
}

func NewSlack(token, channel string, logger *logging.Logger, opts ...slack.Option) *SlackNotifier {
	return &SlackNotifier{
		api:     slack.New(token, opts...),
		channel: channel,
		logger:  logger.With("notify_slack"),
	}
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, alert *Alert) error {
	attachment := slack.Attachment{
		Color: severityColor(alert.Vuln.Severity),
		Title: alert.Title(),
		Text:  alert.Summary(),
		Fields: []slack.AttachmentField{
			{Title: "Project", Value: alert.Project.Name, Short: true},
			{Title: "Library", Value: alert.Library.Name, Short: true},
			{Title: "Fix commit", Value: shortSHA(alert.Vuln.CommitSHA), Short: true},
		},
	}
	if alert.Vuln.Severity != nil {
		attachment.Fields = append(attachment.Fields,
			slack.AttachmentField{Title: "Severity", Value: string(*alert.Vuln.Severity), Short: true})
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(alert.Title(), false),
		slack.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("slack delivery failed: %w", err)
	}
	return nil
}

func severityColor(sev *models.Severity) string {
	if sev == nil {
		return "#9e9e9e"
	}
	switch *sev {
	case models.SeverityCritical:
		return "#b71c1c"
	case models.SeverityHigh:
		return "#e65100"
	case models.SeverityMedium:
		return "#f9a825"
	case models.SeverityLow:
		return "#2e7d32"
	default:
		return "#9e9e9e"
	}
}
