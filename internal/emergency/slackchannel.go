package emergency

import (
	"context"

	"github.com/slack-go/slack"
)

// SlackNotifier delivers alerts over an incoming Slack webhook, replacing
// the teacher's hand-rolled net/http POST (internal/alerts/slack.go's
// sendWebhook) with the ecosystem client.
type SlackNotifier struct {
	webhookURL string
	channel    string
}

// NewSlackNotifier configures delivery to a fixed webhook URL and default
// channel.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, channel: channel}
}

func colorForTier(t Tier) string {
	switch t {
	case TierCritical:
		return "danger"
	case TierDanger:
		return "warning"
	default:
		return "good"
	}
}

func (n *SlackNotifier) Notify(_ context.Context, alert Alert) error {
	msg := &slack.WebhookMessage{
		Channel: n.channel,
		Text:    string(alert.Tier) + ": " + alert.Title,
		Attachments: []slack.Attachment{
			{
				Color: colorForTier(alert.Tier),
				Fields: []slack.AttachmentField{
					{Title: "Tier", Value: string(alert.Tier), Short: true},
					{Title: "Detail", Value: alert.Detail, Short: false},
					{Title: "Time", Value: alert.CreatedAt.Format("15:04:05 MST"), Short: true},
				},
			},
		},
	}
	return slack.PostWebhook(n.webhookURL, msg)
}
