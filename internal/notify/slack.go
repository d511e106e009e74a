package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Slack posts alerts to a single channel.
type Slack struct {
	api     *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlack creates a Slack notifier. The token must be a bot token with
// chat:write scope.
func NewSlack(token, channel string, logger *slog.Logger) (*Slack, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: slack token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		api:     slack.New(token),
		channel: channel,
		logger:  logger,
	}, nil
}

func (s *Slack) Name() string { return "slack" }

// Notify posts the alert as a bolded-title message.
func (s *Slack) Notify(ctx context.Context, a Alert) error {
	text := "*" + a.Title + "*"
	if a.Detail != "" {
		text += "\n" + a.Detail
	}
	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}
