package notification

import (
	"context"
	"errors"
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// SlackChannel delivers messages through the Slack web API. The target
// channel ID lives on the notify target, so one client serves every
// rule.
type SlackChannel struct {
	api *goslack.Client
}

// NewSlackChannel creates a Slack channel. An empty token leaves the
// channel unconfigured; sends then fail with a clear error.
func NewSlackChannel(token string) *SlackChannel {
	if token == "" {
		return &SlackChannel{}
	}
	return &SlackChannel{api: goslack.New(token)}
}

// NewSlackChannelWithAPIURL creates a Slack channel that targets a custom
// API URL. Useful for testing with a mock server.
func NewSlackChannelWithAPIURL(token, apiURL string) *SlackChannel {
	return &SlackChannel{api: goslack.New(token, goslack.OptionAPIURL(apiURL))}
}

func (c *SlackChannel) Type() models.TargetType { return models.TargetSlack }

// Send posts the task message to the target channel.
func (c *SlackChannel) Send(ctx context.Context, target models.NotifyTarget, task *models.NotificationTask) error {
	if c.api == nil {
		return errors.New("slack token not configured")
	}
	if target.ChannelID == "" {
		return errors.New("slack target has no channel_id")
	}

	_, _, err := c.api.PostMessageContext(ctx, target.ChannelID,
		goslack.MsgOptionText(task.Message, false))
	if err != nil {
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return nil
}
