package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

const wecomWebhookBase = "https://qyapi.weixin.qq.com/cgi-bin/webhook/send"

// WeComChannel delivers messages through WeCom group robot webhooks.
// The webhook key lives on the target, not the channel, so one channel
// serves every group.
type WeComChannel struct {
	webhookBase string
	client      *http.Client
}

// NewWeComChannel creates a WeCom channel.
func NewWeComChannel() *WeComChannel {
	return NewWeComChannelWithWebhookBase(wecomWebhookBase)
}

// NewWeComChannelWithWebhookBase creates a WeCom channel against a custom
// webhook base URL. Used by tests with an httptest server.
func NewWeComChannelWithWebhookBase(base string) *WeComChannel {
	return &WeComChannel{
		webhookBase: base,
		client:      &http.Client{Timeout: sendTimeout},
	}
}

func (c *WeComChannel) Type() models.TargetType { return models.TargetWeCom }

// Send posts the task message as markdown to the target's group robot.
func (c *WeComChannel) Send(ctx context.Context, target models.NotifyTarget, task *models.NotificationTask) error {
	if target.WebhookKey == "" {
		return errors.New("wecom target has no webhook_key")
	}

	payload, err := json.Marshal(map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": task.Message,
		},
	})
	if err != nil {
		return fmt.Errorf("encode wecom payload: %w", err)
	}

	url := c.webhookBase + "?key=" + target.WebhookKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build wecom request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send wecom message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wecom webhook returned %d", resp.StatusCode)
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode wecom response: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("wecom webhook rejected message: %d %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}
