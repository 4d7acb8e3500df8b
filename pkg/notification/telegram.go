package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramChannel delivers messages through the Telegram bot API.
type TelegramChannel struct {
	token   string
	apiBase string
	client  *http.Client
}

// NewTelegramChannel creates a Telegram channel. An empty token leaves
// the channel unconfigured; sends then fail with a clear error.
func NewTelegramChannel(token string) *TelegramChannel {
	return NewTelegramChannelWithAPIBase(token, telegramAPIBase)
}

// NewTelegramChannelWithAPIBase creates a Telegram channel against a
// custom API base URL. Used by tests with an httptest server.
func NewTelegramChannelWithAPIBase(token, apiBase string) *TelegramChannel {
	return &TelegramChannel{
		token:   token,
		apiBase: apiBase,
		client:  &http.Client{Timeout: sendTimeout},
	}
}

func (c *TelegramChannel) Type() models.TargetType { return models.TargetTelegram }

// Send posts the task message to the target chat. ChatID takes
// precedence; UserID is accepted as a direct-message chat ID.
func (c *TelegramChannel) Send(ctx context.Context, target models.NotifyTarget, task *models.NotificationTask) error {
	if c.token == "" {
		return errors.New("telegram bot token not configured")
	}
	chatID := target.ChatID
	if chatID == "" {
		chatID = target.UserID
	}
	if chatID == "" {
		return errors.New("telegram target has no chat_id or user_id")
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    task.Message,
	})
	if err != nil {
		return fmt.Errorf("encode telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API returned %d: %s", resp.StatusCode, body)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram API rejected message: %s", result.Description)
	}
	return nil
}
