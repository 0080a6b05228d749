package channel

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/yoyo3287258/wol-gateway/internal/model"
)

// ErrIgnoredUpdate marks updates that carry no text message.
var ErrIgnoredUpdate = errors.New("update carries no text message")

// SecretTokenHeader carries the secret configured with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramParser parses Telegram webhook updates.
type TelegramParser struct {
	// WebhookSecret validates incoming requests; empty disables the check.
	WebhookSecret string
}

// Name returns the channel name.
func (p *TelegramParser) Name() string {
	return string(model.ChannelTelegram)
}

// TelegramUpdate is the subset of a webhook update the gateway reads.
type TelegramUpdate struct {
	UpdateID int              `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage Telegram message
type TelegramMessage struct {
	MessageID int           `json:"message_id"`
	From      *TelegramUser `json:"from,omitempty"`
	Chat      *TelegramChat `json:"chat"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramUser Telegram user
type TelegramUser struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username,omitempty"`
}

// TelegramChat Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"` // private, group, supergroup, channel
}

// Parse decodes a webhook update.
func (p *TelegramParser) Parse(rawData []byte) (model.ChatCommand, error) {
	var update TelegramUpdate
	if err := json.Unmarshal(rawData, &update); err != nil {
		return model.ChatCommand{}, fmt.Errorf("parse telegram update: %w", err)
	}

	msg := update.Message
	if msg == nil || msg.Text == "" || msg.Chat == nil {
		return model.ChatCommand{}, ErrIgnoredUpdate
	}

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}

	cmd := model.NewChatCommand(msg.Text, model.ChannelTelegram, userID, msg.Chat.ID)
	if msg.Date > 0 {
		cmd.ReceivedAt = time.Unix(msg.Date, 0)
	}
	return cmd, nil
}

// Validate checks the secret token header in constant time.
func (p *TelegramParser) Validate(headers http.Header) bool {
	if p.WebhookSecret == "" {
		return true
	}
	got := headers.Get(SecretTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(p.WebhookSecret)) == 1
}
