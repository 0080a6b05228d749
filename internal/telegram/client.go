// Package telegram sends chat messages and receives commands over the Bot API.
package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
	"github.com/yoyo3287258/wol-gateway/internal/model"
)

// API is the part of tgbotapi.BotAPI the client uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Client wraps the Bot API.
type Client struct {
	api         API
	pollTimeout int
	logger      zerolog.Logger
}

// NewClient authenticates with the bot token.
func NewClient(token string, pollTimeout int) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	c := NewClientWithAPI(api, pollTimeout)
	c.logger.Info().
		Str(xlog.FieldEvent, "telegram.authorized").
		Str("bot", api.Self.UserName).
		Msg("authorized on telegram")
	return c, nil
}

// NewClientWithAPI builds a client on an existing API value.
func NewClientWithAPI(api API, pollTimeout int) *Client {
	return &Client{
		api:         api,
		pollTimeout: pollTimeout,
		logger:      xlog.WithComponent("telegram"),
	}
}

// Send delivers text to chatID, as Markdown when markdown is set.
// tgbotapi has no per-call context, so ctx is only checked up front.
func (c *Client) Send(ctx context.Context, chatID int64, text string, markdown bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// Poll long-polls for updates until ctx is done and passes every text
// message to sink. It returns when ctx is done or sink fails.
func (c *Client) Poll(ctx context.Context, sink func(context.Context, model.ChatCommand) error) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.pollTimeout
	u.AllowedUpdates = []string{"message"}

	updates := c.api.GetUpdatesChan(u)
	defer c.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			cmd, ok := CommandFromUpdate(update)
			if !ok {
				continue
			}
			if err := sink(ctx, cmd); err != nil {
				return err
			}
		}
	}
}

// CommandFromUpdate extracts a text command. Non-message updates are skipped.
func CommandFromUpdate(update tgbotapi.Update) (model.ChatCommand, bool) {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.Chat == nil {
		return model.ChatCommand{}, false
	}

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}

	cmd := model.NewChatCommand(msg.Text, model.ChannelTelegram, userID, msg.Chat.ID)
	if msg.Date > 0 {
		cmd.ReceivedAt = time.Unix(int64(msg.Date), 0)
	}
	return cmd, true
}
