package model

import "time"

// MessageChannel identifies where an inbound command came from.
type MessageChannel string

const (
	ChannelHTTP     MessageChannel = "http"
	ChannelTelegram MessageChannel = "telegram"
)

// ChatCommand is a normalized inbound command from any channel.
type ChatCommand struct {
	// Text is the raw text the user sent, e.g. "/wol" or "/ping@my_bot".
	Text string `json:"text"`

	// Channel is the source channel.
	Channel MessageChannel `json:"channel"`

	// UserID is the sender's identity on the channel; zero when unknown.
	UserID int64 `json:"user_id"`

	// ChatID is where acknowledgements go.
	ChatID int64 `json:"chat_id"`

	ReceivedAt time.Time `json:"received_at"`
}

// NewChatCommand creates a ChatCommand stamped with the current time.
func NewChatCommand(text string, channel MessageChannel, userID, chatID int64) ChatCommand {
	return ChatCommand{
		Text:       text,
		Channel:    channel,
		UserID:     userID,
		ChatID:     chatID,
		ReceivedAt: time.Now(),
	}
}

// Name returns the command name without arguments or a @botname suffix.
// Text that is not a slash command yields "".
func (c ChatCommand) Name() string {
	return CommandName(c.Text)
}
