// Package bot relays chat commands to the broker and agent responses back to chat.
//
// Every outbound chat message is sent from the goroutine running Bot.Run.
// Pollers, webhooks and broker callbacks only hand work to that loop through
// channels, so the chat client is never driven from two goroutines at once.
package bot

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/yoyo3287258/wol-gateway/internal/auth"
	"github.com/yoyo3287258/wol-gateway/internal/broker"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
	"github.com/yoyo3287258/wol-gateway/internal/metrics"
	"github.com/yoyo3287258/wol-gateway/internal/model"
	"github.com/yoyo3287258/wol-gateway/internal/render"
)

// ErrStopped is returned by Submit once Run has returned.
var ErrStopped = errors.New("bot stopped")

// WelcomeText is the /start reply (Markdown).
const WelcomeText = "👋🏻 Hi, I'm *WoL*, your personal Wake-on-LAN bot!\n\n" +
	"Available commands:\n" +
	"🚀 /wol - Turn on your PC using Magic Packet\n" +
	"💖 /ping - Check if the PC is on\n" +
	"📊 /status - Show bot status\n" +
	"✨ /start - Show this welcome message"

var acknowledgements = map[model.Command]string{
	model.CommandPing:   "⏱ Checking PC status...",
	model.CommandStatus: "📊 Fetching PC status...",
	model.CommandWake:   "⚡ Sending Magic Packet to turn on PC...",
}

// Sender delivers chat messages.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, markdown bool) error
}

// Publisher is the broker side; broker.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Connected() bool
}

// Config for the relay.
type Config struct {
	// CommandsTopic receives command tokens.
	CommandsTopic string

	PublishTimeout time.Duration
	SendTimeout    time.Duration

	// QueueSize buffers commands and responses waiting for the loop.
	QueueSize int
}

// Bot is the chat adapter.
type Bot struct {
	cfg    Config
	guard  *auth.Guard
	pub    Publisher
	sender Sender

	commands  chan model.ChatCommand
	responses chan []byte
	stopped   chan struct{}

	logger zerolog.Logger
}

// New creates a bot. Call Run to start processing.
func New(cfg Config, guard *auth.Guard, pub Publisher, sender Sender) *Bot {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Bot{
		cfg:       cfg,
		guard:     guard,
		pub:       pub,
		sender:    sender,
		commands:  make(chan model.ChatCommand, cfg.QueueSize),
		responses: make(chan []byte, cfg.QueueSize),
		stopped:   make(chan struct{}),
		logger:    xlog.WithComponent("bot"),
	}
}

// Submit queues an inbound command for the loop. Safe for concurrent use.
func (b *Bot) Submit(ctx context.Context, cmd model.ChatCommand) error {
	select {
	case <-b.stopped:
		return ErrStopped
	default:
	}

	select {
	case b.commands <- cmd:
		return nil
	case <-b.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleResponse is the broker subscription handler for the response topic.
// It blocks while the queue is full so responses keep their arrival order.
func (b *Bot) HandleResponse(msg broker.Message) {
	payload := bytes.Clone(msg.Payload)
	select {
	case b.responses <- payload:
	case <-b.stopped:
		b.logger.Debug().
			Str(xlog.FieldEvent, "bot.response_dropped").
			Str(xlog.FieldToken, string(payload)).
			Msg("bot stopped, dropping response")
	}
}

// Run processes commands and responses until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	defer close(b.stopped)

	b.logger.Info().Str(xlog.FieldEvent, "bot.started").Msg("bot loop started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Str(xlog.FieldEvent, "bot.stopped").Msg("bot loop stopped")
			return nil
		case cmd := <-b.commands:
			b.handleCommand(ctx, cmd)
		case payload := <-b.responses:
			b.deliverResponse(ctx, payload)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, cmd model.ChatCommand) {
	// unauthorized senders get no reply at all
	if !b.guard.IsAuthorized(cmd.UserID) {
		metrics.IncUnauthorized(string(cmd.Channel))
		b.logger.Debug().
			Str(xlog.FieldEvent, "bot.unauthorized").
			Int64(xlog.FieldUserID, cmd.UserID).
			Str(xlog.FieldSource, string(cmd.Channel)).
			Msg("ignoring command from unauthorized sender")
		return
	}

	if cmd.Name() == "start" {
		b.send(ctx, cmd.ChatID, WelcomeText, true)
		return
	}

	command, ok := model.ParseCommand(cmd.Text)
	if !ok {
		b.logger.Debug().
			Str(xlog.FieldEvent, "bot.unknown_command").
			Str(xlog.FieldCommand, cmd.Name()).
			Msg("ignoring unknown command")
		return
	}

	b.publish(ctx, command)
	// the acknowledgement does not depend on the agent acting
	b.send(ctx, cmd.ChatID, acknowledgements[command], false)
}

func (b *Bot) publish(ctx context.Context, command model.Command) {
	source := string(model.ChannelTelegram)
	if !b.pub.Connected() {
		metrics.IncPublished(source, command.String(), metrics.ResultUnavailable)
		b.logger.Warn().
			Str(xlog.FieldEvent, "bot.publish_skipped").
			Str(xlog.FieldCommand, command.String()).
			Msg("cannot publish command, broker not connected")
		return
	}

	pubCtx, cancel := withTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	if err := b.pub.Publish(pubCtx, b.cfg.CommandsTopic, []byte(command)); err != nil {
		metrics.IncPublished(source, command.String(), metrics.ResultError)
		b.logger.Error().Err(err).
			Str(xlog.FieldEvent, "bot.publish_failed").
			Str(xlog.FieldCommand, command.String()).
			Str(xlog.FieldTopic, b.cfg.CommandsTopic).
			Msg("failed to publish command")
		return
	}

	metrics.IncPublished(source, command.String(), metrics.ResultOK)
	b.logger.Info().
		Str(xlog.FieldEvent, "bot.published").
		Str(xlog.FieldCommand, command.String()).
		Str(xlog.FieldTopic, b.cfg.CommandsTopic).
		Msg("command published")
}

// deliverResponse renders an agent response for the authorized identity.
// Responses are not correlated with earlier commands.
func (b *Bot) deliverResponse(ctx context.Context, payload []byte) {
	token := string(payload)
	known := render.Known(token)
	metrics.IncResponse(token, known)

	text := render.Render(token)
	if text == "" {
		b.logger.Debug().
			Str(xlog.FieldEvent, "bot.response_unrecognized").
			Str(xlog.FieldToken, token).
			Msg("no rendering for response")
		return
	}

	b.send(ctx, b.guard.AllowedID(), text, false)
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, markdown bool) {
	sendCtx, cancel := withTimeout(ctx, b.cfg.SendTimeout)
	defer cancel()

	if err := b.sender.Send(sendCtx, chatID, text, markdown); err != nil {
		metrics.ChatSendFailuresTotal.Inc()
		b.logger.Error().Err(err).
			Str(xlog.FieldEvent, "bot.send_failed").
			Int64(xlog.FieldChatID, chatID).
			Msg("failed to send chat message")
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
