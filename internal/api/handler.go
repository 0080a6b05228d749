package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/yoyo3287258/wol-gateway/internal/broker"
	"github.com/yoyo3287258/wol-gateway/internal/channel"
	"github.com/yoyo3287258/wol-gateway/internal/config"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
	"github.com/yoyo3287258/wol-gateway/internal/metrics"
	"github.com/yoyo3287258/wol-gateway/internal/model"
)

// Submitter hands chat commands to the chat adapter; *bot.Bot satisfies it.
type Submitter interface {
	Submit(ctx context.Context, cmd model.ChatCommand) error
}

// HandlerOptions wires a Handler.
type HandlerOptions struct {
	Config *config.Config

	// Dial opens one broker connection per trigger request.
	Dial broker.Dialer

	// Bot receives webhook updates; nil when the chat adapter is not running.
	Bot Submitter

	// BrokerState reports the chat adapter's long-lived connection, if any.
	BrokerState func() broker.State

	Version string
}

// Handler serves the HTTP routes.
type Handler struct {
	cfg         *config.Config
	dial        broker.Dialer
	bot         Submitter
	brokerState func() broker.State
	version     string

	httpParser     *channel.HTTPParser
	telegramParser *channel.TelegramParser

	// inflight tracks fire-and-forget publishes still running.
	inflight sync.WaitGroup

	logger zerolog.Logger
}

// NewHandler creates the handler.
func NewHandler(opts HandlerOptions) *Handler {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		cfg:         opts.Config,
		dial:        opts.Dial,
		bot:         opts.Bot,
		brokerState: opts.BrokerState,
		version:     version,
		httpParser:  &channel.HTTPParser{},
		telegramParser: &channel.TelegramParser{
			WebhookSecret: opts.Config.Channels.Telegram.WebhookSecret,
		},
		logger: xlog.WithComponent("api"),
	}
}

// Health is the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{
		"status":  "up",
		"time":    time.Now(),
		"version": h.version,
	}
	if h.brokerState != nil {
		resp["broker"] = h.brokerState().String()
	}
	c.JSON(http.StatusOK, resp)
}

// Wake answers immediately and publishes /wol in the background.
func (h *Handler) Wake(c *gin.Context) {
	topic := h.cfg.Broker.TriggerTopic
	h.publishAsync(c.GetString(traceIDKey), topic, model.CommandWake, model.ChannelHTTP)

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"topic":   topic,
		"message": model.CommandWake.String(),
	})
}

// Ping checks that the broker accepts a connection. Nothing is published.
func (h *Handler) Ping(c *gin.Context) {
	client, err := h.dial(c.Request.Context())
	if err != nil {
		h.logger.Warn().Err(err).
			Str(xlog.FieldEvent, "api.ping_failed").
			Str(xlog.FieldTraceID, c.GetString(traceIDKey)).
			Msg("broker health check failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"detail": fmt.Sprintf("MQTT connection failed: %v", err),
		})
		return
	}
	if err := client.Close(); err != nil {
		h.logger.Debug().Err(err).Str(xlog.FieldEvent, "api.close_failed").Msg("close health check connection")
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "server and MQTT broker awake",
	})
}

// Command accepts {"text": "/status"} and publishes the command in the background.
func (h *Handler) Command(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "cannot read request body"})
		return
	}

	msg, err := h.httpParser.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	command, ok := model.ParseCommand(msg.Text)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": fmt.Sprintf("unknown command %q", msg.Text),
		})
		return
	}

	traceID := c.GetString(traceIDKey)
	topic := h.cfg.Broker.TriggerTopic
	h.publishAsync(traceID, topic, command, msg.Channel)

	c.JSON(http.StatusAccepted, gin.H{
		"success":  true,
		"topic":    topic,
		"message":  command.String(),
		"trace_id": traceID,
	})
}

// TelegramWebhook feeds webhook updates to the chat adapter.
// Updates that carry no command still get 200 so Telegram does not redeliver them.
func (h *Handler) TelegramWebhook(c *gin.Context) {
	if h.bot == nil || h.cfg.Channels.Telegram.UpdatesMode != config.UpdatesWebhook {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "telegram webhook not enabled"})
		return
	}

	if !h.telegramParser.Validate(c.Request.Header) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "webhook validation failed"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "cannot read request body"})
		return
	}

	cmd, err := h.telegramParser.Parse(body)
	if err != nil {
		if !errors.Is(err, channel.ErrIgnoredUpdate) {
			h.logger.Warn().Err(err).
				Str(xlog.FieldEvent, "api.webhook_parse_failed").
				Str(xlog.FieldTraceID, c.GetString(traceIDKey)).
				Msg("cannot parse telegram update")
		}
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.bot.Submit(c.Request.Context(), cmd); err != nil {
		h.logger.Error().Err(err).
			Str(xlog.FieldEvent, "api.webhook_submit_failed").
			Str(xlog.FieldTraceID, c.GetString(traceIDKey)).
			Msg("chat adapter did not accept update")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "chat adapter unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// publishAsync runs dial, publish and close off the request path.
// Failures are logged and counted only.
func (h *Handler) publishAsync(traceID, topic string, command model.Command, source model.MessageChannel) {
	timeout := h.cfg.Broker.ConnectTimeout + h.cfg.Broker.PublishTimeout

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		logger := h.logger.With().
			Str(xlog.FieldTraceID, traceID).
			Str(xlog.FieldTopic, topic).
			Str(xlog.FieldCommand, command.String()).
			Logger()

		if err := h.publishOnce(ctx, topic, command); err != nil {
			result := metrics.ResultError
			if errors.Is(err, broker.ErrUnavailable) {
				result = metrics.ResultUnavailable
			}
			metrics.IncPublished(string(source), command.String(), result)
			logger.Error().Err(err).Str(xlog.FieldEvent, "api.publish_failed").Msg("trigger publish failed")
			return
		}

		metrics.IncPublished(string(source), command.String(), metrics.ResultOK)
		logger.Info().Str(xlog.FieldEvent, "api.published").Msg("trigger command published")
	}()
}

func (h *Handler) publishOnce(ctx context.Context, topic string, command model.Command) error {
	client, err := h.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.Publish(ctx, topic, []byte(command))
}

// Wait blocks until in-flight publishes finish or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight publishes: %w", ctx.Err())
	}
}
