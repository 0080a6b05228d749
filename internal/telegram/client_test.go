package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoyo3287258/wol-gateway/internal/model"
	"go.uber.org/goleak"
)

type fakeAPI struct {
	sent    []tgbotapi.MessageConfig
	sendErr error
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.stopped = true
}

func textUpdate(from, chat int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 10,
			From:      &tgbotapi.User{ID: from},
			Chat:      &tgbotapi.Chat{ID: chat, Type: "private"},
			Date:      1700000000,
			Text:      text,
		},
	}
}

func TestSend(t *testing.T) {
	api := &fakeAPI{}
	c := NewClientWithAPI(api, 60)

	require.NoError(t, c.Send(context.Background(), 42, "⏱ Checking PC status...", false))
	require.NoError(t, c.Send(context.Background(), 42, "*WoL*", true))

	require.Len(t, api.sent, 2)
	assert.Equal(t, int64(42), api.sent[0].ChatID)
	assert.Equal(t, "⏱ Checking PC status...", api.sent[0].Text)
	assert.Empty(t, api.sent[0].ParseMode)
	assert.Equal(t, tgbotapi.ModeMarkdown, api.sent[1].ParseMode)
}

func TestSendError(t *testing.T) {
	c := NewClientWithAPI(&fakeAPI{sendErr: errors.New("Bad Request: chat not found")}, 60)
	err := c.Send(context.Background(), 42, "hi", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestPollForwardsTextMessages(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	api := &fakeAPI{updates: make(chan tgbotapi.Update, 3)}
	api.updates <- textUpdate(7, 70, "/wol")
	api.updates <- tgbotapi.Update{UpdateID: 2} // no message
	api.updates <- textUpdate(8, 80, "/ping")

	c := NewClientWithAPI(api, 1)
	ctx, cancel := context.WithCancel(context.Background())

	var got []model.ChatCommand
	done := make(chan error, 1)
	go func() {
		done <- c.Poll(ctx, func(_ context.Context, cmd model.ChatCommand) error {
			got = append(got, cmd)
			if len(got) == 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after cancel")
	}

	require.Len(t, got, 2)
	assert.Equal(t, "/wol", got[0].Text)
	assert.Equal(t, int64(7), got[0].UserID)
	assert.Equal(t, int64(70), got[0].ChatID)
	assert.Equal(t, model.ChannelTelegram, got[0].Channel)
	assert.Equal(t, time.Unix(1700000000, 0), got[0].ReceivedAt)
	assert.True(t, api.stopped)
}

func TestPollStopsOnSinkError(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 1)}
	api.updates <- textUpdate(7, 70, "/wol")

	sinkErr := errors.New("bot stopped")
	err := NewClientWithAPI(api, 1).Poll(context.Background(), func(context.Context, model.ChatCommand) error {
		return sinkErr
	})
	assert.ErrorIs(t, err, sinkErr)
}

func TestCommandFromUpdateWithoutSender(t *testing.T) {
	u := textUpdate(0, 70, "/wol")
	u.Message.From = nil

	cmd, ok := CommandFromUpdate(u)
	require.True(t, ok)
	assert.Zero(t, cmd.UserID)
}
