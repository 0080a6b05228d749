package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoyo3287258/wol-gateway/internal/auth"
	"github.com/yoyo3287258/wol-gateway/internal/broker"
	"github.com/yoyo3287258/wol-gateway/internal/model"
	"go.uber.org/goleak"
)

const (
	ownerID  int64 = 1001
	ownerCh  int64 = 2002
	cmdTopic       = "home/wol/commands"
)

type published struct {
	topic   string
	payload string
}

type fakePublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	msgs      []published
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: string(payload)})
	return nil
}

func (p *fakePublisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePublisher) published() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type sent struct {
	chatID   int64
	text     string
	markdown bool
}

type fakeSender struct {
	out chan sent
	err error
}

func newFakeSender() *fakeSender {
	return &fakeSender{out: make(chan sent, 16)}
}

func (s *fakeSender) Send(_ context.Context, chatID int64, text string, markdown bool) error {
	s.out <- sent{chatID: chatID, text: text, markdown: markdown}
	return s.err
}

func (s *fakeSender) next(t *testing.T) sent {
	t.Helper()
	select {
	case m := <-s.out:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no chat message sent")
		return sent{}
	}
}

func (s *fakeSender) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case m := <-s.out:
		t.Fatalf("unexpected chat message %q", m.text)
	default:
	}
}

// startBot runs the loop and stops it when the test ends.
func startBot(t *testing.T, pub *fakePublisher, sender *fakeSender) *Bot {
	t.Helper()
	b := New(Config{CommandsTopic: cmdTopic, SendTimeout: time.Second, PublishTimeout: time.Second},
		auth.NewGuard(ownerID), pub, sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("bot loop did not stop")
		}
	})
	return b
}

func submit(t *testing.T, b *Bot, userID int64, text string) {
	t.Helper()
	require.NoError(t, b.Submit(context.Background(),
		model.NewChatCommand(text, model.ChannelTelegram, userID, ownerCh)))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStartSendsWelcome(t *testing.T) {
	pub := &fakePublisher{connected: true}
	sender := newFakeSender()
	b := startBot(t, pub, sender)

	submit(t, b, ownerID, "/start")

	m := sender.next(t)
	assert.Equal(t, ownerCh, m.chatID)
	assert.Equal(t, WelcomeText, m.text)
	assert.True(t, m.markdown)
	assert.Empty(t, pub.published())
}

func TestCommandsPublishExactTokenAndAcknowledge(t *testing.T) {
	tests := []struct {
		text  string
		token string
		ack   string
	}{
		{"/wol", "/wol", "⚡ Sending Magic Packet to turn on PC..."},
		{"/ping", "/ping", "⏱ Checking PC status..."},
		{"/status", "/status", "📊 Fetching PC status..."},
		{"/status@WoLBot", "/status", "📊 Fetching PC status..."},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			pub := &fakePublisher{connected: true}
			sender := newFakeSender()
			b := startBot(t, pub, sender)

			submit(t, b, ownerID, tt.text)

			m := sender.next(t)
			assert.Equal(t, ownerCh, m.chatID)
			assert.Equal(t, tt.ack, m.text)
			assert.False(t, m.markdown)
			assert.Equal(t, []published{{topic: cmdTopic, payload: tt.token}}, pub.published())
		})
	}
}

func TestUnauthorizedSenderIsIgnored(t *testing.T) {
	pub := &fakePublisher{connected: true}
	sender := newFakeSender()
	b := startBot(t, pub, sender)

	submit(t, b, 999, "/wol")
	submit(t, b, 999, "/start")
	// the loop handles commands in order, so the owner's reply comes last
	submit(t, b, ownerID, "/start")

	m := sender.next(t)
	assert.Equal(t, WelcomeText, m.text)
	sender.assertIdle(t)
	assert.Empty(t, pub.published())
}

func TestZeroAllowedIDAuthorizesNobody(t *testing.T) {
	pub := &fakePublisher{connected: true}
	sender := newFakeSender()
	b := New(Config{CommandsTopic: cmdTopic}, auth.NewGuard(0), pub, sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.NoError(t, b.Submit(ctx, model.NewChatCommand("/wol", model.ChannelTelegram, 0, 0)))
	// the zero identity still receives responses, it just cannot command
	b.HandleResponse(broker.Message{Topic: "resp", Payload: []byte("/ping_ok")})

	m := sender.next(t)
	assert.Equal(t, "💖 The PC is online", m.text)
	assert.Empty(t, pub.published())

	cancel()
	require.NoError(t, <-done)
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	pub := &fakePublisher{connected: true}
	sender := newFakeSender()
	b := startBot(t, pub, sender)

	submit(t, b, ownerID, "/reboot")
	submit(t, b, ownerID, "hello")
	submit(t, b, ownerID, "/start")

	assert.Equal(t, WelcomeText, sender.next(t).text)
	sender.assertIdle(t)
	assert.Empty(t, pub.published())
}

func TestPublishWhileDisconnectedStillAcknowledges(t *testing.T) {
	pub := &fakePublisher{connected: false}
	sender := newFakeSender()
	b := startBot(t, pub, sender)

	submit(t, b, ownerID, "/ping")

	assert.Equal(t, "⏱ Checking PC status...", sender.next(t).text)
	assert.Empty(t, pub.published())
}

func TestPublishErrorStillAcknowledges(t *testing.T) {
	pub := &fakePublisher{connected: true, err: errors.New("broker unavailable")}
	sender := newFakeSender()
	b := startBot(t, pub, sender)

	submit(t, b, ownerID, "/wol")

	assert.Equal(t, "⚡ Sending Magic Packet to turn on PC...", sender.next(t).text)
}

func TestResponsesAreRenderedForOwner(t *testing.T) {
	pub := &fakePublisher{connected: true}
	sender := newFakeSender()
	b := startBot(t, pub, sender)

	b.HandleResponse(broker.Message{Topic: "resp", Payload: []byte("/wol_sent")})

	m := sender.next(t)
	assert.Equal(t, ownerID, m.chatID)
	assert.Equal(t, "⚡ Magic Packet has been sent", m.text)
	assert.False(t, m.markdown)
}

func TestResponsesKeepArrivalOrder(t *testing.T) {
	pub := &fakePublisher{connected: true}
	sender := newFakeSender()
	b := startBot(t, pub, sender)

	b.HandleResponse(broker.Message{Payload: []byte("/wol_sent")})
	b.HandleResponse(broker.Message{Payload: []byte("/wol_ok")})

	assert.Equal(t, "⚡ Magic Packet has been sent", sender.next(t).text)
	assert.Equal(t, "✅ The PC turned on successfully", sender.next(t).text)
}

func TestUnknownResponseIsNotDelivered(t *testing.T) {
	pub := &fakePublisher{connected: true}
	sender := newFakeSender()
	b := startBot(t, pub, sender)

	b.HandleResponse(broker.Message{Payload: []byte("/reboot_ok")})
	b.HandleResponse(broker.Message{Payload: []byte("/ping_fail")})

	assert.Equal(t, "❌ The PC is offline or unreachable", sender.next(t).text)
	sender.assertIdle(t)
}

func TestMalformedStatusDoesNotStopLaterResponses(t *testing.T) {
	pub := &fakePublisher{connected: true}
	sender := newFakeSender()
	b := startBot(t, pub, sender)

	b.HandleResponse(broker.Message{Payload: []byte(`/stat_info {"Status": "on"`)})
	b.HandleResponse(broker.Message{Payload: []byte(`/stat_info {"Status": "on", "SSID": "home"}`)})

	first := sender.next(t)
	assert.Contains(t, first.text, "⚠️ Error parsing status info:")

	second := sender.next(t)
	assert.Equal(t, "📊 Bot info:\nStatus: on\nSSID: home\n", second.text)
}

func TestSendFailureDoesNotStopLoop(t *testing.T) {
	pub := &fakePublisher{connected: true}
	sender := newFakeSender()
	sender.err = errors.New("Forbidden: bot was blocked by the user")
	b := startBot(t, pub, sender)

	submit(t, b, ownerID, "/ping")
	submit(t, b, ownerID, "/status")

	assert.Equal(t, "⏱ Checking PC status...", sender.next(t).text)
	assert.Equal(t, "📊 Fetching PC status...", sender.next(t).text)
	assert.Len(t, pub.published(), 2)
}

func TestSubmitAfterStop(t *testing.T) {
	b := New(Config{}, auth.NewGuard(ownerID), &fakePublisher{}, newFakeSender())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Run(ctx))

	err := b.Submit(context.Background(), model.NewChatCommand("/wol", model.ChannelTelegram, ownerID, ownerCh))
	assert.ErrorIs(t, err, ErrStopped)

	// must not block once the loop is gone
	b.HandleResponse(broker.Message{Payload: []byte("/wol_ok")})
}
