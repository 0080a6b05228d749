package broker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDoesNotBlockOnSlowHandler(t *testing.T) {
	d := newDispatcher()

	gate := make(chan struct{})
	got := make(chan string, 10)
	h := func(m Message) {
		<-gate
		got <- string(m.Payload)
	}

	enqueued := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.enqueue(h, Message{Topic: "resp", Payload: []byte(fmt.Sprint(i))})
		}
		close(enqueued)
	}()

	select {
	case <-enqueued:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked behind a handler")
	}

	close(gate)
	for i := 0; i < 5; i++ {
		select {
		case p := <-got:
			assert.Equal(t, fmt.Sprint(i), p)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}
	d.stop()
}

func TestDispatcherStopWaitsForRunningHandler(t *testing.T) {
	d := newDispatcher()

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	d.enqueue(func(Message) {
		close(started)
		<-release
		finished.Store(true)
	}, Message{})
	<-started

	stopped := make(chan struct{})
	go func() {
		d.stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned while a handler was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped
	assert.True(t, finished.Load())

	// enqueue after stop is dropped, stop is idempotent
	d.enqueue(func(Message) { t.Error("handler ran after stop") }, Message{})
	d.stop()
}

func TestKafkaSubscribeSerializesPartitions(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"home/wol/response": {0, 1}})
	p0 := consumer.ExpectConsumePartition("home/wol/response", 0, sarama.OffsetNewest)
	p1 := consumer.ExpectConsumePartition("home/wol/response", 1, sarama.OffsetNewest)

	c := newKafkaClient(nil, nil, consumer, Options{Logger: zerolog.Nop()})

	const perPartition = 20
	var (
		active, maxActive atomic.Int32
		mu                sync.Mutex
		seen              = map[int32][]string{}
		wg                sync.WaitGroup
	)
	wg.Add(2 * perPartition)
	require.NoError(t, c.Subscribe("home/wol/response", func(m Message) {
		defer wg.Done()
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)

		var partition int32
		var seq string
		_, _ = fmt.Sscanf(string(m.Payload), "%d-%s", &partition, &seq)
		mu.Lock()
		seen[partition] = append(seen[partition], seq)
		mu.Unlock()
	}))

	for i := 0; i < perPartition; i++ {
		p0.YieldMessage(&sarama.ConsumerMessage{Value: []byte(fmt.Sprintf("0-%02d", i))})
		p1.YieldMessage(&sarama.ConsumerMessage{Value: []byte(fmt.Sprintf("1-%02d", i))})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not every message was delivered")
	}
	require.NoError(t, c.Close())

	assert.Equal(t, int32(1), maxActive.Load(), "handler must never run concurrently")
	for _, partition := range []int32{0, 1} {
		want := make([]string, perPartition)
		for i := range want {
			want[i] = fmt.Sprintf("%02d", i)
		}
		assert.Equal(t, want, seen[partition], "partition %d order", partition)
	}
}
