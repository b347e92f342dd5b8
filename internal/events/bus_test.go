package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToAllSubscribersInOrder(t *testing.T) {
	b := NewBus()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	ctx := context.Background()
	b.Publish(ctx, NewToolCallEvent("t1", 1, "list_tables", nil))
	b.Publish(ctx, NewToolResultEvent("t1", 1, "list_tables", []string{"a"}))

	for _, sub := range []*Subscription{sub1, sub2} {
		e1 := <-sub.Events
		require.Equal(t, ToolCall, e1.Type())
		e2 := <-sub.Events
		require.Equal(t, ToolResult, e2.Type())
	}
}

func TestBus_SubscribeAfterPublishMissesEarlierEvents(t *testing.T) {
	b := NewBus()
	b.Publish(context.Background(), NewDoneEvent("t1"))

	sub := b.Subscribe()
	defer sub.Close()
	select {
	case <-sub.Events:
		t.Fatal("subscriber registered after publish should not see the earlier event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_CloseUnregistersAndIsIdempotent(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	sub.Close()
	require.Equal(t, 0, b.SubscriberCount())
	require.NotPanics(t, func() { sub.Close() })

	_, ok := <-sub.Events
	require.False(t, ok, "channel should be closed")
}

func TestBus_SlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	b := NewBus(WithQueueSize(1))
	slow := b.Subscribe()
	fast := b.Subscribe()
	defer fast.Close()

	ctx := context.Background()
	// Fill the slow subscriber's queue, drain only the fast one, then
	// publish again: the slow subscriber's queue is still full and should
	// be dropped rather than blocking this goroutine.
	b.Publish(ctx, NewDoneEvent("t1"))
	<-fast.Events

	done := make(chan struct{})
	go func() {
		b.Publish(ctx, NewDoneEvent("t1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	<-slow.Events // drain the first queued event
	_, ok := <-slow.Events
	require.False(t, ok, "slow subscriber should have been dropped and its channel closed")

	e := <-fast.Events
	require.Equal(t, Done, e.Type())
}

func TestBus_PublishWithNoSubscribersIsNoop(t *testing.T) {
	b := NewBus()
	require.NotPanics(t, func() {
		b.Publish(context.Background(), NewMessageEvent("t1", "hello"))
	})
}
