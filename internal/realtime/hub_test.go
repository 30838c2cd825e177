package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case event, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestLocalHubDeliversToChannelSubscribersOnly(t *testing.T) {
	hub, err := NewHub(context.Background(), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	general := hub.Subscribe("general")
	defer general.Close()
	other := hub.Subscribe("other")
	defer other.Close()

	event, err := NewEvent(EventMessageNew, "general", map[string]string{"content": "hello"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := hub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := receive(t, general)
	if got.Type != EventMessageNew || string(got.Payload) != `{"content":"hello"}` {
		t.Fatalf("unexpected event %+v", got)
	}
	select {
	case event := <-other.C:
		t.Fatalf("other channel received %+v", event)
	default:
	}
}

func TestSubscriptionCloseRemovesRoom(t *testing.T) {
	hub, _ := NewHub(context.Background(), nil, zap.NewNop())
	sub := hub.Subscribe("general")
	if hub.Subscribers("general") != 1 {
		t.Fatalf("expected one subscriber")
	}
	sub.Close()
	sub.Close()
	if hub.Subscribers("general") != 0 {
		t.Fatalf("expected room to be removed")
	}
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel")
	}
}

func TestRedisHubFansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}
	publisher, err := NewHub(ctx, newClient(), zap.NewNop())
	if err != nil {
		t.Fatalf("publisher hub: %v", err)
	}
	t.Cleanup(func() { _ = publisher.Close() })
	listener, err := NewHub(ctx, newClient(), zap.NewNop())
	if err != nil {
		t.Fatalf("listener hub: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })

	sub := listener.Subscribe("ch-1")
	defer sub.Close()

	event, _ := NewEvent(EventMessageDeleted, "ch-1", map[string]string{"id": "m-1"})
	if err := publisher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := receive(t, sub)
	if got.Type != EventMessageDeleted || got.ChannelID != "ch-1" {
		t.Fatalf("unexpected event %+v", got)
	}
}
