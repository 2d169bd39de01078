package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

func startRelay(t *testing.T, ctx context.Context, addr string) (*Relay, *Hub) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	hub := NewHub()
	relay := NewRelay(hub, client, "medalert:test", zerolog.Nop())
	go func() { _ = relay.Run(ctx) }()

	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay never subscribed")
	}
	return relay, hub
}

func TestRelay_CrossReplicaDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, hubA := startRelay(t, ctx, mr.Addr())
	_, hubB := startRelay(t, ctx, mr.Addr())

	subA, _ := hubA.Subscribe(Filter{HospitalID: "h-1"}, 8)
	subB, _ := hubB.Subscribe(Filter{HospitalID: "h-1"}, 8)

	if err := a.Publish(ctx, event("h-1", "", 1, 7)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case ev := <-subB.C:
		if ev.Version != 7 {
			t.Errorf("replica B got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replica B never received the event")
	}

	select {
	case <-subA.C:
	default:
		t.Fatal("local subscriber should receive the event immediately")
	}
	// The origin replica must not receive its own event a second time.
	select {
	case ev := <-subA.C:
		t.Fatalf("duplicate delivery on origin replica: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelay_RedisDownStillDeliversLocally(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay, hub := startRelay(t, ctx, mr.Addr())
	sub, _ := hub.Subscribe(Filter{}, 8)
	mr.Close()

	if err := relay.Publish(ctx, event("h-1", "", 1, 1)); err != nil {
		t.Fatalf("relay failure must not surface: %v", err)
	}
	select {
	case <-sub.C:
	default:
		t.Fatal("local delivery should not depend on Redis")
	}
}
