package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/medalert/medalert/internal/platform/metrics"
)

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Relay fans events out across replicas over Redis pub/sub. Local
// subscribers are always served from the local hub; the Redis leg is best
// effort and sits behind a circuit breaker.
type Relay struct {
	hub     *Hub
	client  *redis.Client
	channel string
	origin  string
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	metrics *metrics.Metrics
	ready   chan struct{}
	once    sync.Once
}

func NewRelay(hub *Hub, client *redis.Client, channel string, logger zerolog.Logger) *Relay {
	logger = logger.With().Str("component", "realtime-relay").Logger()
	r := &Relay{
		hub:     hub,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
		ready:   make(chan struct{}),
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-relay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("relay circuit breaker state changed")
		},
	})
	return r
}

func (r *Relay) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// Ready is closed once Run has first confirmed its Redis subscription.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Publish delivers ev to local subscribers and forwards it to other
// replicas. Relay failures are logged and counted, never returned.
func (r *Relay) Publish(ctx context.Context, ev Event) error {
	_ = r.hub.Publish(ctx, ev)

	payload, err := json.Marshal(envelope{Origin: r.origin, Event: ev})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	_, err = r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Publish(ctx, r.channel, payload).Err()
	})
	if err != nil {
		r.metrics.RelayError()
		r.logger.Warn().Err(err).Str("event_id", ev.ID).Str("type", ev.Type).Msg("relay publish failed")
	}
	return nil
}

// Run consumes events published by other replicas and hands them to the local
// hub until ctx is cancelled. It may be called again after it returns an
// error.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.once.Do(func() { close(r.ready) })
	r.logger.Info().Str("channel", r.channel).Msg("relay subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn().Err(err).Msg("discarding malformed relay message")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			_ = r.hub.Publish(ctx, env.Event)
		}
	}
}
