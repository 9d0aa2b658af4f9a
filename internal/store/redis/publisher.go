// Package redis publishes transition records and signal events to Redis
// for downstream consumers (dashboards, alert routers). The journal stays
// the source of truth; Redis is best-effort distribution, so publish
// failures are absorbed by a circuit breaker with local buffering instead
// of stalling the evaluation loop.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"pumpwatch/internal/model"
)

const (
	// Stream trimming: roughly a day of transitions per busy symbol.
	transitionStreamMaxLen = 10000
	signalStreamMaxLen     = 10000
	latestTTL              = 30 * time.Minute
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes transitions and signals to Redis streams and pubsub.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// NewPublisher creates a Publisher and pings the server.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// PublishTransition writes one transition record: XADD to the symbol
// stream, SET of the session's latest state, PUBLISH for live consumers.
// All three go out in one pipeline roundtrip.
func (p *Publisher) PublishTransition(ctx context.Context, rec model.TransitionRecord) error {
	data := string(rec.JSON())
	streamKey := "pw:transitions:" + rec.Symbol
	latestKey := "pw:session:latest:" + rec.SessionID
	pubsubCh := "pw:pub:transitions:" + rec.Symbol

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: transitionStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Set(ctx, latestKey, data, latestTTL)
	pipe.Publish(ctx, pubsubCh, data)
	_, err := pipe.Exec(ctx)
	return err
}

// PublishSignal writes one signal event to the signal stream and pubsub.
func (p *Publisher) PublishSignal(ctx context.Context, ev model.SignalEvent) error {
	data := string(ev.JSON())
	streamKey := "pw:signals:" + ev.Symbol
	pubsubCh := "pw:pub:signals:" + ev.Symbol

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, pubsubCh, data)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
