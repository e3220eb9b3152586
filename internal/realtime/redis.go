package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "auction:"

func channelFor(auctionID string) string {
	return channelPrefix + auctionID
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisPublisher publishes events to the auction's Redis channel so every
// API instance can relay them to its own subscribers.
type RedisPublisher struct {
	Client  *redis.Client
	Timeout time.Duration
	Log     zerolog.Logger
}

func (p *RedisPublisher) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.Log.Error().Err(err).Str("auction_id", ev.AuctionID).Msg("marshal event")
		return
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Client.Publish(ctx, channelFor(ev.AuctionID), payload).Err(); err != nil {
		p.Log.Warn().Err(err).Str("auction_id", ev.AuctionID).Str("type", string(ev.Type)).Msg("redis publish failed")
	}
}

// RedisRelay forwards events from every auction channel into a local Publisher.
type RedisRelay struct {
	Client *redis.Client
	Local  Publisher
	Log    zerolog.Logger
}

// Run blocks until ctx is done or the subscription channel closes.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.Client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.Log.Warn().Err(err).Str("channel", msg.Channel).Msg("bad event payload")
				continue
			}
			if ev.AuctionID == "" {
				ev.AuctionID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			r.Local.Publish(ev)
		}
	}
}
