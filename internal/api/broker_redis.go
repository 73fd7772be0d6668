package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so that every API
// replica sees progress of plans solved elsewhere.
type RedisBroker struct {
	rdb *redis.Client
	log *zap.Logger

	mu   sync.Mutex
	subs map[chan Event]*redis.PubSub
}

func NewRedisBroker(url string, log *zap.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBroker{rdb: rdb, log: log, subs: map[chan Event]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(planID string) chan Event {
	ch := make(chan Event, 32)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(planID))
	// initial consume to ensure subscription
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("redis subscribe", zap.String("planId", planID), zap.Error(err))
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			deliver(ch, evt)
		}
	}()
	return ch
}

// Unsubscribe closes the PubSub; the relay goroutine then closes ch.
func (b *RedisBroker) Unsubscribe(planID string, ch chan Event) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(planID string, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	if err := b.rdb.Publish(ctx, b.chanName(planID), data).Err(); err != nil {
		b.log.Warn("redis publish", zap.String("planId", planID), zap.String("event", evt.Type), zap.Error(err))
	}
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) chanName(planID string) string { return "plan:" + planID }
