// Package redisps is the Redis presence driver. Status and typing
// flags live under parley:presence:<uid> and parley:typing:<uid>;
// every write also publishes the new value on a channel of the same
// name, so watches never poll.
package redisps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/presence"
)

const (
	statusPrefix = "parley:presence:"
	typingPrefix = "parley:typing:"
)

// Store watches and writes presence through one shared Redis client.
type Store struct {
	client *goredis.Client
}

// Open connects to a Redis-compatible URL and verifies it with a ping.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("presence: invalid redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: ping failed: %w", err)
	}
	return &Store{client: client}, nil
}

// statusPayload is the JSON value stored and published for one uid.
type statusPayload struct {
	Status      string `json:"status"`
	LastChanged int64  `json:"lastChanged"`
}

func decodeStatus(data []byte) model.PresenceRecord {
	var p statusPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Status == "" {
		return model.PresenceRecord{Status: model.StatusOffline}
	}
	return model.PresenceRecord{
		Status:      p.Status,
		LastChanged: time.UnixMilli(p.LastChanged),
	}
}

func (s *Store) WatchStatus(ctx context.Context, uid string, fn func(model.PresenceRecord)) (presence.CancelFunc, error) {
	key := statusPrefix + uid
	return s.watch(ctx, key, func(data []byte) { fn(decodeStatus(data)) })
}

func (s *Store) WatchTyping(ctx context.Context, uid string, fn func(bool)) (presence.CancelFunc, error) {
	key := typingPrefix + uid
	return s.watch(ctx, key, func(data []byte) { fn(string(data) == "1") })
}

// watch subscribes to the key's channel before reading the current
// value, so a write racing the registration is seen on the channel
// rather than lost. The callback runs on a single goroutine per watch.
func (s *Store) watch(ctx context.Context, key string, deliver func([]byte)) (presence.CancelFunc, error) {
	sub := s.client.Subscribe(ctx, key)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("presence: subscribe %s: %w", key, err)
	}

	initial, err := s.client.Get(ctx, key).Bytes()
	if err != nil && err != goredis.Nil {
		_ = sub.Close()
		return nil, fmt.Errorf("presence: read %s: %w", key, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		deliver(initial)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				deliver([]byte(msg.Payload))
			}
		}
	}()

	cancel := func() {
		_ = sub.Close()
		<-done
	}
	return cancel, nil
}

func (s *Store) SetStatus(ctx context.Context, uid string, rec model.PresenceRecord) error {
	data, err := json.Marshal(statusPayload{
		Status:      rec.Status,
		LastChanged: rec.LastChanged.UnixMilli(),
	})
	if err != nil {
		return err
	}
	return s.set(ctx, statusPrefix+uid, data)
}

func (s *Store) SetTyping(ctx context.Context, uid string, typing bool) error {
	val := []byte("0")
	if typing {
		val = []byte("1")
	}
	return s.set(ctx, typingPrefix+uid, val)
}

func (s *Store) set(ctx context.Context, key string, val []byte) error {
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, key, val, 0)
		pipe.Publish(ctx, key, val)
		return nil
	})
	return err
}

func (s *Store) Close() error {
	return s.client.Close()
}
