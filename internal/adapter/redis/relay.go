package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"task-timer/internal/domain"
	"task-timer/internal/ports"
)

const publishTimeout = 2 * time.Second

// envelope is the message carried on the Redis channel.
type envelope struct {
	TaskID string      `json:"taskId"`
	View   domain.View `json:"view"`
}

// Relay lets several server instances share viewers. Publish sends the view
// to a Redis channel; Run forwards every message on that channel, including
// this instance's own, to the local publisher.
type Relay struct {
	client  *goredis.Client
	channel string
	local   ports.Publisher
	log     *slog.Logger
}

var _ ports.Publisher = (*Relay)(nil)

// NewRelay connects to the Redis server at url (redis://host:port/db).
func NewRelay(ctx context.Context, url, channel string, local ports.Publisher, log *slog.Logger) (*Relay, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := goredis.NewClient(opts)
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(c).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Relay{client: client, channel: channel, local: local, log: log}, nil
}

// Publish sends view through Redis. If Redis is unreachable the view is
// delivered to local viewers directly so this instance still updates.
func (r *Relay) Publish(taskID string, view domain.View) {
	payload, err := json.Marshal(envelope{TaskID: taskID, View: view})
	if err != nil {
		r.log.Error("relay encode", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.Warn("relay publish failed, delivering locally", slog.String("task_id", taskID), slog.String("error", err.Error()))
		r.local.Publish(taskID, view)
	}
}

// Run subscribes to the channel and forwards messages until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis: subscribe %s: %w", r.channel, err)
	}
	r.log.Info("relay subscribed", slog.String("channel", r.channel))
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("relay dropped malformed message", slog.String("error", err.Error()))
				continue
			}
			r.local.Publish(env.TaskID, env.View)
		}
	}
}

// Close releases the Redis connection pool.
func (r *Relay) Close() error { return r.client.Close() }
