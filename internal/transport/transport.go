// Package transport adapts the worker's three external sockets (request
// queue, control channel, results channel) onto Redis.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoRequest is returned by RequestQueue.Pop when the poll timeout
// elapses with nothing enqueued.
var ErrNoRequest = errors.New("transport: no request available")

// Client wraps a go-redis connection shared by the three sockets below.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis and verifies reachability with a Ping.
// identity is the stable per-worker connection name ("Worker-<id>") the
// server side sees on every socket this client backs.
func NewClient(addr, password string, db int, identity string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ClientName:   identity,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  0, // request queue blocks on BRPOP past ReadTimeout otherwise
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("transport: redis ping %s: %w", addr, err)
	}

	slog.Info("transport connected", "addr", addr, "db", db, "identity", identity)
	return &Client{rdb: rdb}, nil
}

// Close shuts down the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// RequestQueue is the shared FIFO of encrypted ExecuteRequest frames.
type RequestQueue struct {
	rdb *redis.Client
	key string
}

// NewRequestQueue binds a RequestQueue to the given list key.
func (c *Client) NewRequestQueue(key string) *RequestQueue {
	return &RequestQueue{rdb: c.rdb, key: key}
}

// Pop blocks up to timeout for the next frame, FIFO (BRPOP). Returns
// ErrNoRequest on timeout so callers can loop without treating it as fatal.
func (q *RequestQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoRequest
	}
	if err != nil {
		return nil, fmt.Errorf("transport: pop request: %w", err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("transport: unexpected BRPOP reply shape: %v", res)
	}
	return []byte(res[1]), nil
}

// Push enqueues a frame (LPUSH) for loopback tooling; the worker itself
// never calls it.
func (q *RequestQueue) Push(ctx context.Context, payload []byte) error {
	return q.rdb.LPush(ctx, q.key, payload).Err()
}

// ControlChannel is the broadcast pub-sub channel carrying ControlMessage
// frames to every worker.
type ControlChannel struct {
	rdb     *redis.Client
	channel string
}

// NewControlChannel binds a ControlChannel to the given pub-sub channel name.
func (c *Client) NewControlChannel(channel string) *ControlChannel {
	return &ControlChannel{rdb: c.rdb, channel: channel}
}

// Subscribe registers handler for every frame published on the channel and
// returns an unsubscribe function. handler runs on a dedicated goroutine.
func (cc *ControlChannel) Subscribe(ctx context.Context, handler func([]byte)) (func(), error) {
	sub := cc.rdb.Subscribe(ctx, cc.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("transport: subscribe %s: %w", cc.channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}

// Publish broadcasts a control frame, for driving the control intake
// without a real control plane; the worker itself never calls it.
func (cc *ControlChannel) Publish(ctx context.Context, payload []byte) error {
	return cc.rdb.Publish(ctx, cc.channel, payload).Err()
}

// ResultsChannel is the push-style sink for outbound WireEvent frames.
type ResultsChannel struct {
	rdb     *redis.Client
	channel string
}

// NewResultsChannel binds a ResultsChannel to the given pub-sub channel name.
func (c *Client) NewResultsChannel(channel string) *ResultsChannel {
	return &ResultsChannel{rdb: c.rdb, channel: channel}
}

// Publish pushes one event frame to the results sink.
func (rc *ResultsChannel) Publish(ctx context.Context, payload []byte) error {
	return rc.rdb.Publish(ctx, rc.channel, payload).Err()
}
