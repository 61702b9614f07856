package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrStale = errors.New("stale parent")

// Broker orders the broadcasts of every relay instance serving the same
// channels and hands them back to all of them.
type Broker interface {
	// Publish appends f to the order of its channel and returns its index.
	// A frame with a Parent fails with ErrStale unless Parent is the index
	// of the channel's last frame.
	Publish(ctx context.Context, f Frame) (int, error)
	// Last returns the last frame published on a channel, with its index.
	Last(ctx context.Context, channel string) (Frame, error)
	// Subscribe calls deliver for every frame published by any instance,
	// in order, until ctx is done.
	Subscribe(ctx context.Context, deliver func(Frame)) error
	Close() error
}

const (
	redisTopic = "hyperpad:frames"
	// redisTTL bounds how long an idle channel's order is remembered
	redisTTL = 24 * time.Hour
)

// appendScript checks the parent, bumps the channel index, remembers the
// frame as the channel's last one and publishes it, all at once.
var appendScript = redis.NewScript(`
local index = tonumber(redis.call('GET', KEYS[1]) or '0')
if ARGV[2] ~= '' and tonumber(ARGV[2]) ~= index then
	return -1
end
index = index + 1
local payload = index .. ':' .. ARGV[1]
redis.call('SET', KEYS[1], index, 'EX', ARGV[3])
redis.call('SET', KEYS[2], payload, 'EX', ARGV[3])
redis.call('PUBLISH', ARGV[4], payload)
return index
`)

type RedisBroker struct {
	rdb    *redis.Client
	logger *log.Logger
}

func NewRedisBroker(ctx context.Context, addr string) (*RedisBroker, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisBroker{
		rdb:    rdb,
		logger: log.New(log.Writer(), "[Redis] ", log.LstdFlags),
	}, nil
}

func indexKey(channel string) string { return "hyperpad:index:" + channel }
func lastKey(channel string) string  { return "hyperpad:last:" + channel }

func (b *RedisBroker) Publish(ctx context.Context, f Frame) (int, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return 0, err
	}
	parent := ""
	if f.Parent != nil {
		parent = strconv.Itoa(*f.Parent)
	}

	keys := []string{indexKey(f.Channel), lastKey(f.Channel)}
	index, err := appendScript.Run(ctx, b.rdb, keys, data, parent, int(redisTTL.Seconds()), redisTopic).Int()
	if err != nil {
		return 0, err
	}
	if index < 0 {
		return 0, ErrStale
	}
	return index, nil
}

func (b *RedisBroker) Last(ctx context.Context, channel string) (Frame, error) {
	payload, err := b.rdb.Get(ctx, lastKey(channel)).Result()
	if errors.Is(err, redis.Nil) {
		return Frame{}, nil
	}
	if err != nil {
		return Frame{}, err
	}
	return decodePayload(payload)
}

// decodePayload parses the "index:frame" strings written by appendScript.
func decodePayload(payload string) (Frame, error) {
	var f Frame
	i := strings.IndexByte(payload, ':')
	if i < 0 {
		return f, fmt.Errorf("no index in %q", payload)
	}
	index, err := strconv.Atoi(payload[:i])
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal([]byte(payload[i+1:]), &f); err != nil {
		return f, err
	}
	f.Index = index
	return f, nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, deliver func(Frame)) error {
	pubsub := b.rdb.Subscribe(ctx, redisTopic)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			f, err := decodePayload(msg.Payload)
			if err != nil {
				b.logger.Printf("bad frame: %v", err)
				continue
			}
			deliver(f)
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
