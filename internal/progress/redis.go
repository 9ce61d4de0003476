package progress

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// RedisMirror adapts a *redis.Client to the Broadcaster's RedisPublisher
// interface, so events optionally mirror onto "sherpa:events:<lab_id>" for
// a second sherpad instance to observe (§5's shared-resources model).
//
// Grounded on the teacher's go.mod carrying go-redis/v8 as a direct
// dependency with no in-repo wrapper of its own; this is the minimal
// adapter the Broadcaster needs, kept separate from *redis.Client so
// progress never imports more of the driver's surface than Publish.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror dials addr lazily (go-redis connects on first command) and
// returns a RedisMirror ready to pass to NewBroadcaster.
func NewRedisMirror(addr string) *RedisMirror {
	return &RedisMirror{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (m *RedisMirror) Publish(ctx context.Context, channel string, message interface{}) error {
	return m.client.Publish(ctx, channel, message).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
