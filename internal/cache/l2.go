package cache

import (
	"time"

	"github.com/go-redis/redis"
)

// l2Tier is the shared KV tier: a single remote Redis instance.
type l2Tier struct {
	client *redis.Client
}

func newL2Tier(addr string) *l2Tier {
	if addr == "" {
		return nil
	}
	return &l2Tier{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (t *l2Tier) name() string { return "l2" }

func (t *l2Tier) get(key string) ([]byte, bool) {
	b, err := t.client.Get(key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (t *l2Tier) set(key string, value []byte, ttl time.Duration) error {
	return t.client.Set(key, value, ttl).Err()
}

func (t *l2Tier) del(key string) error {
	return t.client.Del(key).Err()
}

func (t *l2Tier) supportsKeys() bool { return true }

func (t *l2Tier) keys(prefix string) []string {
	res, err := t.client.Keys(prefix + "*").Result()
	if err != nil {
		return nil
	}
	return res
}

func (t *l2Tier) close() error {
	return t.client.Close()
}
