package cache

import "time"

// tier is the narrow cache-backend interface required by spec.md §9:
// get/set/delete/keys(prefix)?/close. keys is optional — a tier that
// can't enumerate its keyspace reports supportsKeys()==false and the
// cache degrades by skipping prefix invalidation on that tier.
type tier interface {
	name() string
	get(key string) ([]byte, bool)
	set(key string, value []byte, ttl time.Duration) error
	del(key string) error
	supportsKeys() bool
	keys(prefix string) []string
	close() error
}
