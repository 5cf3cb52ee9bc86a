package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"phone-auth-service/internal/config"
)

// Manager assigns stable partition buckets so wide tables never grow a
// single hot partition. The same id always lands in the same bucket for
// a given bucket count.
type Manager struct {
	userBuckets int
	hasherPool  sync.Pool
}

func NewManager(cfg config.BucketingConfig) *Manager {
	m := &Manager{userBuckets: cfg.UserBuckets}
	if m.userBuckets <= 0 {
		m.userBuckets = 1
	}
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return m
}

// UserBucket returns the bucket for a user id, in [0, userBuckets).
func (m *Manager) UserBucket(userID string) int {
	return int(m.hash(userID) % uint64(m.userBuckets))
}

func (m *Manager) UserBuckets() int {
	return m.userBuckets
}

func (m *Manager) hash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
