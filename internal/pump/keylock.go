package pump

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// keyLocks is a sharded lock table providing per-entity serialization.
// Transactions on the same entity id map to the same shard and apply in
// arrival order; unrelated entities almost always proceed concurrently.
// A single global lock would serialize everything.
type keyLocks struct {
	shards [lockShards]sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{}
}

// Lock acquires the shard for key and returns its unlock function.
func (k *keyLocks) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	shard := &k.shards[h.Sum32()%lockShards]
	shard.Lock()
	return shard.Unlock
}
