package lock

import (
	"context"
	"hash/fnv"
	"sync"
)

// Locker serialises work on a key. Acquire blocks until the key is held and
// returns the release func.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// LocalLocker is a fixed pool of mutexes keyed by fnv hash; two keys may
// share a shard.
type LocalLocker struct {
	shards [256]sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu := l.shard(key)
	mu.Lock()
	return mu.Unlock, nil
}

func (l *LocalLocker) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%uint32(len(l.shards))]
}

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)
