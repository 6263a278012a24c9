package bridge

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const cacheShards = 32

type cacheShard struct {
	sync.Mutex
	lru *simplelru.LRU[MAC, Entry]
}

// EntryCache is an in-memory EntryStore bounded to a fixed number of
// entries. Keys are spread over independently locked shards so that
// learning on one MAC never waits on another. When a new key arrives
// at capacity, the least recently used entry of its shard is evicted
// (or of the next non-empty shard). Both updates and lookups count as
// use.
type EntryCache struct {
	capacity int64
	count    atomic.Int64
	shards   [cacheShards]cacheShard
}

func NewEntryCache(capacity int) *EntryCache {
	if capacity <= 0 {
		capacity = MacTableSize
	}
	cache := &EntryCache{capacity: int64(capacity)}
	for i := range cache.shards {
		// Shards are bounded by cache.count, never by themselves.
		lru, err := simplelru.NewLRU[MAC, Entry](capacity, nil)
		if err != nil {
			panic(err)
		}
		cache.shards[i].lru = lru
	}
	return cache
}

func shardIndex(mac MAC) int {
	return int(mac[0]^mac[1]^mac[2]^mac[3]^mac[4]^mac[5]) % cacheShards
}

func (cache *EntryCache) Lookup(mac MAC) (Entry, bool) {
	shard := &cache.shards[shardIndex(mac)]
	shard.Lock()
	defer shard.Unlock()
	return shard.lru.Get(mac)
}

func (cache *EntryCache) Update(mac MAC, entry Entry) {
	home := shardIndex(mac)
	shard := &cache.shards[home]

	shard.Lock()
	if shard.lru.Contains(mac) {
		shard.lru.Add(mac, entry)
		shard.Unlock()
		return
	}
	shard.Unlock()

	cache.reserve(home)

	shard.Lock()
	defer shard.Unlock()
	if shard.lru.Contains(mac) {
		// someone else inserted it meanwhile
		cache.count.Add(-1)
	}
	shard.lru.Add(mac, entry)
}

// reserve claims room for one new entry, evicting as needed.
func (cache *EntryCache) reserve(home int) {
	for {
		n := cache.count.Load()
		if n < cache.capacity {
			if cache.count.CompareAndSwap(n, n+1) {
				return
			}
			continue
		}
		if !cache.evictOne(home) {
			// everything is reserved but not yet inserted
			runtime.Gosched()
		}
	}
}

func (cache *EntryCache) evictOne(home int) bool {
	for i := 0; i < cacheShards; i++ {
		shard := &cache.shards[(home+i)%cacheShards]
		shard.Lock()
		_, _, ok := shard.lru.RemoveOldest()
		shard.Unlock()
		if ok {
			cache.count.Add(-1)
			return true
		}
	}
	return false
}

func (cache *EntryCache) Delete(mac MAC) {
	shard := &cache.shards[shardIndex(mac)]
	shard.Lock()
	defer shard.Unlock()
	if shard.lru.Remove(mac) {
		cache.count.Add(-1)
	}
}

// DeleteIfOlder removes the entry for mac unless it was refreshed
// after lastSeen.
func (cache *EntryCache) DeleteIfOlder(mac MAC, lastSeen uint64) bool {
	shard := &cache.shards[shardIndex(mac)]
	shard.Lock()
	defer shard.Unlock()
	entry, found := shard.lru.Peek(mac)
	if !found || entry.LastSeen > lastSeen {
		return false
	}
	shard.lru.Remove(mac)
	cache.count.Add(-1)
	return true
}

// Range visits a snapshot of each shard; f runs without any lock held.
func (cache *EntryCache) Range(f func(MAC, Entry) bool) {
	for i := range cache.shards {
		shard := &cache.shards[i]
		shard.Lock()
		keys := shard.lru.Keys()
		entries := make([]Entry, 0, len(keys))
		for _, mac := range keys {
			entry, _ := shard.lru.Peek(mac)
			entries = append(entries, entry)
		}
		shard.Unlock()
		for j, mac := range keys {
			if !f(mac, entries[j]) {
				return
			}
		}
	}
}

func (cache *EntryCache) Len() int {
	n := 0
	for i := range cache.shards {
		shard := &cache.shards[i]
		shard.Lock()
		n += shard.lru.Len()
		shard.Unlock()
	}
	return n
}
