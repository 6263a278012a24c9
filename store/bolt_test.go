package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weaveworks/tcbridge/bridge"
)

func openTestBolt(t *testing.T) (*Stores, string) {
	path := filepath.Join(t.TempDir(), "bridge.db")
	stores, err := OpenBolt(path)
	require.NoError(t, err)
	return stores, path
}

func TestBoltSlotsPersist(t *testing.T) {
	stores, path := openTestBolt(t)
	set := bridge.NewInterfaceSet(stores.Slots)
	require.NoError(t, set.Add(10))
	require.NoError(t, set.Add(20))
	require.NoError(t, set.Remove(10))
	require.NoError(t, stores.Close())

	stores, err := OpenBolt(path)
	require.NoError(t, err)
	defer stores.Close()
	set = bridge.NewInterfaceSet(stores.Slots)
	require.Equal(t, []bridge.Member{{Slot: 1, Ifindex: 20}}, set.List())
}

func TestBoltEntries(t *testing.T) {
	stores, path := openTestBolt(t)
	mac, _ := bridge.ParseMAC("aa:aa:aa:aa:aa:aa")
	table := bridge.NewLearningTable(stores.Entries, bridge.MacMaxAge)

	table.Put(mac, 10, 1000)
	entry, found := table.Get(mac, 2000)
	require.True(t, found)
	require.Equal(t, bridge.Entry{Ifindex: 10, LastSeen: 1000}, entry)
	require.Equal(t, 1, table.Len())
	require.NoError(t, stores.Close())

	stores, err := OpenBolt(path)
	require.NoError(t, err)
	defer stores.Close()
	table = bridge.NewLearningTable(stores.Entries, bridge.MacMaxAge)
	_, found = table.Get(mac, 1000+uint64(bridge.MacMaxAge)+1)
	require.False(t, found)
	require.Equal(t, 0, table.Len())
}

func TestBoltEntriesCapacity(t *testing.T) {
	stores, _ := openTestBolt(t)
	defer stores.Close()
	entries := stores.Entries.(*boltEntries)
	entries.capacity = 4

	for i := 0; i < 6; i++ {
		entries.Update(bridge.MAC{2, 0, 0, 0, 0, byte(i)}, bridge.Entry{Ifindex: 1, LastSeen: uint64(100 + i)})
	}
	require.Equal(t, 4, entries.Len())
	// the two seen longest ago made room
	for i := 0; i < 2; i++ {
		_, found := entries.Lookup(bridge.MAC{2, 0, 0, 0, 0, byte(i)})
		require.False(t, found)
	}
	// refreshing an existing key does not evict anything
	entries.Update(bridge.MAC{2, 0, 0, 0, 0, 2}, bridge.Entry{Ifindex: 3, LastSeen: 200})
	require.Equal(t, 4, entries.Len())
}

func TestBoltLockedIsUnavailable(t *testing.T) {
	stores, path := openTestBolt(t)
	defer stores.Close()

	_, err := OpenBolt(path)
	require.Error(t, err)
	require.True(t, IsUnavailable(err))
}

func TestReplaceEntries(t *testing.T) {
	stores, _ := openTestBolt(t)
	defer stores.Close()
	// left over from an earlier run, since evicted from the cache
	evicted := bridge.MAC{2, 0, 0, 0, 0, 9}
	stores.Entries.Update(evicted, bridge.Entry{Ifindex: 9, LastSeen: 1})

	cache := bridge.NewEntryCache(bridge.MacTableSize)
	cache.Update(bridge.MAC{2, 0, 0, 0, 0, 1}, bridge.Entry{Ifindex: 1, LastSeen: 5})
	cache.Update(bridge.MAC{2, 0, 0, 0, 0, 2}, bridge.Entry{Ifindex: 2, LastSeen: 6})

	n, err := ReplaceEntries(stores.Entries, cache)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, stores.Entries.Len())
	_, found := stores.Entries.Lookup(evicted)
	require.False(t, found)
	entry, found := stores.Entries.Lookup(bridge.MAC{2, 0, 0, 0, 0, 2})
	require.True(t, found)
	require.Equal(t, bridge.Entry{Ifindex: 2, LastSeen: 6}, entry)

	restored := bridge.NewEntryCache(bridge.MacTableSize)
	require.Equal(t, 2, CopyEntries(restored, stores.Entries))
	require.Equal(t, 2, restored.Len())
}

func TestReplaceEntriesFull(t *testing.T) {
	stores, _ := openTestBolt(t)
	defer stores.Close()
	cache := bridge.NewEntryCache(bridge.MacTableSize)
	for i := 0; i < bridge.MacTableSize; i++ {
		cache.Update(bridge.MAC{2, 0, 0, 0, byte(i >> 8), byte(i)}, bridge.Entry{Ifindex: 1, LastSeen: uint64(i)})
	}

	n, err := ReplaceEntries(stores.Entries, cache)
	require.NoError(t, err)
	require.Equal(t, bridge.MacTableSize, n)
	require.Equal(t, bridge.MacTableSize, stores.Entries.Len())

	// and again, over a full table
	n, err = ReplaceEntries(stores.Entries, cache)
	require.NoError(t, err)
	require.Equal(t, bridge.MacTableSize, n)
	require.Equal(t, bridge.MacTableSize, stores.Entries.Len())
}

func TestReplaceEntriesWithoutReplacer(t *testing.T) {
	dst := bridge.NewEntryCache(bridge.MacTableSize)
	dst.Update(bridge.MAC{2, 0, 0, 0, 0, 9}, bridge.Entry{Ifindex: 9, LastSeen: 1})
	src := bridge.NewEntryCache(bridge.MacTableSize)
	src.Update(bridge.MAC{2, 0, 0, 0, 0, 1}, bridge.Entry{Ifindex: 1, LastSeen: 5})

	n, err := ReplaceEntries(dst, src)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, dst.Len())
	_, found := dst.Lookup(bridge.MAC{2, 0, 0, 0, 0, 1})
	require.True(t, found)
}

func TestRecordCodec(t *testing.T) {
	r := MacRecord{Ifindex: 7, Timestamp: 1 << 40}
	buf := encodeRecord(r)
	require.Len(t, buf, macRecordSize)
	decoded, err := decodeRecord(buf)
	require.NoError(t, err)
	require.Equal(t, r, decoded)

	_, err = decodeRecord(buf[:8])
	require.Error(t, err)
}
