package bridge

import (
	"bytes"
	"fmt"
	"sort"
	"time"
)

// Entry records where a MAC was last seen.
type Entry struct {
	Ifindex  uint32
	LastSeen uint64 // ns, in the time base of the table's Clock
}

// EntryStore is the backing storage of a LearningTable. Operations on
// a single key must be atomic with respect to each other.
type EntryStore interface {
	Lookup(mac MAC) (Entry, bool)
	Update(mac MAC, entry Entry)
	Delete(mac MAC)
	Range(f func(MAC, Entry) bool)
	Len() int
}

// staleDeleter is implemented by stores that can delete an entry only
// if it has not been refreshed since it was found stale.
type staleDeleter interface {
	DeleteIfOlder(mac MAC, lastSeen uint64) bool
}

// LearningTable maps MAC addresses to the interface they were last
// seen on. Entries older than maxAge are dropped when next read.
type LearningTable struct {
	store  EntryStore
	maxAge uint64
}

func NewLearningTable(store EntryStore, maxAge time.Duration) *LearningTable {
	return &LearningTable{store: store, maxAge: uint64(maxAge)}
}

func age(now, lastSeen uint64) uint64 {
	if now < lastSeen {
		return 0
	}
	return now - lastSeen
}

func (table *LearningTable) stale(entry Entry, now uint64) bool {
	return age(now, entry.LastSeen) > table.maxAge
}

func (table *LearningTable) Put(mac MAC, ifindex uint32, now uint64) {
	table.store.Update(mac, Entry{Ifindex: ifindex, LastSeen: now})
}

// Get returns the entry for mac if it is fresh at time now. A stale
// entry is deleted and reported as a miss.
func (table *LearningTable) Get(mac MAC, now uint64) (Entry, bool) {
	entry, found := table.store.Lookup(mac)
	if !found {
		return Entry{}, false
	}
	if table.stale(entry, now) {
		table.evict(mac, entry)
		return Entry{}, false
	}
	return entry, true
}

func (table *LearningTable) evict(mac MAC, entry Entry) bool {
	if sd, ok := table.store.(staleDeleter); ok {
		return sd.DeleteIfOlder(mac, entry.LastSeen)
	}
	table.store.Delete(mac)
	return true
}

func (table *LearningTable) Delete(mac MAC) {
	table.store.Delete(mac)
}

// Store is the entry store the table works on.
func (table *LearningTable) Store() EntryStore {
	return table.store
}

func (table *LearningTable) Len() int {
	return table.store.Len()
}

// Expire removes every entry that is stale at time now and returns
// how many went.
func (table *LearningTable) Expire(now uint64) int {
	var stale []MAC
	var entries []Entry
	table.store.Range(func(mac MAC, entry Entry) bool {
		if table.stale(entry, now) {
			stale = append(stale, mac)
			entries = append(entries, entry)
		}
		return true
	})
	n := 0
	for i, mac := range stale {
		if table.evict(mac, entries[i]) {
			n++
		}
	}
	return n
}

// Row is a learning-table entry annotated with its age.
type Row struct {
	MAC     MAC
	Ifindex uint32
	Age     time.Duration
}

// Entries returns all entries, stale or not, sorted by MAC.
func (table *LearningTable) Entries(now uint64) []Row {
	var rows []Row
	table.store.Range(func(mac MAC, entry Entry) bool {
		rows = append(rows, Row{MAC: mac, Ifindex: entry.Ifindex, Age: time.Duration(age(now, entry.LastSeen))})
		return true
	})
	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i].MAC[:], rows[j].MAC[:]) < 0 })
	return rows
}

func (table *LearningTable) String() string {
	var buf bytes.Buffer
	table.store.Range(func(mac MAC, entry Entry) bool {
		fmt.Fprintf(&buf, "%v -> %d (%d)\n", mac, entry.Ifindex, entry.LastSeen)
		return true
	})
	return buf.String()
}
