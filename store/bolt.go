package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/boltdb/bolt"

	"github.com/weaveworks/tcbridge/bridge"
	"github.com/weaveworks/tcbridge/common"
)

var (
	versionIdent       = []byte("version")
	persistenceVersion = []byte{1, 0} // major.minor
	topBucket          = []byte("top")
	interfacesBucket   = []byte(InterfacesName)
	macTableBucket     = []byte(MacTableName)
)

// bolt allows one process at a time; don't hang waiting for it.
const boltOpenTimeout = time.Second

// OpenBolt opens (creating if needed) a bolt file holding both maps.
// Timestamps in it are wall-clock nanoseconds, so that they survive a
// restart of the host.
func OpenBolt(dbPathname string) (*Stores, error) {
	db, err := bolt.Open(dbPathname, 0660, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, &UnavailableError{Name: "bolt", Path: dbPathname, Err: err}
	}
	// check the persistence version
	err = db.Update(func(tx *bolt.Tx) error {
		if top := tx.Bucket(topBucket); top == nil {
			top, err := tx.CreateBucket(topBucket)
			if err != nil {
				return err
			}
			if err := top.Put(versionIdent, persistenceVersion); err != nil {
				return err
			}
		} else {
			if checkVersion := top.Get(versionIdent); checkVersion != nil {
				if checkVersion[0] != persistenceVersion[0] {
					return fmt.Errorf("cannot use persistence file - version %x", checkVersion)
				}
			}
		}
		if _, err := tx.CreateBucketIfNotExists(interfacesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(macTableBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &UnavailableError{Name: "bolt", Path: dbPathname, Err: err}
	}
	slots, err := newBoltSlots(db)
	if err != nil {
		db.Close()
		return nil, &UnavailableError{Name: InterfacesName, Path: dbPathname, Err: err}
	}
	return &Stores{
		Slots:   slots,
		Entries: &boltEntries{db: db, capacity: bridge.MacTableSize},
		Clock:   bridge.NewClock(clock.New()),
		closers: []io.Closer{db},
	}, nil
}

func slotKey(slot int) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(slot))
	return key
}

// boltSlots writes through to bolt and serves reads from memory, so
// the forwarding path never waits on a bolt transaction.
type boltSlots struct {
	db    *bolt.DB
	cache bridge.MemorySlots
}

func newBoltSlots(db *bolt.DB) (*boltSlots, error) {
	s := &boltSlots{db: db}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(interfacesBucket)
		return b.ForEach(func(k, v []byte) error {
			if len(k) != 4 || len(v) != 4 {
				return fmt.Errorf("malformed interface slot %x=%x", k, v)
			}
			slot := int(binary.BigEndian.Uint32(k))
			if slot >= len(s.cache) {
				return fmt.Errorf("interface slot %d out of range", slot)
			}
			s.cache.Store(slot, binary.LittleEndian.Uint32(v))
			return nil
		})
	})
	return s, err
}

func (s *boltSlots) Len() int {
	return s.cache.Len()
}

func (s *boltSlots) Load(slot int) (uint32, error) {
	return s.cache.Load(slot)
}

func (s *boltSlots) Store(slot int, ifindex uint32) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		value := make([]byte, 4)
		binary.LittleEndian.PutUint32(value, ifindex)
		return tx.Bucket(interfacesBucket).Put(slotKey(slot), value)
	})
	if err != nil {
		return err
	}
	return s.cache.Store(slot, ifindex)
}

// boltEntries bounds the table by evicting the entry seen longest
// ago when a new MAC arrives at capacity.
type boltEntries struct {
	db       *bolt.DB
	capacity int
}

func (e *boltEntries) Lookup(mac bridge.MAC) (bridge.Entry, bool) {
	var (
		record MacRecord
		found  bool
	)
	err := e.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(macTableBucket).Get(mac[:])
		if v == nil {
			return nil
		}
		var err error
		record, err = decodeRecord(v)
		found = err == nil
		return err
	})
	if err != nil {
		common.Log.Warnf("[boltDB] lookup %v: %v", mac, err)
	}
	return record.Entry(), found
}

func (e *boltEntries) Update(mac bridge.MAC, entry bridge.Entry) {
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(macTableBucket)
		if b.Get(mac[:]) == nil {
			if err := e.makeRoom(b); err != nil {
				return err
			}
		}
		return b.Put(mac[:], encodeRecord(recordFromEntry(entry)))
	})
	if err != nil {
		common.Log.Warnf("[boltDB] update %v: %v", mac, err)
	}
}

// Replace empties the table and fills it with the updates made by f,
// all in one transaction. Updates beyond capacity are dropped.
func (e *boltEntries) Replace(f func(update func(bridge.MAC, bridge.Entry))) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(macTableBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(macTableBucket)
		if err != nil {
			return err
		}
		n := 0
		f(func(mac bridge.MAC, entry bridge.Entry) {
			if err != nil || n >= e.capacity {
				return
			}
			if b.Get(mac[:]) == nil {
				n++
			}
			err = b.Put(mac[:], encodeRecord(recordFromEntry(entry)))
		})
		return err
	})
}

func (e *boltEntries) makeRoom(b *bolt.Bucket) error {
	var (
		n          int
		oldestKey  []byte
		oldestSeen uint64
	)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		n++
		record, err := decodeRecord(v)
		if err != nil {
			// unreadable entries are the first to go
			record.Timestamp = 0
		}
		if oldestKey == nil || record.Timestamp < oldestSeen {
			oldestKey = append([]byte{}, k...)
			oldestSeen = record.Timestamp
		}
	}
	if n < e.capacity || oldestKey == nil {
		return nil
	}
	return b.Delete(oldestKey)
}

func (e *boltEntries) Delete(mac bridge.MAC) {
	err := e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(macTableBucket).Delete(mac[:])
	})
	if err != nil {
		common.Log.Warnf("[boltDB] delete %v: %v", mac, err)
	}
}

func (e *boltEntries) Range(f func(bridge.MAC, bridge.Entry) bool) {
	var (
		macs    []bridge.MAC
		entries []bridge.Entry
	)
	err := e.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(macTableBucket).ForEach(func(k, v []byte) error {
			record, err := decodeRecord(v)
			if err != nil || len(k) != len(bridge.MAC{}) {
				common.Log.Debugf("[boltDB] skipping malformed entry %x", k)
				return nil
			}
			macs = append(macs, bridge.MACFromBytes(k))
			entries = append(entries, record.Entry())
			return nil
		})
	})
	if err != nil {
		common.Log.Warnf("[boltDB] iterate: %v", err)
	}
	for i, mac := range macs {
		if !f(mac, entries[i]) {
			return
		}
	}
}

func (e *boltEntries) Len() int {
	n := 0
	e.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(macTableBucket).Stats().KeyN
		return nil
	})
	return n
}
