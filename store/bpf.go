package store

import (
	"fmt"
	"io"

	"github.com/cilium/ebpf"
	"github.com/pkg/errors"

	"github.com/weaveworks/tcbridge/bridge"
	"github.com/weaveworks/tcbridge/common"
)

// bpfMap is the subset of *ebpf.Map used here.
type bpfMap interface {
	Lookup(key, valueOut interface{}) error
	Update(key, value interface{}, flags ebpf.MapUpdateFlags) error
	Delete(key interface{}) error
	NextKey(key, nextKeyOut interface{}) error
	Close() error
}

// OpenPinned opens the interface and MAC maps pinned by the tc
// forwarder. Timestamps in these maps come from bpf_ktime_get_ns.
func OpenPinned(ifsPath, macPath string) (*Stores, error) {
	ifs, err := loadPinned(InterfacesName, ifsPath, 4, 4, bridge.MaxInterfaces)
	if err != nil {
		return nil, err
	}
	macs, err := loadPinned(MacTableName, macPath, 6, macRecordSize, 0)
	if err != nil {
		ifs.Close()
		return nil, err
	}
	return &Stores{
		Slots:   newBPFSlots(ifs, int(ifs.MaxEntries())),
		Entries: newBPFEntries(macs, int(macs.MaxEntries())),
		Clock:   bridge.MonotonicClock{},
		closers: []io.Closer{ifs, macs},
	}, nil
}

func loadPinned(name, path string, keySize, valueSize, maxEntries uint32) (*ebpf.Map, error) {
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, &UnavailableError{Name: name, Path: path, Err: err}
	}
	switch {
	case m.KeySize() != keySize:
		err = fmt.Errorf("key size %d, want %d", m.KeySize(), keySize)
	case m.ValueSize() != valueSize:
		err = fmt.Errorf("value size %d, want %d", m.ValueSize(), valueSize)
	case maxEntries != 0 && m.MaxEntries() != maxEntries:
		err = fmt.Errorf("%d entries, want %d", m.MaxEntries(), maxEntries)
	}
	if err != nil {
		m.Close()
		return nil, &UnavailableError{Name: name, Path: path, Err: err}
	}
	return m, nil
}

type bpfSlots struct {
	m bpfMap
	n int
}

func newBPFSlots(m bpfMap, n int) *bpfSlots {
	return &bpfSlots{m: m, n: n}
}

func (s *bpfSlots) Len() int {
	return s.n
}

func (s *bpfSlots) Load(slot int) (uint32, error) {
	var ifindex uint32
	if err := s.m.Lookup(uint32(slot), &ifindex); err != nil {
		return bridge.NoInterface, err
	}
	return ifindex, nil
}

func (s *bpfSlots) Store(slot int, ifindex uint32) error {
	return errors.Wrapf(s.m.Update(uint32(slot), ifindex, ebpf.UpdateAny), "updating interface slot %d", slot)
}

type bpfEntries struct {
	m          bpfMap
	maxEntries int
}

func newBPFEntries(m bpfMap, maxEntries int) *bpfEntries {
	return &bpfEntries{m: m, maxEntries: maxEntries}
}

func (e *bpfEntries) Lookup(mac bridge.MAC) (bridge.Entry, bool) {
	var record MacRecord
	if err := e.m.Lookup(mac, &record); err != nil {
		if !errors.Is(err, ebpf.ErrKeyNotExist) {
			common.Log.Debugf("[bpf] lookup %v: %v", mac, err)
		}
		return bridge.Entry{}, false
	}
	return record.Entry(), true
}

// Update relies on the kernel's LRU hash to make room.
func (e *bpfEntries) Update(mac bridge.MAC, entry bridge.Entry) {
	if err := e.m.Update(mac, recordFromEntry(entry), ebpf.UpdateAny); err != nil {
		common.Log.Warnf("[bpf] update %v: %v", mac, err)
	}
}

func (e *bpfEntries) Delete(mac bridge.MAC) {
	if err := e.m.Delete(mac); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		common.Log.Warnf("[bpf] delete %v: %v", mac, err)
	}
}

// Range walks the keys in kernel order. A concurrent delete can make
// the kernel restart from the first key, so keys already visited are
// skipped and the walk is bounded.
func (e *bpfEntries) Range(f func(bridge.MAC, bridge.Entry) bool) {
	var (
		prev interface{}
		next bridge.MAC
		seen = make(map[bridge.MAC]struct{})
	)
	for i := 0; i < 2*e.maxEntries; i++ {
		if err := e.m.NextKey(prev, &next); err != nil {
			if !errors.Is(err, ebpf.ErrKeyNotExist) {
				common.Log.Debugf("[bpf] next key: %v", err)
			}
			return
		}
		prev = next
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		entry, found := e.Lookup(next)
		if !found {
			continue
		}
		if !f(next, entry) {
			return
		}
	}
}

func (e *bpfEntries) Len() int {
	n := 0
	e.Range(func(bridge.MAC, bridge.Entry) bool {
		n++
		return true
	})
	return n
}
