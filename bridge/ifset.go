package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
)

var ErrReservedIfindex = errors.New("interface index 0 is reserved")

// SlotStore is the backing storage of an InterfaceSet: a fixed
// number of slots each holding an ifindex or NoInterface.
type SlotStore interface {
	Len() int
	Load(slot int) (uint32, error)
	Store(slot int, ifindex uint32) error
}

type Member struct {
	Slot    int    `json:"slot"`
	Ifindex uint32 `json:"ifindex"`
}

// InterfaceSet is the registry of bridge members used for flooding.
// Mutations are serialised by a single lock; reads never take it.
type InterfaceSet struct {
	sync.Mutex
	slots SlotStore
}

func NewInterfaceSet(slots SlotStore) *InterfaceSet {
	return &InterfaceSet{slots: slots}
}

// load treats an unreadable slot as empty.
func (set *InterfaceSet) load(slot int) uint32 {
	ifindex, err := set.slots.Load(slot)
	if err != nil {
		return NoInterface
	}
	return ifindex
}

func (set *InterfaceSet) Contains(ifindex uint32) bool {
	if ifindex == NoInterface {
		return false
	}
	for slot := 0; slot < set.slots.Len(); slot++ {
		if set.load(slot) == ifindex {
			return true
		}
	}
	return false
}

// Add puts ifindex in the first free slot. Adding a member twice, or
// adding to a full set, does nothing.
func (set *InterfaceSet) Add(ifindex uint32) error {
	if ifindex == NoInterface {
		return ErrReservedIfindex
	}
	set.Lock()
	defer set.Unlock()
	if set.Contains(ifindex) {
		return nil
	}
	for slot := 0; slot < set.slots.Len(); slot++ {
		if set.load(slot) == NoInterface {
			return set.slots.Store(slot, ifindex)
		}
	}
	return nil
}

// Remove clears every slot holding ifindex.
func (set *InterfaceSet) Remove(ifindex uint32) error {
	if ifindex == NoInterface {
		return ErrReservedIfindex
	}
	set.Lock()
	defer set.Unlock()
	for slot := 0; slot < set.slots.Len(); slot++ {
		if set.load(slot) == ifindex {
			if err := set.slots.Store(slot, NoInterface); err != nil {
				return err
			}
		}
	}
	return nil
}

// Range calls f for each occupied slot in slot order until f returns
// false. It does not lock, so it is safe on the forwarding path.
func (set *InterfaceSet) Range(f func(slot int, ifindex uint32) bool) {
	for slot := 0; slot < set.slots.Len(); slot++ {
		if ifindex := set.load(slot); ifindex != NoInterface {
			if !f(slot, ifindex) {
				return
			}
		}
	}
}

func (set *InterfaceSet) List() []Member {
	var members []Member
	set.Range(func(slot int, ifindex uint32) bool {
		members = append(members, Member{Slot: slot, Ifindex: ifindex})
		return true
	})
	return members
}

func (set *InterfaceSet) Len() int {
	n := 0
	set.Range(func(int, uint32) bool {
		n++
		return true
	})
	return n
}

// MemorySlots keeps slots in process memory.
type MemorySlots [MaxInterfaces]atomic.Uint32

func NewMemorySlots() *MemorySlots {
	return &MemorySlots{}
}

func (s *MemorySlots) Len() int {
	return len(s)
}

func (s *MemorySlots) Load(slot int) (uint32, error) {
	return s[slot].Load(), nil
}

func (s *MemorySlots) Store(slot int, ifindex uint32) error {
	s[slot].Store(ifindex)
	return nil
}
