// Package store opens the named maps that hold bridge membership and
// the learning table outside of process memory: pinned BPF maps shared
// with an in-kernel forwarder, or a boltdb file.
package store

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/weaveworks/tcbridge/bridge"
	"github.com/weaveworks/tcbridge/common"
)

const (
	InterfacesName = "interfaces"
	MacTableName   = "mac_table"

	DefaultIfsMap = "/sys/fs/bpf/tc/globals/bpf_bridge_ifs"
	DefaultMacMap = "/sys/fs/bpf/tc/globals/bpf_bridge_mac_table"

	macRecordSize = 16
)

// UnavailableError reports a store that could not be opened.
type UnavailableError struct {
	Name string
	Path string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s store %s unavailable: %v", e.Name, e.Path, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// MacRecord is the value layout of the mac_table map.
type MacRecord struct {
	Ifindex   uint32
	Pad       uint32
	Timestamp uint64
}

func recordFromEntry(entry bridge.Entry) MacRecord {
	return MacRecord{Ifindex: entry.Ifindex, Timestamp: entry.LastSeen}
}

func (r MacRecord) Entry() bridge.Entry {
	return bridge.Entry{Ifindex: r.Ifindex, LastSeen: r.Timestamp}
}

func encodeRecord(r MacRecord) []byte {
	buf := make([]byte, macRecordSize)
	binary.LittleEndian.PutUint32(buf[0:], r.Ifindex)
	binary.LittleEndian.PutUint32(buf[4:], r.Pad)
	binary.LittleEndian.PutUint64(buf[8:], r.Timestamp)
	return buf
}

func decodeRecord(buf []byte) (MacRecord, error) {
	if len(buf) != macRecordSize {
		return MacRecord{}, fmt.Errorf("mac record has %d bytes, want %d", len(buf), macRecordSize)
	}
	return MacRecord{
		Ifindex:   binary.LittleEndian.Uint32(buf[0:]),
		Pad:       binary.LittleEndian.Uint32(buf[4:]),
		Timestamp: binary.LittleEndian.Uint64(buf[8:]),
	}, nil
}

// Stores is a pair of opened maps plus the clock their timestamps
// are measured with.
type Stores struct {
	Slots   bridge.SlotStore
	Entries bridge.EntryStore
	Clock   bridge.Clock
	closers []io.Closer
}

func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.New(common.ErrorMessages(errs))
	}
	return nil
}

type replacer interface {
	Replace(f func(update func(bridge.MAC, bridge.Entry))) error
}

func rangeInto(src bridge.EntryStore, n *int) func(update func(bridge.MAC, bridge.Entry)) {
	return func(update func(bridge.MAC, bridge.Entry)) {
		src.Range(func(mac bridge.MAC, entry bridge.Entry) bool {
			update(mac, entry)
			*n++
			return true
		})
	}
}

// CopyEntries puts every entry of src into dst and returns how many
// were copied. Entries already in dst are kept unless src has the
// same MAC.
func CopyEntries(dst, src bridge.EntryStore) int {
	n := 0
	rangeInto(src, &n)(dst.Update)
	return n
}

// ReplaceEntries makes dst hold exactly the entries of src and
// returns how many were written.
func ReplaceEntries(dst, src bridge.EntryStore) (int, error) {
	n := 0
	if r, ok := dst.(replacer); ok {
		err := r.Replace(rangeInto(src, &n))
		return n, err
	}
	var stale []bridge.MAC
	dst.Range(func(mac bridge.MAC, _ bridge.Entry) bool {
		stale = append(stale, mac)
		return true
	})
	for _, mac := range stale {
		dst.Delete(mac)
	}
	rangeInto(src, &n)(dst.Update)
	return n, nil
}
