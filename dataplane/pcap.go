package dataplane

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/weaveworks/tcbridge/common"
)

// How often a blocked read wakes up to notice Close.
const readTimeout = 250 * time.Millisecond

var ErrPortClosed = errors.New("port closed")

// PcapIO is a Port on a pcap handle. Close only flags the port; the
// handle itself is released by the reader, since libpcap does not
// allow closing a handle another thread is reading from.
type PcapIO struct {
	sync.RWMutex
	handle  *pcap.Handle
	closing atomic.Bool
	closed  bool
}

// OpenPcap opens a promiscuous, inbound-only capture on the member
// interface, usable for both reading and injecting frames.
func OpenPcap(ifindex uint32, bufSz int) (Port, error) {
	ifName, err := common.LinkName(ifindex)
	if err != nil {
		return nil, err
	}
	pio, err := newPcapIO(ifName, true, 65535, bufSz)
	if err != nil {
		return nil, err
	}

	// Under Linux, libpcap implements the SetDirection filtering
	// in userspace.  So set a BPF filter to discard outbound
	// packets inside the kernel, which include the ones we inject.
	if err = pio.handle.SetBPFFilter("inbound"); err != nil {
		pio.release()
		return nil, err
	}
	return pio, nil
}

func newPcapIO(ifName string, promisc bool, snaplen int, bufSz int) (handle *PcapIO, err error) {
	inactive, err := pcap.NewInactiveHandle(ifName)
	if err != nil {
		return
	}
	defer inactive.CleanUp()
	if err = inactive.SetPromisc(promisc); err != nil {
		return
	}
	if err = inactive.SetSnapLen(snaplen); err != nil {
		return
	}
	if err = inactive.SetTimeout(readTimeout); err != nil {
		return
	}
	if err = inactive.SetImmediateMode(true); err != nil {
		return
	}
	if err = inactive.SetBufferSize(bufSz); err != nil {
		return
	}
	active, err := inactive.Activate()
	if err != nil {
		return
	}
	if err = active.SetDirection(pcap.DirectionIn); err != nil {
		active.Close()
		return
	}
	return &PcapIO{handle: active}, nil
}

func (pi *PcapIO) ReadPacket() (data []byte, err error) {
	for {
		if pi.closing.Load() {
			pi.release()
			return nil, io.EOF
		}
		data, _, err = pi.handle.ZeroCopyReadPacketData()
		if err == nil {
			return
		}
		if err != pcap.NextErrorTimeoutExpired {
			pi.release()
			return
		}
	}
}

func (pi *PcapIO) release() {
	pi.Lock()
	defer pi.Unlock()
	if !pi.closed {
		pi.handle.Close()
		pi.closed = true
	}
}

func (po *PcapIO) WritePacket(data []byte) error {
	po.RLock()
	defer po.RUnlock()
	if po.closed || po.closing.Load() {
		return ErrPortClosed
	}
	return po.handle.WritePacketData(data)
}

func (pio *PcapIO) Close() error {
	pio.closing.Store(true)
	return nil
}
