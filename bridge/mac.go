package bridge

import (
	"fmt"
	"net"
)

// MAC is a raw 6-byte hardware address, usable as a map key.
type MAC [6]byte

var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func ParseMAC(s string) (MAC, error) {
	var mac MAC
	hw, err := net.ParseMAC(s)
	if err != nil {
		return mac, err
	}
	if len(hw) != len(mac) {
		return mac, fmt.Errorf("not an ethernet address: %s", s)
	}
	copy(mac[:], hw)
	return mac, nil
}

// MACFromBytes copies the first six bytes of b.
func MACFromBytes(b []byte) MAC {
	var mac MAC
	copy(mac[:], b)
	return mac
}

// IsMulticast reports whether the group bit is set. Broadcast is a
// multicast address as far as forwarding is concerned.
func (mac MAC) IsMulticast() bool {
	return mac[0]&1 != 0
}

func (mac MAC) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(mac[:])
}

func (mac MAC) String() string {
	return mac.HardwareAddr().String()
}
