package bridge

import (
	"github.com/benbjohnson/clock"
	"golang.org/x/sys/unix"
)

// Clock yields nanosecond timestamps for learning-table entries.
type Clock interface {
	Nanotime() uint64
}

// MonotonicClock reads CLOCK_MONOTONIC, the time base of
// bpf_ktime_get_ns, so timestamps written by an in-kernel forwarder
// into a shared map compare correctly with ours.
type MonotonicClock struct{}

func (MonotonicClock) Nanotime() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}

type wallClock struct {
	clock clock.Clock
}

// NewClock adapts a clock.Clock, typically a clock.Mock in tests.
func NewClock(c clock.Clock) Clock {
	return wallClock{clock: c}
}

func (c wallClock) Nanotime() uint64 {
	return uint64(c.clock.Now().UnixNano())
}
