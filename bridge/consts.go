package bridge

import (
	"time"
)

const (
	EthernetOverhead = 14
	MaxInterfaces    = 16
	MacTableSize     = 2048
	MacMaxAge        = 300 * time.Second

	// NoInterface marks an empty interface slot; ifindex 0 is never a
	// real bridge member.
	NoInterface uint32 = 0
)
