package bridge

import (
	"sync/atomic"
)

// Packet is a frame as captured on a bridge member.
type Packet struct {
	Ingress uint32
	Data    []byte
}

func (p Packet) SrcMAC() MAC {
	return MACFromBytes(p.Data[6:12])
}

func (p Packet) DstMAC() MAC {
	return MACFromBytes(p.Data[0:6])
}

type Action int

const (
	// Pass leaves the frame alone: it is too short to be ethernet.
	Pass Action = iota
	// Redirect moves the frame to a single learned interface.
	Redirect
	// Flood copies the frame to every member but the ingress one.
	Flood
)

func (a Action) String() string {
	switch a {
	case Pass:
		return "pass"
	case Redirect:
		return "redirect"
	case Flood:
		return "flood"
	}
	return "unknown"
}

type Output struct {
	Ifindex uint32
	Data    []byte
}

type Decision struct {
	Action  Action
	Outputs []Output
}

type EngineStats struct {
	Passed     uint64
	Redirected uint64
	Flooded    uint64
	Learned    uint64
	Stale      uint64
	Copies     uint64
}

// Engine makes the per-frame forwarding decision of the bridge. It is
// safe for concurrent use; Forward never blocks and never fails.
type Engine struct {
	set   *InterfaceSet
	table *LearningTable
	clock Clock

	passed, redirected, flooded, learned, stale, copies atomic.Uint64
}

func NewEngine(set *InterfaceSet, table *LearningTable, clock Clock) *Engine {
	return &Engine{set: set, table: table, clock: clock}
}

func (engine *Engine) Forward(pkt Packet) Decision {
	if len(pkt.Data) < EthernetOverhead {
		engine.passed.Add(1)
		return Decision{Action: Pass}
	}

	now := engine.clock.Nanotime()
	engine.table.Put(pkt.SrcMAC(), pkt.Ingress, now)
	engine.learned.Add(1)

	dstMAC := pkt.DstMAC()
	if dstMAC.IsMulticast() {
		return engine.flood(pkt)
	}

	entry, found := engine.table.store.Lookup(dstMAC)
	if !found {
		return engine.flood(pkt)
	}
	if engine.table.stale(entry, now) {
		if engine.table.evict(dstMAC, entry) {
			engine.stale.Add(1)
		}
		return engine.flood(pkt)
	}

	engine.redirected.Add(1)
	return Decision{
		Action:  Redirect,
		Outputs: []Output{{Ifindex: entry.Ifindex, Data: pkt.Data}},
	}
}

func (engine *Engine) flood(pkt Packet) Decision {
	engine.flooded.Add(1)
	decision := Decision{Action: Flood}
	engine.set.Range(func(_ int, ifindex uint32) bool {
		if ifindex != pkt.Ingress {
			frame := make([]byte, len(pkt.Data))
			copy(frame, pkt.Data)
			decision.Outputs = append(decision.Outputs, Output{Ifindex: ifindex, Data: frame})
		}
		return true
	})
	engine.copies.Add(uint64(len(decision.Outputs)))
	return decision
}

func (engine *Engine) Stats() EngineStats {
	return EngineStats{
		Passed:     engine.passed.Load(),
		Redirected: engine.redirected.Load(),
		Flooded:    engine.flooded.Load(),
		Learned:    engine.learned.Load(),
		Stale:      engine.stale.Load(),
		Copies:     engine.copies.Load(),
	}
}

func (engine *Engine) Table() *LearningTable {
	return engine.table
}

func (engine *Engine) Members() *InterfaceSet {
	return engine.set
}

func (engine *Engine) Clock() Clock {
	return engine.clock
}
