package bridge

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func frame(dst, src MAC, payload ...byte) []byte {
	data := append([]byte{}, dst[:]...)
	data = append(data, src[:]...)
	data = append(data, 0x08, 0x00)
	return append(data, payload...)
}

func newTestEngine(t *testing.T, members ...uint32) (*Engine, *clock.Mock) {
	clk := clock.NewMock()
	clk.Add(time.Hour)
	set := NewInterfaceSet(NewMemorySlots())
	for _, ifindex := range members {
		require.NoError(t, set.Add(ifindex))
	}
	table := NewLearningTable(NewEntryCache(MacTableSize), MacMaxAge)
	return NewEngine(set, table, NewClock(clk)), clk
}

func outputIfindexes(d Decision) []uint32 {
	var res []uint32
	for _, out := range d.Outputs {
		res = append(res, out.Ifindex)
	}
	return res
}

func TestShortFrameIsPassed(t *testing.T) {
	engine, _ := newTestEngine(t, 10, 20)
	d := engine.Forward(Packet{Ingress: 10, Data: make([]byte, EthernetOverhead-1)})
	require.Equal(t, Pass, d.Action)
	require.Empty(t, d.Outputs)
	require.Equal(t, 0, engine.Table().Len())
}

func TestFloodExcludesIngress(t *testing.T) {
	engine, _ := newTestEngine(t, 1, 2, 3)
	d := engine.Forward(Packet{Ingress: 1, Data: frame(BroadcastMAC, macA)})
	require.Equal(t, Flood, d.Action)
	require.Equal(t, []uint32{2, 3}, outputIfindexes(d))
}

func TestFloodCopiesAreIndependent(t *testing.T) {
	engine, _ := newTestEngine(t, 1, 2, 3)
	data := frame(BroadcastMAC, macA, 0x42)
	d := engine.Forward(Packet{Ingress: 1, Data: data})
	require.Len(t, d.Outputs, 2)
	d.Outputs[0].Data[len(data)-1] = 0
	require.Equal(t, byte(0x42), d.Outputs[1].Data[len(data)-1])
	require.Equal(t, byte(0x42), data[len(data)-1])
}

func TestUnknownUnicastFloods(t *testing.T) {
	engine, _ := newTestEngine(t, 1, 2, 3)
	d := engine.Forward(Packet{Ingress: 2, Data: frame(macB, macA)})
	require.Equal(t, Flood, d.Action)
	require.Equal(t, []uint32{1, 3}, outputIfindexes(d))
}

func TestBroadcastLearnsSource(t *testing.T) {
	engine, clk := newTestEngine(t, 1, 2)
	engine.Forward(Packet{Ingress: 1, Data: frame(BroadcastMAC, macA)})

	entry, found := engine.Table().Get(macA, uint64(clk.Now().UnixNano()))
	require.True(t, found)
	require.Equal(t, uint32(1), entry.Ifindex)
}

func TestFloodWithNoOtherMembers(t *testing.T) {
	engine, _ := newTestEngine(t, 1)
	d := engine.Forward(Packet{Ingress: 1, Data: frame(BroadcastMAC, macA)})
	require.Equal(t, Flood, d.Action)
	require.Empty(t, d.Outputs)
}

func TestEndToEnd(t *testing.T) {
	engine, clk := newTestEngine(t, 10, 20)
	t0 := uint64(clk.Now().UnixNano())

	d := engine.Forward(Packet{Ingress: 10, Data: frame(BroadcastMAC, macA)})
	require.Equal(t, Flood, d.Action)
	require.Equal(t, []uint32{20}, outputIfindexes(d))
	entry, found := engine.Table().Get(macA, t0)
	require.True(t, found)
	require.Equal(t, Entry{Ifindex: 10, LastSeen: t0}, entry)

	clk.Add(10 * time.Second)
	data := frame(macA, macB)
	d = engine.Forward(Packet{Ingress: 20, Data: data})
	require.Equal(t, Redirect, d.Action)
	require.Equal(t, []uint32{10}, outputIfindexes(d))
	require.Equal(t, &data[0], &d.Outputs[0].Data[0], "redirect moves the original frame")

	clk.Add(390 * time.Second)
	d = engine.Forward(Packet{Ingress: 20, Data: frame(macA, macB)})
	require.Equal(t, Flood, d.Action)
	require.Equal(t, []uint32{10}, outputIfindexes(d))
	_, found = engine.Table().Get(macA, uint64(clk.Now().UnixNano()))
	require.False(t, found)

	stats := engine.Stats()
	require.Equal(t, uint64(1), stats.Redirected)
	require.Equal(t, uint64(2), stats.Flooded)
	require.Equal(t, uint64(1), stats.Stale)
	require.Equal(t, uint64(3), stats.Learned)
	require.Equal(t, uint64(2), stats.Copies)
}

func TestRelearnAfterMove(t *testing.T) {
	engine, _ := newTestEngine(t, 1, 2, 3)
	engine.Forward(Packet{Ingress: 1, Data: frame(BroadcastMAC, macA)})
	engine.Forward(Packet{Ingress: 3, Data: frame(BroadcastMAC, macA)})

	d := engine.Forward(Packet{Ingress: 2, Data: frame(macA, macB)})
	require.Equal(t, Redirect, d.Action)
	require.Equal(t, []uint32{3}, outputIfindexes(d))
}

func TestConcurrentForward(t *testing.T) {
	engine, _ := newTestEngine(t, 1, 2, 3, 4)
	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(ingress uint32) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 1000; i++ {
				src := macN(int(ingress)*1000 + i)
				d := engine.Forward(Packet{Ingress: ingress, Data: frame(macN(i), src)})
				for _, out := range d.Outputs {
					if d.Action == Flood && out.Ifindex == ingress {
						t.Errorf("flooded back to ingress %d", ingress)
					}
				}
			}
		}(uint32(w + 1))
	}
	for w := 0; w < 4; w++ {
		<-done
	}
	require.Equal(t, uint64(4000), engine.Stats().Learned)
}
