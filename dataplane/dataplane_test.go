package dataplane

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weaveworks/tcbridge/bridge"
)

type mockPort struct {
	ifindex uint32
	in      chan []byte
	mu      sync.Mutex
	sent    [][]byte
	closed  chan struct{}
	once    sync.Once
}

func newMockPort(ifindex uint32) *mockPort {
	return &mockPort{ifindex: ifindex, in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *mockPort) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.in:
		return pkt, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *mockPort) WritePacket(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, data)
	return nil
}

func (p *mockPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *mockPort) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte{}, p.sent...)
}

type mockNetwork struct {
	sync.Mutex
	ports map[uint32]*mockPort
}

func (n *mockNetwork) open(ifindex uint32) (Port, error) {
	n.Lock()
	defer n.Unlock()
	port := newMockPort(ifindex)
	n.ports[ifindex] = port
	return port, nil
}

func (n *mockNetwork) port(ifindex uint32) *mockPort {
	n.Lock()
	defer n.Unlock()
	return n.ports[ifindex]
}

func frame(dst, src bridge.MAC) []byte {
	data := append([]byte{}, dst[:]...)
	data = append(data, src[:]...)
	return append(data, 0x08, 0x06, 0, 1, 2, 3)
}

func setup(t *testing.T, members ...uint32) (*Dataplane, *mockNetwork) {
	set := bridge.NewInterfaceSet(bridge.NewMemorySlots())
	for _, ifindex := range members {
		require.NoError(t, set.Add(ifindex))
	}
	table := bridge.NewLearningTable(bridge.NewEntryCache(bridge.MacTableSize), bridge.MacMaxAge)
	engine := bridge.NewEngine(set, table, bridge.MonotonicClock{})
	network := &mockNetwork{ports: make(map[uint32]*mockPort)}
	return New(engine, network.open), network
}

func TestSyncFollowsMembership(t *testing.T) {
	dp, network := setup(t, 1, 2)
	require.NoError(t, dp.Sync())
	require.Equal(t, []uint32{1, 2}, dp.Ports())

	require.NoError(t, dp.engine.Members().Remove(1))
	require.NoError(t, dp.engine.Members().Add(3))
	require.NoError(t, dp.Sync())
	require.Equal(t, []uint32{2, 3}, dp.Ports())

	select {
	case <-network.port(1).closed:
	default:
		t.Fatal("port 1 was not closed")
	}
}

func TestFloodThenRedirect(t *testing.T) {
	dp, network := setup(t, 1, 2, 3)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dp.Run(ctx, time.Hour)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(dp.Ports()) == 3 }, time.Second, time.Millisecond)

	a := bridge.MAC{0x02, 0, 0, 0, 0, 0xa}
	b := bridge.MAC{0x02, 0, 0, 0, 0, 0xb}
	network.port(1).in <- frame(bridge.BroadcastMAC, a)
	require.Eventually(t, func() bool {
		return len(network.port(2).Sent()) == 1 && len(network.port(3).Sent()) == 1
	}, time.Second, time.Millisecond)
	require.Empty(t, network.port(1).Sent())

	network.port(3).in <- frame(a, b)
	require.Eventually(t, func() bool { return len(network.port(1).Sent()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, frame(a, b), network.port(1).Sent()[0])
	require.Len(t, network.port(2).Sent(), 1)

	cancel()
	<-done
	require.Empty(t, dp.Ports())
}

func TestShortFrameIsNotForwarded(t *testing.T) {
	dp, network := setup(t, 1, 2)
	require.NoError(t, dp.Sync())
	dp.handle(1, []byte{1, 2, 3})
	require.Empty(t, network.port(2).Sent())
	require.Equal(t, uint64(1), dp.engine.Stats().Passed)
}
