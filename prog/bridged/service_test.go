package main

import (
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/weaveworks/tcbridge/api"
	"github.com/weaveworks/tcbridge/bridge"
	"github.com/weaveworks/tcbridge/dataplane"
)

type idlePort struct {
	once   sync.Once
	closed chan struct{}
}

func (p *idlePort) ReadPacket() ([]byte, error) {
	<-p.closed
	return nil, io.EOF
}

func (p *idlePort) WritePacket([]byte) error { return nil }

func (p *idlePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func newTestService() (*service, *clock.Mock) {
	mock := clock.NewMock()
	set := bridge.NewInterfaceSet(bridge.NewMemorySlots())
	table := bridge.NewLearningTable(bridge.NewEntryCache(bridge.MacTableSize), bridge.MacMaxAge)
	engine := bridge.NewEngine(set, table, bridge.NewClock(mock))
	dp := dataplane.New(engine, func(uint32) (dataplane.Port, error) {
		return &idlePort{closed: make(chan struct{})}, nil
	})
	return newService(engine, dp, nil), mock
}

func get(t *testing.T, url string) string {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMembershipChangeOpensPorts(t *testing.T) {
	svc, _ := newTestService()
	server := httptest.NewServer(svc.router())
	defer server.Close()
	client := api.NewClient(server.URL)

	require.NoError(t, client.AddMember(3))
	require.NoError(t, client.AddMember(5))
	require.Equal(t, []uint32{3, 5}, svc.dp.Ports())

	require.NoError(t, client.RemoveMember(3))
	require.Equal(t, []uint32{5}, svc.dp.Ports())

	require.Contains(t, get(t, server.URL+"/metrics"), "bridge_members 1")
	require.Contains(t, get(t, server.URL+"/status"), "Ports: [5]")
	require.NoError(t, svc.Stop())
}

func TestStopCheckpointsLearningTable(t *testing.T) {
	svc, mock := newTestService()
	now := uint64(mock.Now().UnixNano())
	mac, err := bridge.ParseMAC("02:00:00:00:00:0a")
	require.NoError(t, err)
	svc.engine.Table().Put(mac, 7, now)

	checkpoint := bridge.NewEntryCache(bridge.MacTableSize)
	forgotten := bridge.MAC{2, 0, 0, 0, 0, 0x0b}
	checkpoint.Update(forgotten, bridge.Entry{Ifindex: 8, LastSeen: now})
	svc.checkpoint = checkpoint
	svc.start(10 * time.Millisecond)
	require.NoError(t, svc.Stop())

	entry, found := checkpoint.Lookup(mac)
	require.True(t, found)
	require.Equal(t, bridge.Entry{Ifindex: 7, LastSeen: now}, entry)
	_, found = checkpoint.Lookup(forgotten)
	require.False(t, found)
}
