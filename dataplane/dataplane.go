// Package dataplane moves frames between bridge member interfaces
// according to the decisions of a bridge.Engine.
package dataplane

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"github.com/weaveworks/tcbridge/bridge"
	"github.com/weaveworks/tcbridge/common"
)

// Port sends and receives whole ethernet frames on one interface.
type Port interface {
	ReadPacket() ([]byte, error)
	WritePacket([]byte) error
	Close() error
}

type Opener func(ifindex uint32) (Port, error)

// Dataplane runs one capture worker per member interface. Workers
// share the engine, and through it the learning table.
type Dataplane struct {
	sync.RWMutex
	engine   *bridge.Engine
	open     Opener
	ports    map[uint32]Port
	wg       sync.WaitGroup
	PktDebug bool
}

func New(engine *bridge.Engine, open Opener) *Dataplane {
	return &Dataplane{
		engine: engine,
		open:   open,
		ports:  make(map[uint32]Port),
	}
}

// Sync opens a port for every member that lacks one and closes the
// ports of interfaces that are no longer members.
func (dp *Dataplane) Sync() error {
	members := make(map[uint32]bool)
	dp.engine.Members().Range(func(_ int, ifindex uint32) bool {
		members[ifindex] = true
		return true
	})

	dp.Lock()
	defer dp.Unlock()
	var errs []error
	for ifindex, port := range dp.ports {
		if !members[ifindex] {
			common.Log.Infof("Releasing interface %d", ifindex)
			delete(dp.ports, ifindex)
			common.CheckWarn(port.Close())
		}
	}
	for ifindex := range members {
		if _, found := dp.ports[ifindex]; found {
			continue
		}
		port, err := dp.open(ifindex)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "opening interface %d", ifindex))
			continue
		}
		common.Log.Infof("Capturing on interface %d", ifindex)
		dp.ports[ifindex] = port
		dp.wg.Add(1)
		go dp.capture(ifindex, port)
	}
	if len(errs) > 0 {
		return errors.New(common.ErrorMessages(errs))
	}
	return nil
}

// Run keeps the ports in line with membership until ctx is done, then
// closes them all and waits for the workers to exit.
func (dp *Dataplane) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		common.CheckWarn(dp.Sync())
		select {
		case <-ctx.Done():
			dp.closeAll()
			dp.wg.Wait()
			return
		case <-ticker.C:
		}
	}
}

func (dp *Dataplane) closeAll() {
	dp.Lock()
	defer dp.Unlock()
	for ifindex, port := range dp.ports {
		delete(dp.ports, ifindex)
		common.CheckWarn(port.Close())
	}
}

func (dp *Dataplane) capture(ifindex uint32, port Port) {
	defer dp.wg.Done()
	for {
		pkt, err := port.ReadPacket()
		if err == io.EOF {
			return
		} else if err != nil {
			common.Log.Warnf("Stopped capturing on interface %d: %v", ifindex, err)
			dp.drop(ifindex, port)
			return
		}
		// the next read may overwrite pkt, and outputs outlive it
		frame := make([]byte, len(pkt))
		copy(frame, pkt)
		dp.handle(ifindex, frame)
	}
}

// drop forgets a failed port so the next Sync can reopen it.
func (dp *Dataplane) drop(ifindex uint32, port Port) {
	dp.Lock()
	defer dp.Unlock()
	if dp.ports[ifindex] == port {
		delete(dp.ports, ifindex)
	}
	common.CheckWarn(port.Close())
}

func (dp *Dataplane) handle(ingress uint32, frame []byte) {
	decision := dp.engine.Forward(bridge.Packet{Ingress: ingress, Data: frame})
	if dp.PktDebug {
		dp.logFrame(decision.Action.String(), ingress, frame)
	}
	for _, out := range decision.Outputs {
		dp.transmit(out)
	}
}

func (dp *Dataplane) transmit(out bridge.Output) {
	dp.RLock()
	port, found := dp.ports[out.Ifindex]
	dp.RUnlock()
	if !found {
		return
	}
	if err := port.WritePacket(out.Data); err != nil {
		common.Log.Debugf("Unable to send frame on interface %d: %v", out.Ifindex, err)
	}
}

func (dp *Dataplane) logFrame(prefix string, ingress uint32, frame []byte) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		common.Log.Debugf("%s %d bytes on %d: %v", prefix, len(frame), ingress, err)
		return
	}
	common.Log.Debugf("%s %v -> %v (%s, %d bytes) on %d",
		prefix, eth.SrcMAC, eth.DstMAC, eth.EthernetType, len(frame), ingress)
}

func (dp *Dataplane) Ports() []uint32 {
	dp.RLock()
	defer dp.RUnlock()
	ports := make([]uint32, 0, len(dp.ports))
	for ifindex := range dp.ports {
		ports = append(ports, ifindex)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

func (dp *Dataplane) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Ports: %v\n", dp.Ports())
	s := dp.engine.Stats()
	fmt.Fprintf(&buf, "Frames: %d redirected, %d flooded (%d copies), %d passed\n",
		s.Redirected, s.Flooded, s.Copies, s.Passed)
	return buf.String()
}
