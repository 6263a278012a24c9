package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weaveworks/tcbridge/bridge"
	"github.com/weaveworks/tcbridge/common"
	"github.com/weaveworks/tcbridge/dataplane"
	"github.com/weaveworks/tcbridge/manage"
	"github.com/weaveworks/tcbridge/store"
)

// syncingPlane reconciles dataplane ports right after a membership
// change instead of waiting for the next periodic sync.
type syncingPlane struct {
	manage.Plane
	dp *dataplane.Dataplane
}

func (p syncingPlane) AddMember(ifindex uint32) error {
	if err := p.Plane.AddMember(ifindex); err != nil {
		return err
	}
	return p.dp.Sync()
}

func (p syncingPlane) RemoveMember(ifindex uint32) error {
	if err := p.Plane.RemoveMember(ifindex); err != nil {
		return err
	}
	return p.dp.Sync()
}

type service struct {
	engine *bridge.Engine
	dp     *dataplane.Dataplane
	stores *store.Stores
	// learning entries are checkpointed here on Stop, when set
	checkpoint bridge.EntryStore
	cancel     context.CancelFunc
	done       chan struct{}
}

func newService(engine *bridge.Engine, dp *dataplane.Dataplane, stores *store.Stores) *service {
	return &service{engine: engine, dp: dp, stores: stores, done: make(chan struct{})}
}

// start runs the dataplane and the learning table sweep until Stop.
func (s *service) start(syncInterval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		go s.expireLoop(ctx, bridge.MacMaxAge/10)
		s.dp.Run(ctx, syncInterval)
	}()
}

func (s *service) expireLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.engine.Table().Expire(s.engine.Clock().Nanotime()); n > 0 {
				common.Log.Debugf("Expired %d learning table entries", n)
			}
		}
	}
}

func (s *service) router() *mux.Router {
	muxRouter := mux.NewRouter()
	plane := syncingPlane{
		Plane: manage.NewLocal(s.engine.Members(), s.engine.Table(), s.engine.Clock()),
		dp:    s.dp,
	}
	manage.HandleHTTP(muxRouter, plane)

	reg := prometheus.NewRegistry()
	reg.MustRegister(bridge.NewCollector(s.engine))
	muxRouter.Methods("GET").Path("/metrics").Handler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	muxRouter.Methods("GET").Path("/status").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, s.Status())
	})
	return muxRouter
}

func (s *service) Status() string {
	stats := s.engine.Stats()
	return fmt.Sprintf("%sLearned: %d, stale: %d\nLearning table:\n%s",
		s.dp, stats.Learned, stats.Stale, s.engine.Table())
}

func (s *service) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if s.checkpoint != nil {
		n, err := store.ReplaceEntries(s.checkpoint, s.engine.Table().Store())
		if err != nil {
			common.Log.Warnf("Unable to checkpoint learning table: %s", err)
		} else {
			common.Log.Infof("Checkpointed %d learning table entries", n)
		}
	}
	if s.stores != nil {
		return s.stores.Close()
	}
	return nil
}
