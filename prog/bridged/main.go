/* bridged: a learning bridge between the interfaces added to it */
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/weaveworks/tcbridge/api"
	"github.com/weaveworks/tcbridge/bridge"
	"github.com/weaveworks/tcbridge/common"
	"github.com/weaveworks/tcbridge/dataplane"
	"github.com/weaveworks/tcbridge/store"
)

var Log = common.Log

var (
	ifaces       []string
	storeKind    string
	ifsMap       string
	macMap       string
	dbPath       string
	httpAddr     string
	bufSzMB      int
	logLevel     string
	pktDebug     bool
	syncInterval time.Duration
)

// openStores returns the stores named by the flags, plus the bolt
// entry store to checkpoint learning into when membership is
// persisted.
func openStores() (*store.Stores, bridge.EntryStore, error) {
	switch storeKind {
	case "bpf":
		if dbPath != "" {
			return nil, nil, errors.New("--db cannot be used with --store=bpf")
		}
		return store.OpenPinned(ifsMap, macMap)
	case "memory":
		if dbPath == "" {
			return &store.Stores{
				Slots:   bridge.NewMemorySlots(),
				Entries: bridge.NewEntryCache(bridge.MacTableSize),
				Clock:   bridge.MonotonicClock{},
			}, nil, nil
		}
		persisted, err := store.OpenBolt(dbPath)
		if err != nil {
			return nil, nil, err
		}
		cache := bridge.NewEntryCache(bridge.MacTableSize)
		n := store.CopyEntries(cache, persisted.Entries)
		Log.Infof("Restored %d learning table entries from %s", n, dbPath)
		stores := *persisted
		stores.Entries = cache
		return &stores, persisted.Entries, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (must be memory or bpf)", storeKind)
	}
}

func run(cmd *cobra.Command, args []string) error {
	common.SetLogLevel(logLevel)
	Log.Println("bridged starting; store", storeKind)

	stores, checkpoint, err := openStores()
	if err != nil {
		return err
	}
	set := bridge.NewInterfaceSet(stores.Slots)
	table := bridge.NewLearningTable(stores.Entries, bridge.MacMaxAge)
	engine := bridge.NewEngine(set, table, stores.Clock)

	for _, iface := range ifaces {
		ifindex, err := common.LinkIndex(iface)
		if err != nil {
			stores.Close()
			return err
		}
		if err := set.Add(ifindex); err != nil {
			stores.Close()
			return err
		}
	}

	bufSz := bufSzMB * 1024 * 1024
	dp := dataplane.New(engine, func(ifindex uint32) (dataplane.Port, error) {
		return dataplane.OpenPcap(ifindex, bufSz)
	})
	dp.PktDebug = pktDebug

	svc := newService(engine, dp, stores)
	svc.checkpoint = checkpoint
	svc.start(syncInterval)

	if httpAddr != "" {
		http.Handle("/", common.LoggingHTTPHandler(svc.router()))
		Log.Println("Listening for HTTP control messages on", httpAddr)
		go func() {
			if err := http.ListenAndServe(httpAddr, nil); err != nil {
				Log.Fatal("Unable to create http server: ", err)
			}
		}()
	}

	common.SignalHandlerLoop(svc)
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "bridged",
		Short:         "Forward ethernet frames between member interfaces, learning where MACs live",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.Flags()
	flags.StringSliceVar(&ifaces, "iface", nil, "initial member interface (name or index, repeatable)")
	flags.StringVar(&storeKind, "store", "memory", "where tables live: memory or bpf (pinned maps)")
	flags.StringVar(&ifsMap, "ifs-map", store.DefaultIfsMap, "pinned BPF map of member interfaces")
	flags.StringVar(&macMap, "mac-map", store.DefaultMacMap, "pinned BPF map of the learning table")
	flags.StringVar(&dbPath, "db", "", "bolt file to persist membership and learning across restarts (memory store only)")
	flags.StringVar(&httpAddr, "http-addr", fmt.Sprintf(":%d", api.HTTPPort), "address to bind HTTP interface to (disabled if blank)")
	flags.IntVar(&bufSzMB, "bufsz", 8, "capture buffer size in MB")
	flags.StringVar(&logLevel, "log-level", "info", "logging level (debug, info, warning, error)")
	flags.BoolVar(&pktDebug, "pkt-debug", false, "log every frame forwarded")
	flags.DurationVar(&syncInterval, "sync-interval", time.Second, "how often to reconcile capture ports with membership")

	common.CheckFatal(rootCmd.Execute())
}
