/* bridgectl: manage the members and inspect the learning table of a bridge */
package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/weaveworks/tcbridge/api"
	"github.com/weaveworks/tcbridge/bridge"
	"github.com/weaveworks/tcbridge/common"
	"github.com/weaveworks/tcbridge/manage"
	"github.com/weaveworks/tcbridge/store"
)

var (
	addIface   string
	delIface   string
	listIfaces bool
	showTable  bool
	ifsMap     string
	macMap     string
	dbPath     string
	daemonAddr string
	logLevel   string
)

// openPlane picks where commands run: a daemon, a bolt file, or the
// pinned maps of the tc forwarder.
func openPlane() (manage.Plane, io.Closer, error) {
	if daemonAddr != "" {
		return api.NewClient(daemonAddr), io.NopCloser(nil), nil
	}
	var (
		stores *store.Stores
		err    error
	)
	if dbPath != "" {
		stores, err = store.OpenBolt(dbPath)
	} else {
		stores, err = store.OpenPinned(ifsMap, macMap)
	}
	if err != nil {
		return nil, nil, err
	}
	set := bridge.NewInterfaceSet(stores.Slots)
	table := bridge.NewLearningTable(stores.Entries, bridge.MacMaxAge)
	return manage.NewLocal(set, table, stores.Clock), stores, nil
}

func flagIfindex(cmd *cobra.Command, name, value string) (*uint32, error) {
	if !cmd.Flags().Changed(name) {
		return nil, nil
	}
	ifindex, err := common.LinkIndex(value)
	if err != nil {
		return nil, err
	}
	return &ifindex, nil
}

func run(cmd *cobra.Command, args []string) error {
	common.SetLogLevel(logLevel)

	// validate the choice of operation before resolving anything
	ops := 0
	for _, name := range []string{"add", "delete", "list", "show"} {
		if cmd.Flags().Changed(name) {
			ops++
		}
	}
	if ops != 1 || len(args) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), manage.ErrInvalidCommand)
		cmd.Usage()
		return nil
	}

	add, err := flagIfindex(cmd, "add", addIface)
	if err != nil {
		return err
	}
	del, err := flagIfindex(cmd, "delete", delIface)
	if err != nil {
		return err
	}
	command, err := manage.NewCommand(add, del, listIfaces, showTable)
	if err != nil {
		return err
	}

	plane, closer, err := openPlane()
	if err != nil {
		return err
	}
	defer closer.Close()
	return command.Run(plane, cmd.OutOrStdout())
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bridgectl (-a IFACE | -d IFACE | -l | -s)",
		Short:         "Manage the members and learning table of a software bridge",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.Flags()
	flags.StringVarP(&addIface, "add", "a", "", "add member interface (index or name)")
	flags.StringVarP(&delIface, "delete", "d", "", "remove member interface (index or name)")
	flags.BoolVarP(&listIfaces, "list", "l", false, "list member interfaces")
	flags.BoolVarP(&showTable, "show", "s", false, "dump the MAC learning table")
	flags.StringVar(&ifsMap, "ifs-map", store.DefaultIfsMap, "pinned BPF map of member interfaces")
	flags.StringVar(&macMap, "mac-map", store.DefaultMacMap, "pinned BPF map of the learning table")
	flags.StringVar(&dbPath, "db", "", "use this bolt file instead of the pinned BPF maps")
	flags.StringVar(&daemonAddr, "daemon", "", "manage a running bridged at this address instead")
	flags.StringVar(&logLevel, "log-level", "warning", "logging level (debug, info, warning, error)")
	return rootCmd
}

func main() {
	common.CheckFatal(newRootCommand().Execute())
}
