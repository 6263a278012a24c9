package common

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// A subsystem/server/... that can be stopped or queried about the status with a signal
type SignalsReceiver interface {
	Status() string
	Stop() error
}

// SignalHandlerLoop blocks until SIGINT or SIGTERM, stopping every
// receiver before returning. SIGQUIT dumps goroutines and SIGUSR1
// dumps the status of each receiver.
func SignalHandlerLoop(ss ...SignalsReceiver) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGUSR1)
	defer signal.Stop(sigs)
	buf := make([]byte, 1<<20)
	for {
		sig := <-sigs
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			Log.Infof("=== received %v ===\n*** exiting", sig)
			for _, subsystem := range ss {
				CheckWarn(subsystem.Stop())
			}
			return
		case syscall.SIGQUIT:
			stacklen := runtime.Stack(buf, true)
			Log.Infof("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end", buf[:stacklen])
		case syscall.SIGUSR1:
			for _, subsystem := range ss {
				Log.Infof("=== received SIGUSR1 ===\n*** status...\n%s\n*** end", subsystem.Status())
			}
		}
	}
}
