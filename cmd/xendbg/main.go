// Command xendbg attaches to a running Xen guest domain and drives the
// execution-control engine, either interactively through a REPL or
// headlessly behind a remote-protocol listener. Modeled on cmd/dlv's
// cobra-based command tree (cmd/dlv/cmds/commands.go).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	sys "golang.org/x/sys/unix"

	"github.com/openxen/xendbg/pkg/xdconfig"
	"github.com/openxen/xendbg/pkg/xlogflags"
)

var (
	logEnabled bool
	logOutput  string
	listenAddr string
	headless   bool
	symbolFile string

	conf *xdconfig.Config
	log  = xlogflags.CliLogger()
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "xendbg",
		Short: "xendbg is a source-level debugger for Xen paravirtualized and HVM guests.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := xlogflags.Setup(logEnabled, logOutput); err != nil {
				return err
			}
			conf = xdconfig.Load()
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&logEnabled, "log", false, "enable debug logging")
	root.PersistentFlags().StringVar(&logOutput, "log-output", "", "comma separated list of log layers: breakpoint,stepper,rsp,xenctrl,xenstore,cli")

	attachCmd := &cobra.Command{
		Use:   "attach <domid>",
		Short: "Attach to a running guest domain by id and start a REPL.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid domain id %q: %w", args[0], err)
			}
			return runAttach(domid)
		},
	}
	attachCmd.Flags().StringVar(&symbolFile, "symbols", "", "path to the guest's ELF-like binary for symbol lookups")
	attachCmd.Flags().StringVar(&listenAddr, "listen", "", "if set, also serve the remote protocol on this address alongside the REPL")
	attachCmd.Flags().BoolVar(&headless, "headless", false, "run the remote-protocol listener only, no REPL")
	root.AddCommand(attachCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the xendbg version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("xendbg version 0.1.0")
		},
	}
	root.AddCommand(versionCmd)

	return root
}

// waitForSignal blocks until SIGINT, used by the headless listener path.
func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sys.SIGINT)
	<-ch
}
