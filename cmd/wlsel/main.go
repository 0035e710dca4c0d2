// wlsel: Wayland clipboard and primary selection from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "wlsel",
		Short: "Wayland clipboard from the command line",
		Long: `wlsel reads and writes the Wayland clipboard and the primary selection
without opening a window.

"wlsel copy" claims a selection with text from stdin and serves paste
requests until another client takes the selection over (Wayland clients
serve their own pastes; the claim dies with the process). "wlsel paste"
prints the current selection. "wlsel seats" lists the compositor's seats
and what each selection currently holds.

Config file search order (first found wins):
  /etc/wlsel/wlsel.toml
  $HOME/.config/wlsel/wlsel.toml
  path supplied via --config

All flags can be set via WLSEL_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newCopyCmd(),
		newPasteCmd(),
		newSeatsCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("wlsel %s\n", Version)
		},
	}
}
