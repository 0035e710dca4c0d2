package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/wlsel"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Print the Wayland clipboard to stdout (like wl-paste)",
		Long: `Retrieves the current selection and writes it to stdout, followed by a
newline unless the text already ends with one (suppress with --no-newline).

Exits 1 with a message on stderr when nothing owns the selection, the
owner offers no text, or the transfer does not finish within --timeout.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runPaste(v) },
	}

	f := cmd.Flags()
	f.String("seat", "", "seat to read (default: most recently active)")
	f.Bool("primary", false, "read the primary selection instead of the clipboard")
	f.Duration("timeout", wlsel.DefaultLoadTimeout, "give up after this long")
	f.Bool("no-newline", false, "do not append a trailing newline")
	addCommonFlags(cmd)

	return cmd
}

func runPaste(v *viper.Viper) error {
	log := setupLogging(v)

	cb, err := openClipboard(v, log, wlsel.WithLoadTimeout(v.GetDuration("timeout")))
	if err != nil {
		return err
	}
	defer cb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seat := v.GetString("seat")
	var text string
	if v.GetBool("primary") {
		text, err = cb.LoadPrimary(ctx, seat)
	} else {
		text, err = cb.Load(ctx, seat)
	}
	if err != nil {
		return err
	}

	if _, err := os.Stdout.WriteString(text); err != nil {
		return err
	}
	if !v.GetBool("no-newline") && !strings.HasSuffix(text, "\n") {
		_, err = os.Stdout.WriteString("\n")
	}
	return err
}
