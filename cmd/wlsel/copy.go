package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/wlsel"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy stdin to the Wayland clipboard (like wl-copy)",
		Long: `Reads stdin and claims the selection with it.

Wayland clients serve paste requests themselves, so copy stays in the
foreground until another client takes the selection over, --hold expires,
or it is interrupted. Shell it into the background to keep working:

  echo hello | wlsel copy &`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runCopy(v) },
	}

	f := cmd.Flags()
	f.String("seat", "", "seat to claim (default: most recently active)")
	f.Bool("primary", false, "claim the primary selection instead of the clipboard")
	f.Duration("hold", 0, "give up the claim after this long (0 = until replaced)")
	f.Bool("trim-newline", false, "drop one trailing newline from the input")
	addCommonFlags(cmd)

	return cmd
}

func runCopy(v *viper.Viper) error {
	log := setupLogging(v)

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	text := string(data)
	if v.GetBool("trim-newline") {
		text = strings.TrimSuffix(text, "\n")
	}

	cb, err := openClipboard(v, log)
	if err != nil {
		return err
	}
	defer cb.Close()

	seat := v.GetString("seat")
	primary := v.GetBool("primary")
	if primary {
		err = cb.StorePrimary(seat, text)
	} else {
		err = cb.Store(seat, text)
	}
	if err != nil {
		return err
	}

	return holdClaim(cb, primary, v.GetDuration("hold"))
}

// holdClaim keeps the process alive while any seat still carries our claim.
// The library serves paste requests in the background; this loop only
// watches for the claim to be displaced.
func holdClaim(cb *wlsel.Clipboard, primary bool, hold time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if hold > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hold)
		defer cancel()
	}

	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if !stillOwned(cb.Seats(), primary) {
				return nil
			}
		}
	}
}

func stillOwned(seats []wlsel.SeatInfo, primary bool) bool {
	for _, s := range seats {
		if primary && s.OwnsPrimary || !primary && s.OwnsClipboard {
			return true
		}
	}
	return false
}
