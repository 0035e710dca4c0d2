package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/wlsel"
)

func newSeatsCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "seats",
		Short: "List seats and what each selection holds",
		Long: `Displays every seat the compositor advertises, most recently active
first, and probes the clipboard and primary selection on each: whether it
is empty, holds text (and how much), or offers something unreadable.

Probing transfers the selection content, so a slow owner shows up as
"owner not responding" after --timeout.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runSeats(v) },
	}

	f := cmd.Flags()
	f.Duration("timeout", 2*time.Second, "per-selection probe deadline")
	f.Bool("json", false, "output raw JSON")
	addCommonFlags(cmd)

	return cmd
}

type seatStatus struct {
	Name      string `json:"name"`
	Clipboard string `json:"clipboard"`
	Primary   string `json:"primary"`
}

func runSeats(v *viper.Viper) error {
	log := setupLogging(v)

	cb, err := openClipboard(v, log, wlsel.WithLoadTimeout(v.GetDuration("timeout")))
	if err != nil {
		return err
	}
	defer cb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seats := cb.Seats()
	statuses := make([]seatStatus, 0, len(seats))
	for _, s := range seats {
		st := seatStatus{
			Name:      s.Name,
			Clipboard: probe(ctx, cb.Load, s.Name),
			Primary:   "unsupported",
		}
		if cb.PrimarySupported() {
			st.Primary = probe(ctx, cb.LoadPrimary, s.Name)
		}
		statuses = append(statuses, st)
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(statuses, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	if len(statuses) == 0 {
		fmt.Println("No seats advertised.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "SEAT\tCLIPBOARD\tPRIMARY\n")
	_, _ = fmt.Fprintf(tw, "----\t---------\t-------\n")
	for _, st := range statuses {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", st.Name, st.Clipboard, st.Primary)
	}
	return tw.Flush()
}

// probe describes one selection's current content without printing it.
func probe(ctx context.Context, load func(context.Context, string) (string, error), seat string) string {
	text, err := load(ctx, seat)
	switch {
	case err == nil:
		return fmt.Sprintf("text, %d bytes", len(text))
	case errors.Is(err, wlsel.ErrEmpty):
		return "empty"
	case errors.Is(err, wlsel.ErrUnsupportedFormat):
		return "non-text"
	case errors.Is(err, wlsel.ErrInvalidUTF8):
		return "invalid utf-8"
	case errors.Is(err, wlsel.ErrTimeout):
		return "owner not responding"
	default:
		return err.Error()
	}
}
