package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamibilling/rdn-billing/internal/app"
	"github.com/jamibilling/rdn-billing/internal/events"
)

// WatchOptions holds options for the watch command.
type WatchOptions struct {
	Subject   string
	Durable   string
	SessionID string
	CaseID    string
}

func newWatchCmd(g *globalOptions) *cobra.Command {
	opts := &WatchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow case events from NATS",
		Example: `  # Every case event
  rdnctl watch

  # Progress of one case
  rdnctl watch --subject cases.progress --case 2051447`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), g, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Subject, "subject", events.SubjectAll, "Subject to follow")
	cmd.Flags().StringVar(&opts.Durable, "durable", "", "Durable consumer name; resumes missed events")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "Only show events of this session")
	cmd.Flags().StringVar(&opts.CaseID, "case", "", "Only show events of this case")
	return cmd
}

func runWatch(ctx context.Context, g *globalOptions, opts *WatchOptions, out io.Writer) error {
	if !strings.HasPrefix(opts.Subject, "cases.") {
		return fmt.Errorf("subject %q is outside the cases stream", opts.Subject)
	}

	rt, err := setup(ctx, g, app.Options{Events: true})
	if err != nil {
		return err
	}
	defer rt.close()

	bus := rt.app.Bus
	if bus == nil {
		return errors.New("NATS is not configured or not reachable")
	}

	enc := json.NewEncoder(out)
	_, err = bus.Subscribe(opts.Subject, opts.Durable, func(e events.Event) {
		if !opts.matches(e) {
			return
		}
		if g.JSON {
			_ = enc.Encode(e)
			return
		}
		fmt.Fprintln(out, formatEvent(e))
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", opts.Subject)
	<-ctx.Done()

	if err := bus.Drain(); err != nil {
		rt.log.WithError(err).Warn("failed to drain subscription")
	}
	return nil
}

func (o *WatchOptions) matches(e events.Event) bool {
	if o.SessionID != "" && e.SessionID != o.SessionID {
		return false
	}
	if o.CaseID != "" && e.CaseID != o.CaseID {
		return false
	}
	return true
}

// formatEvent renders an event as one line with its data keys sorted.
func formatEvent(e events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-16s", e.Timestamp.Local().Format(time.TimeOnly), e.Subject)
	if e.CaseID != "" {
		fmt.Fprintf(&b, "  case=%s", e.CaseID)
	}
	if e.SessionID != "" {
		fmt.Fprintf(&b, "  session=%s", e.SessionID)
	}
	for _, k := range slices.Sorted(maps.Keys(e.Data)) {
		fmt.Fprintf(&b, "  %s=%v", k, e.Data[k])
	}
	return b.String()
}
