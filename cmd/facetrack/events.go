package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/facetrack/facetrack/pkg/attendance"
	"github.com/facetrack/facetrack/pkg/store"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List attendance events",
	Long: `Events lists attendance events for a date range, most useful for a
single day. Without flags it covers today.`,
	RunE: runEvents,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export attendance events as CSV",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(exportCmd)

	for _, c := range []*cobra.Command{eventsCmd, exportCmd} {
		c.Flags().String("from", "", "Range start (YYYY-MM-DD)")
		c.Flags().String("to", "", "Range end (YYYY-MM-DD)")
	}
	eventsCmd.Flags().Bool("stats", false, "Print entry/exit totals instead of rows")
	exportCmd.Flags().String("output", "", "Output file (defaults to stdout)")
	exportCmd.Flags().Bool("identities", false, "Export the identity roster instead of events")
}

func dateRangeFromFlags(cmd *cobra.Command) (time.Time, time.Time, error) {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := start.Add(24*time.Hour - time.Nanosecond)

	if v, _ := cmd.Flags().GetString("from"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			return start, end, fmt.Errorf("invalid --from date: %s", v)
		}
		start = t
	}
	if v, _ := cmd.Flags().GetString("to"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.Local)
		if err != nil {
			return start, end, fmt.Errorf("invalid --to date: %s", v)
		}
		end = t.Add(24*time.Hour - time.Nanosecond)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("--to must not precede --from")
	}
	return start, end, nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	start, end, err := dateRangeFromFlags(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	events, err := a.events.ListByDateRange(context.Background(), start, end)
	if err != nil {
		return err
	}

	if showStats, _ := cmd.Flags().GetBool("stats"); showStats {
		s := attendance.Summarize(events)
		active, err := a.identities.ListEnrolled(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Total: %d  Entries: %d  Exits: %d  Enrolled: %d\n",
			s.Total, s.Entries, s.Exits, len(active))
		return nil
	}

	if len(events) == 0 {
		fmt.Println("No events in range.")
		return nil
	}

	for _, ev := range events {
		fmt.Printf("%s  %-5s  %-30s  %.1f%%\n",
			ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Type, ev.IdentityKey, ev.Confidence*100)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	start, end, err := dateRangeFromFlags(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	identities, err := a.identities.List(ctx)
	if err != nil {
		return err
	}

	out := os.Stdout
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if roster, _ := cmd.Flags().GetBool("identities"); roster {
		return store.WriteIdentitiesCSV(out, identities)
	}

	events, err := a.events.ListByDateRange(ctx, start, end)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(identities))
	for _, id := range identities {
		names[id.Key] = id.DisplayName
	}
	return store.WriteEventsCSV(out, events, names)
}
