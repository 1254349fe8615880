package store

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/facetrack/facetrack/pkg/attendance"
	"github.com/facetrack/facetrack/pkg/enrollment"
)

// WriteEventsCSV writes attendance events as CSV. names maps identity keys
// to display names; unknown keys fall back to the key itself.
func WriteEventsCSV(w io.Writer, events []attendance.Event, names map[string]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Name", "Key", "Type", "Date", "Time", "Confidence"}); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	for _, ev := range events {
		name := names[ev.IdentityKey]
		if name == "" {
			name = ev.IdentityKey
		}
		row := []string{
			name,
			ev.IdentityKey,
			string(ev.Type),
			ev.Timestamp.Format("2006-01-02"),
			ev.Timestamp.Format("15:04:05"),
			fmt.Sprintf("%.1f%%", ev.Confidence*100),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteIdentitiesCSV writes the identity roster as CSV, with enrollment
// status per row.
func WriteIdentitiesCSV(w io.Writer, identities []enrollment.Identity) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Name", "Key", "EnrolledAt", "Status"}); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	for _, id := range identities {
		status := "pending"
		enrolledAt := ""
		if id.HasEmbedding() {
			status = "enrolled"
			enrolledAt = id.EnrolledAt.Format("2006-01-02")
		}
		if err := cw.Write([]string{id.DisplayName, id.Key, enrolledAt, status}); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
