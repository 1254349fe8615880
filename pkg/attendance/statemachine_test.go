package attendance

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNextTransition(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		last *Event
		want Transition
	}{
		{
			name: "NoPriorEvent",
			last: nil,
			want: TransitionEntry,
		},
		{
			name: "EntryWithinWindow",
			last: &Event{Type: TransitionEntry, Timestamp: now.Add(-time.Hour)},
			want: TransitionExit,
		},
		{
			name: "EntryJustInsideWindow",
			last: &Event{Type: TransitionEntry, Timestamp: now.Add(-4*time.Hour + time.Second)},
			want: TransitionExit,
		},
		{
			name: "StaleEntryResets",
			last: &Event{Type: TransitionEntry, Timestamp: now.Add(-6 * time.Hour)},
			want: TransitionEntry,
		},
		{
			name: "EntryExactlyAtWindowBoundary",
			last: &Event{Type: TransitionEntry, Timestamp: now.Add(-4 * time.Hour)},
			want: TransitionEntry,
		},
		{
			name: "AfterExit",
			last: &Event{Type: TransitionExit, Timestamp: now.Add(-time.Minute)},
			want: TransitionEntry,
		},
		{
			name: "AfterOldExit",
			last: &Event{Type: TransitionExit, Timestamp: now.Add(-30 * time.Hour)},
			want: TransitionEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewStateMachine(4 * time.Hour)
			m.now = fixedClock(now)
			if got := m.NextTransition(tt.last); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNextTransitionAlternates(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := NewStateMachine(4 * time.Hour)

	var last *Event
	want := []Transition{TransitionEntry, TransitionExit, TransitionEntry, TransitionExit}
	for i, expected := range want {
		m.now = fixedClock(now.Add(time.Duration(i) * 30 * time.Minute))
		ev := m.NextEvent("alice@example.com", last, 0.9, "")
		if ev.Type != expected {
			t.Fatalf("step %d: expected %s, got %s", i, expected, ev.Type)
		}
		last = &ev
	}
}

func TestNextEventPopulatesFields(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := NewStateMachine(0) // falls back to the default window
	m.now = fixedClock(now)

	ev := m.NextEvent("alice@example.com", nil, 0.87, "frame-42")
	if ev.ID == "" {
		t.Error("event ID not set")
	}
	if ev.IdentityKey != "alice@example.com" {
		t.Errorf("unexpected identity key %q", ev.IdentityKey)
	}
	if ev.Type != TransitionEntry {
		t.Errorf("expected entry, got %s", ev.Type)
	}
	if !ev.Timestamp.Equal(now) {
		t.Errorf("unexpected timestamp %v", ev.Timestamp)
	}
	if ev.Confidence != 0.87 {
		t.Errorf("unexpected confidence %f", ev.Confidence)
	}
	if ev.CaptureRef != "frame-42" {
		t.Errorf("unexpected capture ref %q", ev.CaptureRef)
	}
}

func TestSummarize(t *testing.T) {
	events := []Event{
		{Type: TransitionEntry},
		{Type: TransitionExit},
		{Type: TransitionEntry},
	}
	s := Summarize(events)
	if s.Total != 3 || s.Entries != 2 || s.Exits != 1 {
		t.Errorf("unexpected stats %+v", s)
	}

	empty := Summarize(nil)
	if empty.Total != 0 {
		t.Errorf("expected zero stats, got %+v", empty)
	}
}
