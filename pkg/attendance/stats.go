package attendance

// Stats summarizes a set of attendance events for reporting.
type Stats struct {
	Total   int `json:"total"`
	Entries int `json:"entries"`
	Exits   int `json:"exits"`
}

// Summarize counts entries and exits over a set of events.
func Summarize(events []Event) Stats {
	var s Stats
	for _, ev := range events {
		s.Total++
		switch ev.Type {
		case TransitionEntry:
			s.Entries++
		case TransitionExit:
			s.Exits++
		}
	}
	return s
}
