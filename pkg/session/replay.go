package session

import (
	"github.com/dotsetgreg/sessiond/pkg/sessionlog"
)

// ReplayFile folds a session log file into a projection. Missing, unreadable
// or empty files yield (nil, nil); callers treat that as "start fresh".
// Replaying the same file twice produces identical projections.
func ReplayFile(path string) (*Session, error) {
	events, err := sessionlog.ReadEvents(path)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	first := events[0]
	s := NewSession(first.Session(), "", first.Time())
	if open, ok := first.(*sessionlog.SessionOpen); ok {
		s.ClientID = open.ClientID
	}
	for _, ev := range events {
		s.AddEntry(ev)
	}
	return s, nil
}
