package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotsetgreg/sessiond/pkg/rotation"
)

// MarkerStore persists the small per-client control state that must survive
// restarts: the active-session pointer, the pending rollover record, and the
// previous-session handoff summary. It is injected into the Manager so no
// module-level mutable state exists.
type MarkerStore struct {
	dir string
}

func NewMarkerStore(dir string) (*MarkerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create marker dir: %w", err)
	}
	return &MarkerStore{dir: dir}, nil
}

func (m *MarkerStore) path(clientID, suffix string) string {
	return filepath.Join(m.dir, clientKey(clientID)+suffix)
}

// ActiveSession reads the active-session pointer. Absence means start fresh.
func (m *MarkerStore) ActiveSession(clientID string) (string, error) {
	data, err := os.ReadFile(m.path(clientID, ".current"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read active-session marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetActiveSession writes the pointer; called on open and rotation.
func (m *MarkerStore) SetActiveSession(clientID, sessionID string) error {
	if err := os.WriteFile(m.path(clientID, ".current"), []byte(sessionID+"\n"), 0o644); err != nil {
		return fmt.Errorf("write active-session marker: %w", err)
	}
	return nil
}

// ClearActiveSession removes the pointer on explicit teardown.
func (m *MarkerStore) ClearActiveSession(clientID string) error {
	if err := os.Remove(m.path(clientID, ".current")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear active-session marker: %w", err)
	}
	return nil
}

// PendingRollover loads the persisted deferral record, nil when absent.
func (m *MarkerStore) PendingRollover(clientID string) (*rotation.PendingRollover, error) {
	data, err := os.ReadFile(m.path(clientID, ".rollover.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pending rollover: %w", err)
	}
	var pending rotation.PendingRollover
	if err := json.Unmarshal(data, &pending); err != nil {
		// A corrupt record is dropped; worst case the rollover re-arms on the
		// next boundary observation.
		return nil, nil
	}
	return &pending, nil
}

// SetPendingRollover persists or clears (nil) the deferral record.
func (m *MarkerStore) SetPendingRollover(clientID string, pending *rotation.PendingRollover) error {
	path := m.path(clientID, ".rollover.json")
	if pending == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear pending rollover: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pending rollover: %w", err)
	}
	return nil
}

// PreviousSummary reads the handoff carried from the last closed session.
func (m *MarkerStore) PreviousSummary(clientID string) (string, error) {
	data, err := os.ReadFile(m.path(clientID, ".summary"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read previous summary: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (m *MarkerStore) SetPreviousSummary(clientID, summary string) error {
	if err := os.WriteFile(m.path(clientID, ".summary"), []byte(summary+"\n"), 0o644); err != nil {
		return fmt.Errorf("write previous summary: %w", err)
	}
	return nil
}

func (m *MarkerStore) ClearPreviousSummary(clientID string) error {
	if err := os.Remove(m.path(clientID, ".summary")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear previous summary: %w", err)
	}
	return nil
}

// clientKey flattens a client identifier into a safe file-name stem.
func clientKey(clientID string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(clientID) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
