package sessionlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotsetgreg/sessiond/pkg/logger"
)

// MaxInlineToolOutput is the largest tool output persisted inline. Anything
// bigger goes to a side file referenced by the event.
const MaxInlineToolOutput = 2000

// Log is the append-only per-session event store. One JSONL file per session
// under dir, plus side files for oversized tool output.
type Log struct {
	dir string
}

func NewLog(dir string) (*Log, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("session log dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	return &Log{dir: dir}, nil
}

func (l *Log) Dir() string { return l.dir }

// Path returns the log file for a session id.
func (l *Log) Path(sessionID string) string {
	return filepath.Join(l.dir, sanitizeName(sessionID)+".jsonl")
}

// Append durably writes one event. I/O errors are returned to the caller and
// fail the turn; nothing is retried here.
func (l *Log) Append(ev Event) error {
	if tr, ok := ev.(*ToolResult); ok && len(tr.Output) > MaxInlineToolOutput {
		if err := l.spillToolOutput(tr); err != nil {
			return err
		}
	}

	data, err := MarshalEvent(ev)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(l.Path(ev.Session()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append %s event: %w", ev.Kind(), err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync session log: %w", err)
	}
	return nil
}

// spillToolOutput moves oversized output into a side file and rewrites the
// event to carry a reference instead.
func (l *Log) spillToolOutput(tr *ToolResult) error {
	name := fmt.Sprintf("%s-%s-%s.txt",
		sanitizeName(tr.Session()), sanitizeName(tr.Tool), sanitizeName(tr.CallID))
	path := filepath.Join(l.dir, name)
	if err := os.WriteFile(path, []byte(tr.Output), 0o644); err != nil {
		return fmt.Errorf("write tool output side file: %w", err)
	}
	tr.OutputRef = name
	tr.Output = ""
	return nil
}

// ReadToolOutput resolves a side-file reference produced by Append.
func (l *Log) ReadToolOutput(ref string) (string, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, filepath.Base(ref)))
	if err != nil {
		return "", fmt.Errorf("read tool output side file: %w", err)
	}
	return string(data), nil
}

// ReadEvents scans a log file in order. Missing, unreadable or empty files
// yield (nil, nil). Individually corrupt lines are skipped; an unknown schema
// version aborts the scan so future logs are never partially dropped.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := UnmarshalEvent([]byte(line))
		if err != nil {
			if errors.Is(err, ErrUnknownVersion) {
				return nil, fmt.Errorf("replay %s line %d: %w", filepath.Base(path), lineNo, err)
			}
			logger.WarnCF("sessionlog", "Skipping corrupt log line", map[string]interface{}{
				"file": filepath.Base(path),
				"line": lineNo,
				"err":  err.Error(),
			})
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session log: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events, nil
}

// sanitizeName keeps file names shell- and filesystem-safe.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
