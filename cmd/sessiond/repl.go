package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/dotsetgreg/sessiond/pkg/pressure"
	"github.com/dotsetgreg/sessiond/pkg/session"
)

// runREPL drives the engine from a terminal. Plain input is a user turn; the
// context percentage is set with /ctx and sticks until changed, matching how
// the serving layer would report it.
func runREPL(ctx context.Context, mgr *session.Manager, clientID string) error {
	rl, err := readline.New("sessiond> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Printf("Driving client %s. /ctx <pct> sets context usage, /quit exits.\n", clientID)
	usage := 0.0

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil

		case strings.HasPrefix(line, "/ctx "):
			v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "/ctx ")), 64)
			if err != nil {
				fmt.Println("usage: /ctx <percent>")
				continue
			}
			usage = v
			sig := pressure.Evaluate(usage)
			fmt.Printf("context usage %.1f%% (band %s)\n", usage, sig.Band)

		case strings.HasPrefix(line, "/assistant "):
			text := strings.TrimPrefix(line, "/assistant ")
			if err := mgr.RecordAssistantMessage(ctx, clientID, text, len(text)/4); err != nil {
				fmt.Printf("error: %v\n", err)
			}

		case strings.HasPrefix(line, "/tool "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/tool "), " ", 2)
			name := parts[0]
			output := ""
			if len(parts) > 1 {
				output = parts[1]
			}
			callID := uuid.NewString()
			if err := mgr.RecordToolCall(ctx, clientID, callID, name, nil); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			if err := mgr.RecordToolResult(ctx, clientID, callID, name, output, false); err != nil {
				fmt.Printf("error: %v\n", err)
			}

		case line == "/status":
			sess, err := mgr.ActiveSession(clientID)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			if sess == nil {
				fmt.Println("no active session")
				continue
			}
			fmt.Printf("session %s: %d events, %d exchanges, last activity %s\n",
				sess.ID, len(sess.Timeline), sess.ExchangeCount(), sess.LastActivityAt.Format("15:04:05"))

		default:
			outcome, err := mgr.HandleUserMessage(ctx, clientID, line, len(line)/4, usage)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			if outcome.Rotated {
				fmt.Printf("** rotated (%s) into session %s\n", outcome.Reason, outcome.SessionID)
				fmt.Printf("** handoff: %s\n", outcome.Handoff)
			}
			fmt.Printf("session=%s tier=%s band=%s\n", outcome.SessionID, outcome.Tier, outcome.Pressure.Band)
			if outcome.Pressure.Instruction != "" {
				fmt.Printf("model note: %s\n", outcome.Pressure.Instruction)
			}
		}
	}
}
