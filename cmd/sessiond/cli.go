package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/sessiond/pkg/catalog"
	"github.com/dotsetgreg/sessiond/pkg/config"
	"github.com/dotsetgreg/sessiond/pkg/logger"
	"github.com/dotsetgreg/sessiond/pkg/session"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sessiond",
		Short: "Event-sourced session-memory engine for conversational agents",
		Long: strings.TrimSpace(`sessiond records conversation turns, tool calls, and agent-loop
transitions per client, and decides when a conversation rotates into a new
session (context pressure, idle timeout, age cap, topic change, day rollover).`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newRunCommand())
	root.AddCommand(newSessionsCommand())
	root.AddCommand(newReplayCommand())
	root.AddCommand(newTeardownCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func buildManager(cfg *config.Config) (*session.Manager, *catalog.Store, error) {
	var store *catalog.Store
	if cfg.Catalog.Enabled {
		var err error
		store, err = catalog.NewStore(filepath.Join(cfg.WorkspacePath(), "state", "catalog.db"))
		if err != nil {
			return nil, nil, err
		}
	}
	mgr, err := session.NewManager(cfg, clock.New(), store)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, nil, err
	}
	return mgr, store, nil
}

func newRunCommand() *cobra.Command {
	var (
		client string
		debug  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Interactive REPL that drives the engine for one client",
		Long: "Feed user turns into the engine and watch the rotation/pressure decisions.\n" +
			"REPL commands: /ctx <pct>, /assistant <text>, /tool <name> <output>, /status, /quit.",
		Example: "  sessiond run --client cli:default",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if debug || cfg.Engine.Debug {
				logger.SetLevel(logger.DEBUG)
			}
			mgr, store, err := buildManager(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			return runREPL(cmd.Context(), mgr, client)
		},
	}
	cmd.Flags().StringVarP(&client, "client", "c", "cli:default", "Client identifier")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newSessionsCommand() *cobra.Command {
	var (
		client string
		limit  int
	)
	cmd := &cobra.Command{
		Use:     "sessions",
		Short:   "List closed sessions from the catalog",
		Example: "  sessiond sessions --client cli:default --limit 10",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Catalog.Enabled {
				return fmt.Errorf("catalog is disabled in config")
			}
			store, err := catalog.NewStore(filepath.Join(cfg.WorkspacePath(), "state", "catalog.db"))
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListClosed(context.Background(), client, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No closed sessions.")
				return nil
			}
			for _, rec := range records {
				started := time.UnixMilli(rec.StartedAtMS)
				ended := time.UnixMilli(rec.EndedAtMS)
				fmt.Printf("%s  client=%s  tier=%s  reason=%s\n", rec.ID, rec.ClientID, rec.Tier, rec.Reason)
				fmt.Printf("  opened %s, lasted %s, %d user / %d assistant turns\n",
					humanize.Time(started),
					ended.Sub(started).Round(time.Minute),
					rec.UserTurns, rec.AssistantTurns)
				if rec.Summary != "" {
					fmt.Printf("  summary: %s\n", firstLine(rec.Summary))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&client, "client", "c", "", "Filter by client identifier")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list")
	return cmd
}

func newReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "replay <log-file>",
		Short:   "Fold a session log file and print the projection",
		Example: "  sessiond replay ~/.sessiond/workspace/state/sessions/<id>.jsonl",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := session.ReplayFile(args[0])
			if err != nil {
				return err
			}
			if sess == nil {
				fmt.Println("Empty or unreadable log; nothing to replay.")
				return nil
			}
			fmt.Printf("Session %s (client %s)\n", sess.ID, sess.ClientID)
			fmt.Printf("  started %s, last activity %s\n",
				sess.StartedAt.Format(time.RFC3339), sess.LastActivityAt.Format(time.RFC3339))
			fmt.Printf("  %d events, %d user / %d assistant turns (%d exchanges)\n",
				len(sess.Timeline), sess.UserTurnCount, sess.AssistantTurnCount, sess.ExchangeCount())
			for _, te := range sess.ToolEvents() {
				status := "no result"
				if te.Result != nil {
					status = "ok"
					if te.Result.IsError {
						status = "error"
					}
				}
				fmt.Printf("  tool %s call=%s %s\n", te.Call.Tool, te.Call.CallID, status)
			}
			return nil
		},
	}
}

func newTeardownCommand() *cobra.Command {
	var client string
	cmd := &cobra.Command{
		Use:     "teardown",
		Short:   "Close a client's session and clear its markers",
		Example: "  sessiond teardown --client cli:default",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			mgr, store, err := buildManager(cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			if err := mgr.Teardown(context.Background(), client); err != nil {
				return err
			}
			fmt.Printf("Cleared session state for %s\n", client)
			return nil
		},
	}
	cmd.Flags().StringVarP(&client, "client", "c", "cli:default", "Client identifier")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("sessiond %s\n", version)
			return nil
		},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
