package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"replicli/internal/domain"
	"replicli/internal/transcript"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var limit int
	var turns bool

	cmd := &cobra.Command{
		Use:   "history [session]",
		Short: "List recorded sessions or print one session's transcript",
		Long: `Without an argument, lists the most recent sessions from the transcript
index. With a session ID, prints that session's lines, or its turns with
--turns.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if _, err := os.Stat(cfg.Transcript.DBPath); err != nil {
				return fmt.Errorf("no transcript index at %s: %w", cfg.Transcript.DBPath, err)
			}
			store, err := transcript.NewSQLiteStore(cfg.Transcript.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			switch {
			case len(args) == 0:
				return printSessions(ctx, store, limit)
			case turns:
				return printTurns(ctx, store, args[0])
			default:
				return printLines(ctx, store, args[0])
			}
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to list")
	cmd.Flags().BoolVar(&turns, "turns", false, "print turns with their outcome instead of raw lines")
	return cmd
}

func printSessions(ctx context.Context, store *transcript.SQLiteStore, limit int) error {
	sessions, err := store.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded yet.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTARTED\tCHANNEL\tLINES\tTURNS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04:05"), s.Channel, s.Lines, s.Turns)
	}
	return w.Flush()
}

func printLines(ctx context.Context, store *transcript.SQLiteStore, sessionID string) error {
	lines, err := store.Lines(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("no lines recorded for session %s", sessionID)
	}
	for _, l := range lines {
		fmt.Printf("%s: %s\n", l.At.Local().Format("15:04:05"), l.Text)
	}
	return nil
}

func printTurns(ctx context.Context, store *transcript.SQLiteStore, sessionID string) error {
	turns, outcomes, err := store.Turns(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return fmt.Errorf("no turns recorded for session %s", sessionID)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SENT\tMESSAGE\tOUTCOME\tREPLY")
	for i, t := range turns {
		reply := "-"
		if t.ReplyKind != domain.ReplyNone {
			reply = fmt.Sprintf("[%s] %s", t.ReplyKind, t.ReplyContent)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.SentAt.Local().Format("15:04:05"), t.SentText, outcomes[i], reply)
	}
	return w.Flush()
}
