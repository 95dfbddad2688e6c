package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/conserje/internal/config"
	"github.com/user/conserje/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage intake sessions",
}

// openSessionStore opens only the configured session backend.
func openSessionStore(ctx context.Context) (*app, error) {
	cfg := loadConfig()
	if cfg.Storage.Sessions == config.BackendMemory {
		return nil, fmt.Errorf("storage.sessions is %q; sessions only live inside the daemon", config.BackendMemory)
	}
	a := &app{cfg: cfg}
	if err := a.openSessions(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openSessionStore(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tMODE\tPLACE\tAREA\tPHOTOS\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				s.Key,
				s.Mode,
				dash(s.Draft.Lugar),
				dash(s.Draft.AreaDestino),
				len(s.PendingMedia),
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <key|all>",
	Short: "Clear a session or all sessions",
	Long: `Clears stored sessions directly. Run it while the daemon is stopped;
a running daemon resets conversations through DELETE /api/sessions/{key}.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openSessionStore(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if args[0] != "all" {
			if err := a.sessions.Clear(ctx, types.SessionKey(args[0])); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Session %s cleared.\n", args[0])
			return nil
		}

		list, err := a.sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		for _, s := range list {
			if err := a.sessions.Clear(ctx, s.Key); err != nil {
				return fmt.Errorf("clear session %s: %w", s.Key, err)
			}
		}
		fmt.Fprintf(os.Stdout, "%d sessions cleared.\n", len(list))
		return nil
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
