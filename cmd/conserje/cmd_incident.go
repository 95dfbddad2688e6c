package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/conserje/internal/types"
)

var (
	traceLimit  int
	searchLimit int
)

func init() {
	incidentTraceCmd.Flags().IntVarP(&traceLimit, "limit", "n", 0, "show only the last n events")
	incidentSearchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	rootCmd.AddCommand(incidentCmd)
	incidentCmd.AddCommand(incidentTraceCmd, incidentSearchCmd)
}

var incidentCmd = &cobra.Command{
	Use:   "incident",
	Short: "Inspect persisted incidents",
}

// openIncidentStores opens the configured incident backend and search mirror.
func openIncidentStores(ctx context.Context) (*app, error) {
	cfg := loadConfig()
	a := &app{cfg: cfg, logger: zap.NewNop()}
	var err error
	if a.areas, err = buildAreas(cfg); err != nil {
		return nil, err
	}
	if _, err := a.openIncidents(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

var incidentTraceCmd = &cobra.Command{
	Use:   "trace <incident-id>",
	Short: "Print the dispatch trace of an incident",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openIncidentStores(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.events.Tail(ctx, types.IncidentID(args[0]), traceLimit)
		if err != nil {
			return fmt.Errorf("read trace: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No events found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTYPE\tAT\tDETAIL")
		for _, ev := range events {
			detail := string(ev.Payload)
			if len(ev.Targets) > 0 {
				detail = formatTargets(ev.Targets)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ev.Seq, ev.Type, ev.At.Format("2006-01-02 15:04:05"), detail)
		}
		return w.Flush()
	},
}

func formatTargets(targets []types.DispatchTarget) string {
	parts := make([]string, 0, len(targets))
	for _, t := range targets {
		status := "ok"
		if !t.Delivered {
			status = "failed"
			if t.Error != "" {
				status += ": " + t.Error
			}
		}
		role := "cc"
		if t.Primary {
			role = "primary"
		}
		parts = append(parts, fmt.Sprintf("%s/%s %s [%s]", t.Area, role, t.Destination, status))
	}
	return strings.Join(parts, "; ")
}

var incidentSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Full-text search over indexed incidents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := openIncidentStores(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.search == nil {
			return fmt.Errorf("storage.search_index is disabled")
		}

		docs, err := a.search.Search(ctx, strings.Join(args, " "), searchLimit)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No incidents found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FOLIO\tAREA\tPLACE\tDESCRIPTION\tCREATED")
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				d.Folio, strings.ToUpper(d.Area), d.Lugar, d.Descripcion,
				d.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}
