package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/conveyor/internal/infra/storage/postgres"
)

var circuitsCmd = &cobra.Command{
	Use:   "circuits",
	Short: "Inspect and reset circuit breakers",
}

var circuitsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every tracked dependency",
	Run:   runCircuitsStatus,
}

var circuitsResetCmd = &cobra.Command{
	Use:   "reset <dependency>",
	Short: "Force a circuit back to closed",
	Args:  cobra.ExactArgs(1),
	Run:   runCircuitsReset,
}

func init() {
	circuitsCmd.AddCommand(circuitsStatusCmd, circuitsResetCmd)
	rootCmd.AddCommand(circuitsCmd)
}

func runCircuitsStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db, ok := openDB(ctx)
	if !ok {
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	states, err := postgres.NewCircuitRepo(db).List(ctx)
	if err != nil {
		slog.Error("Failed to list circuits", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "DEPENDENCY\tSTATE\tFAILURES\tOPENED\tUPDATED")
	for _, s := range states {
		opened := "-"
		if s.OpenedAt != nil {
			opened = s.OpenedAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.Name, s.State, s.Failures, opened, s.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func runCircuitsReset(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db, ok := openDB(ctx)
	if !ok {
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := postgres.NewCircuitRepo(db).Reset(ctx, args[0]); err != nil {
		slog.Error("Failed to reset circuit", "dependency", args[0], "error", err)
		os.Exit(1)
	}
	slog.Info("Circuit reset", "dependency", args[0])
}
