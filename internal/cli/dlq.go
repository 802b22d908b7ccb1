package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vietddude/conveyor/internal/dlq"
	"github.com/vietddude/conveyor/internal/events"
	"github.com/vietddude/conveyor/internal/infra/storage/postgres"
	"github.com/vietddude/conveyor/internal/jobs"
)

var dlqLimit int

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and act on dead-lettered jobs",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending dead letters, oldest first",
	Run:   runDLQList,
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <id>",
	Short: "Resubmit a dead letter as a fresh job",
	Args:  cobra.ExactArgs(1),
	Run:   runDLQReplay,
}

var dlqDismissCmd = &cobra.Command{
	Use:   "dismiss <id>",
	Short: "Discard a dead letter without resubmitting it",
	Args:  cobra.ExactArgs(1),
	Run:   runDLQDismiss,
}

func init() {
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 50, "max entries to list")
	dlqCmd.AddCommand(dlqListCmd, dlqReplayCmd, dlqDismissCmd)
	rootCmd.AddCommand(dlqCmd)
}

// openDB connects using the configured database URL. Admin subcommands
// require durable storage; there is nothing to administer in memory
// mode.
func openDB(ctx context.Context) (*postgres.DB, bool) {
	cfg, ok := loadConfig()
	if !ok {
		return nil, false
	}
	initLogging(cfg)

	if cfg.Database.URL == "" {
		slog.Error("No database configured; admin commands require PostgreSQL storage")
		return nil, false
	}

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return nil, false
	}
	return db, true
}

func dlqService(db *postgres.DB) *dlq.Service {
	log := slog.Default()
	sched := jobs.NewScheduler(postgres.NewJobRepo(db), events.NewLogSink(log), log)
	return dlq.NewService(postgres.NewDeadLetterRepo(db), sched, log)
}

func runDLQList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db, ok := openDB(ctx)
	if !ok {
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	entries, err := dlqService(db).GetPending(ctx, dlqLimit)
	if err != nil {
		slog.Error("Failed to list dead letters", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tHOOK\tREASON\tATTEMPTS\tPRIORITY\tCREATED")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Hook, e.Reason, e.Attempts, e.Priority.String(),
			e.CreatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func runDLQReplay(cmd *cobra.Command, args []string) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		slog.Error("Invalid dead letter id", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, ok := openDB(ctx)
	if !ok {
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := dlqService(db).Replay(ctx, id); err != nil {
		slog.Error("Failed to replay dead letter", "error", err)
		os.Exit(1)
	}
	slog.Info("Dead letter replayed", "id", id)
}

func runDLQDismiss(cmd *cobra.Command, args []string) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		slog.Error("Invalid dead letter id", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, ok := openDB(ctx)
	if !ok {
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := dlqService(db).Dismiss(ctx, id); err != nil {
		slog.Error("Failed to dismiss dead letter", "error", err)
		os.Exit(1)
	}
	slog.Info("Dead letter dismissed", "id", id)
}
