package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/conveyor/internal/infra/storage/postgres"
	"github.com/vietddude/conveyor/internal/ratelimit"
)

var (
	blockDuration time.Duration
	blockReason   string
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Manage rate limit blocks",
}

var limitsBlockCmd = &cobra.Command{
	Use:   "block <identifier>",
	Short: "Block an identifier for a duration",
	Args:  cobra.ExactArgs(1),
	Run:   runLimitsBlock,
}

var limitsUnblockCmd = &cobra.Command{
	Use:   "unblock <identifier>",
	Short: "Lift a block before it expires",
	Args:  cobra.ExactArgs(1),
	Run:   runLimitsUnblock,
}

func init() {
	limitsBlockCmd.Flags().DurationVar(&blockDuration, "for", time.Hour, "block duration")
	limitsBlockCmd.Flags().StringVar(&blockReason, "reason", "manual block", "reason recorded with the block")
	limitsCmd.AddCommand(limitsBlockCmd, limitsUnblockCmd)
	rootCmd.AddCommand(limitsCmd)
}

func cliLimiter(db *postgres.DB) *ratelimit.Limiter {
	return ratelimit.NewLimiter(postgres.NewRateLimitRepo(db), nil, slog.Default())
}

func runLimitsBlock(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db, ok := openDB(ctx)
	if !ok {
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := cliLimiter(db).Block(ctx, args[0], blockDuration, blockReason); err != nil {
		slog.Error("Failed to block identifier", "error", err)
		os.Exit(1)
	}
	slog.Info("Identifier blocked", "duration", blockDuration, "reason", blockReason)
}

func runLimitsUnblock(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	db, ok := openDB(ctx)
	if !ok {
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := cliLimiter(db).Unblock(ctx, args[0]); err != nil {
		slog.Error("Failed to unblock identifier", "error", err)
		os.Exit(1)
	}
	slog.Info("Identifier unblocked")
}
