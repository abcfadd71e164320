package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/classtrack/attendance-engine/internal/allocator"
	"github.com/classtrack/attendance-engine/internal/config"
	"github.com/classtrack/attendance-engine/internal/store/postgres"
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Allocate a sequential code in a prefix/year scope",
	Long: `Allocate a sequential code in a prefix/year scope.
Codes are gapless within a scope, e.g. STU20260001, STU20260002. Safe to
run concurrently with the server; contention is retried with backoff.`,
	RunE: runAllocate,
}

func init() {
	rootCmd.AddCommand(allocateCmd)

	allocateCmd.Flags().String("prefix", "", "Scope prefix, e.g. STU or TCH (required)")
	allocateCmd.Flags().Int("year", 0, "Scope year, defaults to the current year")
	allocateCmd.Flags().Int("count", 1, "Number of codes to allocate")
}

func runAllocate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	prefix := mustGetString(cmd, "prefix")
	if prefix == "" {
		return errors.New("--prefix is required")
	}
	year := mustGetInt(cmd, "year")
	if year == 0 {
		year = time.Now().Year()
	}
	count := mustGetInt(cmd, "count")
	if count < 1 {
		return errors.New("--count must be at least 1")
	}

	pool, err := postgres.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	attendance := postgres.NewAttendanceRepository(pool)
	sequences := postgres.NewSequenceRepository(pool)
	alloc := allocator.New(attendance, sequences, cfg.Allocator)

	ctx := context.Background()
	for i := 0; i < count; i++ {
		code, err := alloc.AllocateSequenceID(ctx, prefix, year)
		if err != nil {
			return fmt.Errorf("allocation failed: %w", err)
		}
		fmt.Println(code)
	}
	return nil
}
