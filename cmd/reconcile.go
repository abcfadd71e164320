package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/classtrack/attendance-engine/internal/allocator"
	"github.com/classtrack/attendance-engine/internal/config"
	"github.com/classtrack/attendance-engine/internal/reconcile"
	"github.com/classtrack/attendance-engine/internal/store/postgres"
	"github.com/classtrack/attendance-engine/internal/store/sis"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Mark absent rows for expired class sessions",
	Long: `Mark absent rows for expired class sessions.
By default it runs a single pass over today's timetable, inserting an
auto-absent record for every enrolled student without one. With --from
and --to it backfills a range of past days instead, one pass per day.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().String("from", "", "Backfill start date (YYYY-MM-DD)")
	reconcileCmd.Flags().String("to", "", "Backfill end date (YYYY-MM-DD, inclusive)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.SIS.DatabaseURL == "" {
		return errors.New("SIS_DATABASE_URL environment variable is required")
	}

	pool, err := postgres.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	sisPool, err := sis.NewPool(cfg.SIS.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to the SIS database: %w", err)
	}
	defer sisPool.Close()

	attendance := postgres.NewAttendanceRepository(pool)
	sequences := postgres.NewSequenceRepository(pool)
	alloc := allocator.New(attendance, sequences, cfg.Allocator)
	reconciler := reconcile.NewAbsenceReconciler(
		sisPool, sisPool, attendance, alloc, reconcile.SystemClock())

	ctx := context.Background()

	fromStr := mustGetString(cmd, "from")
	toStr := mustGetString(cmd, "to")
	if fromStr == "" && toStr == "" {
		result, err := reconciler.RunPass(ctx)
		if err != nil {
			return fmt.Errorf("reconciliation pass failed: %w", err)
		}
		printPassResult(result)
		return nil
	}
	if fromStr == "" || toStr == "" {
		return errors.New("--from and --to must be used together")
	}

	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return fmt.Errorf("invalid --from date: %w", err)
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return fmt.Errorf("invalid --to date: %w", err)
	}
	if to.Before(from) {
		return errors.New("--to must not be before --from")
	}

	days := int(to.Sub(from).Hours()/24) + 1
	bar := progressbar.NewOptions(days,
		progressbar.OptionSetDescription("Backfilling absences"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("days"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var total reconcile.PassResult
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		// End of day, so every session on the timetable counts as expired.
		asOf := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, day.Location())
		result, err := reconciler.RunPassAt(ctx, asOf)
		if err != nil {
			return fmt.Errorf("backfill failed on %s: %w", day.Format("2006-01-02"), err)
		}
		total.SessionsProcessed += result.SessionsProcessed
		total.RecordsCreated += result.RecordsCreated
		total.RecordsSkipped += result.RecordsSkipped
		bar.Add(1)
	}
	fmt.Println()
	printPassResult(total)
	return nil
}

func printPassResult(result reconcile.PassResult) {
	fmt.Printf("Sessions processed: %d\n", result.SessionsProcessed)
	fmt.Printf("Records created:    %d\n", result.RecordsCreated)
	fmt.Printf("Records skipped:    %d\n", result.RecordsSkipped)
}
