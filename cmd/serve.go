package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/classtrack/attendance-engine/internal/allocator"
	"github.com/classtrack/attendance-engine/internal/config"
	"github.com/classtrack/attendance-engine/internal/extractor"
	"github.com/classtrack/attendance-engine/internal/reconcile"
	"github.com/classtrack/attendance-engine/internal/store"
	"github.com/classtrack/attendance-engine/internal/store/postgres"
	"github.com/classtrack/attendance-engine/internal/store/sis"
	"github.com/classtrack/attendance-engine/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the attendance API server.
It exposes capture submission, enrollment, manual marking, sequence code
allocation and absence reconciliation over HTTP, and runs the background
reconciliation scheduler when a timetable source is configured.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Bool("no-scheduler", false, "Disable the background reconciliation scheduler")
}

// buildIdentityIndex loads all enrolled identities into the in-memory HNSW
// index. The server still works without it; matching falls back to pgvector.
func buildIdentityIndex(ctx context.Context, identities *postgres.IdentityRepository) *store.IdentityIndex {
	index := store.NewIdentityIndex()

	all, err := identities.All(ctx)
	if err != nil {
		fmt.Printf("Warning: failed to load identities for the index: %v\n", err)
		fmt.Printf("Matching will use pgvector queries (slower)\n")
		return index
	}
	index.Build(all)
	fmt.Printf("Identity index built with %d enrolled students\n", index.Count())
	return index
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (string, int) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return host, port
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	identities := postgres.NewIdentityRepository(pool)
	attendance := postgres.NewAttendanceRepository(pool)
	sequences := postgres.NewSequenceRepository(pool)
	alloc := allocator.New(attendance, sequences, cfg.Allocator)
	ext := extractor.New(cfg.Extractor)

	ctx := context.Background()
	index := buildIdentityIndex(ctx, identities)

	deps := web.Deps{
		Extractor:  ext,
		Identities: identities,
		Attendance: attendance,
		Index:      index,
		Allocator:  alloc,
	}

	var scheduler *reconcile.Scheduler
	if cfg.SIS.DatabaseURL != "" {
		sisPool, err := sis.NewPool(cfg.SIS.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to the SIS database: %w", err)
		}
		defer sisPool.Close()

		reconciler := reconcile.NewAbsenceReconciler(
			sisPool, sisPool, attendance, alloc, reconcile.SystemClock())
		scheduler, err = reconcile.NewScheduler(reconciler, cfg.Reconcile, nil)
		if err != nil {
			return fmt.Errorf("failed to build the reconciliation scheduler: %w", err)
		}

		deps.Schedule = sisPool
		deps.Reconciler = reconciler
		deps.Scheduler = scheduler

		if mustGetBool(cmd, "no-scheduler") {
			fmt.Println("Reconciliation scheduler disabled by flag")
		} else {
			scheduler.Start()
			defer scheduler.Stop()
		}
	} else {
		fmt.Println("SIS_DATABASE_URL not set, absence reconciliation disabled")
	}

	host, port := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, host, port, deps)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Attendance Engine API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
