package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/classtrack/attendance-engine/internal/config"
	"github.com/classtrack/attendance-engine/internal/store"
	"github.com/classtrack/attendance-engine/internal/store/postgres"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the in-memory identity index and report statistics",
	Long: `Build the in-memory identity index and report statistics.
Loads every enrolled identity from the database into the HNSW graph the
server uses for matching, then probes it with each stored embedding to
verify the identity comes back as its own nearest neighbour.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().Bool("verify", false, "Probe the index with every stored embedding")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	identities := postgres.NewIdentityRepository(pool)
	ctx := context.Background()

	all, err := identities.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load identities: %w", err)
	}

	index := store.NewIdentityIndex()
	index.Build(all)

	fmt.Printf("Identities in database: %d\n", len(all))
	fmt.Printf("Identities indexed:     %d\n", index.Count())
	if skipped := len(all) - index.Count(); skipped > 0 {
		fmt.Printf("Skipped (no embedding): %d\n", skipped)
	}

	if !mustGetBool(cmd, "verify") {
		return nil
	}

	var mismatches int
	for _, identity := range all {
		if len(identity.Embedding) == 0 {
			continue
		}
		matches, _, err := index.Search(identity.Embedding, 1)
		if err != nil {
			return fmt.Errorf("probe for %s failed: %w", identity.StudentID, err)
		}
		if len(matches) == 0 || matches[0].StudentID != identity.StudentID {
			mismatches++
			fmt.Printf("  %s: not its own nearest neighbour\n", identity.StudentID)
		}
	}
	if mismatches > 0 {
		return fmt.Errorf("%d identities failed the self-probe", mismatches)
	}
	fmt.Println("All identities verified")
	return nil
}
