package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "attendance-engine",
	Short: "Attendance determination engine for face check-in classrooms",
	Long: `Attendance Engine turns camera captures into attendance records.
It gates frame quality, matches face embeddings against enrolled students,
writes duplicate-safe attendance rows, and reconciles absences for sessions
that ended without a check-in.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
