// Command server runs the campus shuttle API. Without a sub-command it
// starts the HTTP server; "migrate" only creates the MySQL tables.
//
//	./server [--env-file .env]
//	./server migrate [--env-file .env]
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Campus shuttle seat map, passenger counts and alerts API",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// A missing file is fine; variables may come from the environment.
		_ = godotenv.Load(envFile)
	},
	RunE: serve,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
