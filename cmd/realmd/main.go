// Command realmd opens a lattice database with Async durability and runs
// its async-commit daemon, per spec.md §6's CLI surface: "realmd <path> runs the
// async-commit daemon." Thin shell over DB.Open (with Async durability)
// and DB.RunDaemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/latticedb/lattice"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "realmd <path>",
	Short: "Run the async-commit daemon against a lattice database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		db, err := lattice.Open(lattice.Options{
			Path:       filepath.Dir(path),
			FileName:   filepath.Base(path),
			Durability: lattice.Async,
		})
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer db.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sig
			cancel()
		}()

		fmt.Printf("realmd: running against %s, press Ctrl+C to stop\n", path)
		if err := db.RunDaemon(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
