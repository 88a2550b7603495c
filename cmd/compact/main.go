// Command compact rewrites a lattice database with free space removed, per
// spec.md §6's CLI surface: "compact -i <path> opens exclusively and
// rewrites the file with free space removed." Thin shell over
// DB.Open/DB.Compact.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

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
	Use:   "compact",
	Short: "Compact a lattice database in place, removing free space",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cmd.Flags().GetString("input")
		if err != nil || path == "" {
			return fmt.Errorf("-i/--input is required")
		}

		db, err := lattice.Open(lattice.Options{
			Path:     filepath.Dir(path),
			FileName: filepath.Base(path),
		})
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer db.Close()

		if err := db.Compact(context.Background()); err != nil {
			return fmt.Errorf("compact %s: %w", path, err)
		}

		fmt.Printf("compacted %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.Flags().StringP("input", "i", "", "path to the database file")
	rootCmd.MarkFlagRequired("input")
}
