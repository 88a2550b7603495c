// Command realm2json prints a lattice database's table directory as JSON,
// per spec.md §6's CLI surface: "realm2json <path> [depth]". Thin shell
// over DB.Open/DB.Dump; no independent logic lives here, following the
// shape of cuemby-warren's cmd/warren subcommand tree.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

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
	Use:   "realm2json <path> [depth]",
	Short: "Print a lattice database's table directory as JSON",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		depth := 0
		if len(args) == 2 {
			d, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("depth must be an integer: %w", err)
			}
			depth = d
		}

		db, err := lattice.Open(lattice.Options{
			Path:     filepath.Dir(path),
			FileName: filepath.Base(path),
		})
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer db.Close()

		return db.Dump(os.Stdout, depth)
	},
}
