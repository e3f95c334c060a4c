package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"pglo/internal/config"
	"pglo/internal/largeobject"
)

var (
	// Global flags
	envFiles []string
	verbose  bool
	jsonOut  bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "loctl",
	Short: "Manage PostgreSQL large objects",
	Long: `loctl reads, writes, searches and archives PostgreSQL large objects.
It can also serve the same operations over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "Load environment from these files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log large-object calls to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logger() *log.Logger {
	if verbose {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printResult prints v as JSON with --json, otherwise the text line.
func printResult(v any, format string, args ...any) error {
	if jsonOut {
		return printJSON(v)
	}
	_, err := fmt.Fprintf(os.Stdout, format+"\n", args...)
	return err
}

func parseOID(raw string) (largeobject.OID, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid oid %q", raw)
	}
	return largeobject.OID(v), nil
}
