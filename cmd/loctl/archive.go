package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "export <oid>",
			Short: "Copy a large object into archive storage",
			Args:  cobra.ExactArgs(1),
			RunE:  runExport,
		},
		&cobra.Command{
			Use:   "import <key>",
			Short: "Create a large object from an archive key",
			Args:  cobra.ExactArgs(1),
			RunE:  runImport,
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Export every large object once",
			Args:  cobra.NoArgs,
			RunE:  runSync,
		},
	)
}

func runExport(cmd *cobra.Command, args []string) error {
	oid, err := parseOID(args[0])
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger())
	if err != nil {
		return err
	}
	defer a.Close()

	exp, err := a.svc.Export(cmd.Context(), oid)
	if err != nil {
		return err
	}
	return printResult(map[string]any{
		"id":     exp.ID,
		"oid":    exp.OID,
		"key":    exp.Key,
		"digest": exp.Digest,
		"size":   exp.SizeBytes,
	}, "%s", exp.Key)
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, logger())
	if err != nil {
		return err
	}
	defer a.Close()

	oid, n, err := a.svc.Import(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printResult(map[string]any{"oid": oid, "size": n, "key": args[0]}, "%d", oid)
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cfg, logger())
	if err != nil {
		return err
	}
	defer a.Close()

	runLogger := log.New(os.Stderr, "", log.LstdFlags)
	summary, err := a.runner(cfg, runLogger).Run(cmd.Context())
	if printErr := printResult(map[string]any{
		"objects":  summary.Objects,
		"exported": summary.Exported,
		"failed":   summary.Failed,
		"bytes":    summary.Bytes,
	}, "objects=%d exported=%d failed=%d bytes=%d",
		summary.Objects, summary.Exported, summary.Failed, summary.Bytes); printErr != nil {
		return printErr
	}
	return err
}
