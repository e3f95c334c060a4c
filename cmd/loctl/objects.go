package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	getPos    int64
	getLen    int64
	getOutput string

	findStart int64
	findText  bool
)

func init() {
	putCmd := &cobra.Command{
		Use:   "put [file]",
		Short: "Create a large object from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPut,
	}

	getCmd := &cobra.Command{
		Use:   "get <oid>",
		Short: "Write a large object to stdout or a file",
		Example: `  loctl get 16403 > blob.bin
  loctl get 16403 --pos 1025 --len 512 -o part.bin`,
		Args: cobra.ExactArgs(1),
		RunE: runGet,
	}
	getCmd.Flags().Int64Var(&getPos, "pos", 1, "1-based start position")
	getCmd.Flags().Int64Var(&getLen, "len", -1, "Number of bytes, -1 for the rest")
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "Write to this file instead of stdout")

	sizeCmd := &cobra.Command{
		Use:   "size <oid>",
		Short: "Print the length of a large object",
		Args:  cobra.ExactArgs(1),
		RunE:  runSize,
	}

	truncateCmd := &cobra.Command{
		Use:   "truncate <oid> <length>",
		Short: "Truncate or extend a large object",
		Args:  cobra.ExactArgs(2),
		RunE:  runTruncate,
	}

	findCmd := &cobra.Command{
		Use:   "find <oid> <pattern>",
		Short: "Print the 1-based position of pattern, or -1",
		Args:  cobra.ExactArgs(2),
		RunE:  runFind,
	}
	findCmd.Flags().Int64Var(&findStart, "start", 1, "1-based position to search from")
	findCmd.Flags().BoolVar(&findText, "text", false, "Encode pattern with CLIENT_ENCODING")

	rmCmd := &cobra.Command{
		Use:   "rm <oid>...",
		Short: "Unlink large objects",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRm,
	}

	rootCmd.AddCommand(putCmd, getCmd, sizeCmd, truncateCmd, findCmd, rmCmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	a, err := newApp(cmd.Context(), cfg, logger())
	if err != nil {
		return err
	}
	defer a.Close()

	oid, n, err := a.svc.Create(cmd.Context(), bufio.NewReader(r))
	if err != nil {
		return err
	}
	return printResult(map[string]any{"oid": oid, "size": n}, "%d", oid)
}

func runGet(cmd *cobra.Command, args []string) error {
	oid, err := parseOID(args[0])
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if getOutput != "" {
		f, err := os.Create(getOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)

	a, err := newApp(cmd.Context(), cfg, logger())
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.svc.Stream(cmd.Context(), oid, getPos, getLen, bw); err != nil {
		return err
	}
	return bw.Flush()
}

func runSize(cmd *cobra.Command, args []string) error {
	oid, err := parseOID(args[0])
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger())
	if err != nil {
		return err
	}
	defer a.Close()

	size, err := a.svc.Length(cmd.Context(), oid)
	if err != nil {
		return err
	}
	return printResult(map[string]any{"oid": oid, "length": size}, "%d", size)
}

func runTruncate(cmd *cobra.Command, args []string) error {
	oid, err := parseOID(args[0])
	if err != nil {
		return err
	}
	var n int64
	if _, err := fmt.Sscan(args[1], &n); err != nil {
		return fmt.Errorf("invalid length %q", args[1])
	}
	a, err := newApp(cmd.Context(), cfg, logger())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.Truncate(cmd.Context(), oid, n); err != nil {
		return err
	}
	return printResult(map[string]any{"oid": oid, "length": n}, "truncated %d to %d bytes", oid, n)
}

func runFind(cmd *cobra.Command, args []string) error {
	oid, err := parseOID(args[0])
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger())
	if err != nil {
		return err
	}
	defer a.Close()

	var at int64
	if findText {
		at, err = a.svc.FindText(cmd.Context(), oid, args[1], findStart)
	} else {
		at, err = a.svc.Find(cmd.Context(), oid, []byte(args[1]), findStart)
	}
	if err != nil {
		return err
	}
	return printResult(map[string]any{"oid": oid, "position": at}, "%d", at)
}

func runRm(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, logger())
	if err != nil {
		return err
	}
	defer a.Close()

	for _, raw := range args {
		oid, err := parseOID(raw)
		if err != nil {
			return err
		}
		if err := a.svc.Unlink(cmd.Context(), oid); err != nil {
			return err
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "removed %d\n", oid)
		}
	}
	return nil
}
