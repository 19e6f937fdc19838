package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/intake/internal/core"
)

// parseOptions bounds a file read from disk.
type parseOptions struct {
	maxFileSize int64
	maxRows     int
}

// openSession parses path and loads it into a session for op.
func openSession(ctx context.Context, path string, op core.Operator, opts parseOptions) (*core.Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	pf, err := core.NewIngestor(opts.maxFileSize, opts.maxRows).Parse(ctx, name, f, info.Size(), nil)
	if err != nil {
		return nil, err
	}

	sess := core.NewSession(name, op, name, nil)
	sess.Load(pf)
	return sess, nil
}

// writeRows writes rows as CSV with the canonical columns first, followed by
// every extra column in order of first appearance.
func writeRows(w io.Writer, rows []core.Row) error {
	header := make([]string, 0, len(core.Fields))
	for _, f := range core.Fields {
		header = append(header, string(f))
	}
	seen := make(map[string]bool)
	for _, r := range rows {
		for _, e := range r.Extras {
			if !seen[e.Key] {
				seen[e.Key] = true
				header = append(header, e.Key)
			}
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := make([]string, 0, len(header))
		for _, name := range header {
			v, _ := r.Get(name)
			rec = append(rec, v)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", r.Index+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// printErrors lists validation errors, one per line.
func printErrors(w io.Writer, errs []core.ValidationError) {
	for _, e := range errs {
		fmt.Fprintf(w, "  %s (value %q)\n", e.Error(), e.Value)
	}
}
