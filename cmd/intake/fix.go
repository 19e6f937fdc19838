package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/intake/internal/core"
)

func newFixCmd() *cobra.Command {
	var (
		opts   parseOptions
		output string
		fixes  []string
	)

	cmd := &cobra.Command{
		Use:   "fix FILE",
		Short: "Apply bulk corrections and write the corrected CSV",
		Long: `Applies bulk corrections in order and writes every row, corrected,
with the canonical columns first. Corrections: trim, titlecase, phones,
priority, all.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0], core.Operator{}, opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			log := cmd.ErrOrStderr()
			for _, name := range fixes {
				changed, err := sess.Correct(core.Correction(strings.TrimSpace(name)))
				if err != nil {
					return err
				}
				fmt.Fprintf(log, "%s: %d cells changed\n", name, changed)
			}

			rows, err := sess.Rows()
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := writeRows(w, rows); err != nil {
				return err
			}

			sum := sess.Summary()
			fmt.Fprintf(log, "%d rows written, %d still invalid\n", sum.TotalRows, sum.InvalidRows)
			printErrors(log, sess.Errors())
			return nil
		},
	}

	addParseFlags(cmd, &opts)
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file (- for stdout)")
	cmd.Flags().StringSliceVar(&fixes, "fix", []string{string(core.CorrectAll)}, "Corrections to apply, in order")
	return cmd
}
