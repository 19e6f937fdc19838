package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/intake/internal/core"
)

func newValidateCmd() *cobra.Command {
	var opts parseOptions

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Report validation errors in an applicant CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), args[0], core.Operator{}, opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			sum := sess.Summary()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rows, %d valid, %d invalid\n",
				sum.FileName, sum.TotalRows, sum.ValidRows, sum.InvalidRows)
			printErrors(out, sess.Errors())

			if sum.InvalidRows > 0 {
				return fmt.Errorf("%d of %d rows have errors", sum.InvalidRows, sum.TotalRows)
			}
			return nil
		},
	}

	addParseFlags(cmd, &opts)
	return cmd
}

func addParseFlags(cmd *cobra.Command, opts *parseOptions) {
	cmd.Flags().Int64Var(&opts.maxFileSize, "max-file-size", core.DefaultMaxFileSize, "Largest accepted file in bytes")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", core.DefaultMaxRows, "Largest accepted number of data rows")
}
