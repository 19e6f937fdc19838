package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/jaswdr/faker"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/intake/internal/core"
)

type sampleOptions struct {
	rows    int
	defects int
	seed    int64
	prefix  string
	output  string
}

func newSampleCmd() *cobra.Command {
	var opts sampleOptions

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate a synthetic applicant CSV",
		Long: `Generates applicant rows with realistic names, dates of birth, emails and
Indian mobile numbers. About --defects percent of rows carry one deliberate
problem (bad date, lower-case category, padded name, bad email, missing
case ID or a repeated case ID) for exercising validation and corrections.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.rows <= 0 {
				return fmt.Errorf("--rows must be positive")
			}
			if opts.defects < 0 || opts.defects > 100 {
				return fmt.Errorf("--defects must be between 0 and 100")
			}

			var w io.Writer = cmd.OutOrStdout()
			if opts.output != "" && opts.output != "-" {
				f, err := os.Create(opts.output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			seed := opts.seed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			rows := generateRows(faker.NewWithSeed(rand.NewSource(seed)), opts)
			return writeRows(w, rows)
		},
	}

	cmd.Flags().IntVarP(&opts.rows, "rows", "n", 250, "Number of rows to generate")
	cmd.Flags().IntVar(&opts.defects, "defects", 10, "Percentage of rows with a deliberate defect")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed (default: time based)")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "C", "Case ID prefix")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "Output file (- for stdout)")
	return cmd
}

func generateRows(f faker.Faker, opts sampleOptions) []core.Row {
	rows := make([]core.Row, 0, opts.rows)
	for i := 0; i < opts.rows; i++ {
		dob := time.Date(f.IntBetween(1940, 2005), time.Month(f.IntBetween(1, 12)), f.IntBetween(1, 28), 0, 0, 0, 0, time.UTC)
		row := core.Row{
			Index:         i,
			CaseID:        fmt.Sprintf("%s-%06d", opts.prefix, i+1),
			ApplicantName: f.Person().FirstName() + " " + f.Person().LastName(),
			DOB:           dob.Format(time.DateOnly),
			Category:      f.RandomStringElement(core.Categories),
			Priority:      f.RandomStringElement(append([]string{""}, core.Priorities...)),
		}
		if f.IntBetween(0, 1) == 1 {
			row.Email = f.Internet().Email()
		}
		if f.IntBetween(0, 1) == 1 {
			row.Phone = f.Numerify("98########")
		}

		if f.IntBetween(1, 100) <= opts.defects {
			addDefect(f, &row, rows)
		}
		rows = append(rows, row)
	}
	return rows
}

func addDefect(f faker.Faker, row *core.Row, previous []core.Row) {
	switch f.IntBetween(0, 5) {
	case 0:
		row.DOB = "31/31/" + row.DOB[:4]
	case 1:
		row.Category = strings.ToLower(row.Category)
	case 2:
		row.ApplicantName = "  " + strings.ToLower(row.ApplicantName) + " "
	case 3:
		row.Email = strings.ReplaceAll(f.Internet().Email(), "@", " at ")
	case 4:
		row.CaseID = ""
	case 5:
		if len(previous) > 0 {
			row.CaseID = previous[f.IntBetween(0, len(previous)-1)].CaseID
		} else {
			row.CaseID = ""
		}
	}
}
