package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/intake/internal/caseapi"
	"github.com/JonMunkholm/intake/internal/config"
	"github.com/JonMunkholm/intake/internal/core"
	"github.com/JonMunkholm/intake/internal/store"
)

type submitOptions struct {
	parse    parseOptions
	operator string
	fix      bool
	apiURL   string
	apiToken string
	dbDriver string
	dbURL    string
	timeout  time.Duration
	failures string
}

func newSubmitCmd() *cobra.Command {
	var opts submitOptions

	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit the valid rows of an applicant CSV as cases",
		Long: `Submits every valid row in batches of 100 under a new import record.
Rows go to the case service at --api-url when set, otherwise straight
to the database. Interrupting the command stops it before the next batch.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.operator == "" {
				opts.operator = os.Getenv("USER")
			}
			if opts.operator == "" {
				return errors.New("--operator is required")
			}
			if opts.apiURL == "" {
				opts.apiURL = os.Getenv("CASE_API_URL")
			}
			if opts.apiToken == "" {
				opts.apiToken = os.Getenv("CASE_API_TOKEN")
			}
			if opts.dbURL == "" {
				opts.dbURL = os.Getenv("DATABASE_URL")
			}
			if opts.apiURL == "" && opts.dbURL == "" {
				return errors.New("set --api-url or --db-url")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSubmit(ctx, cmd, args[0], opts)
		},
	}

	addParseFlags(cmd, &opts.parse)
	cmd.Flags().StringVar(&opts.operator, "operator", "", "Operator ID recorded on the import (default: $USER)")
	cmd.Flags().BoolVar(&opts.fix, "fix", false, "Apply all bulk corrections before submitting")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", "", "Case service base URL (default: $CASE_API_URL)")
	cmd.Flags().StringVar(&opts.apiToken, "api-token", "", "Case service bearer token (default: $CASE_API_TOKEN)")
	cmd.Flags().StringVar(&opts.dbDriver, "db-driver", "sqlite", "Database driver when writing directly: postgres or sqlite")
	cmd.Flags().StringVar(&opts.dbURL, "db-url", "", "Database URL when writing directly (default: $DATABASE_URL)")
	cmd.Flags().DurationVar(&opts.timeout, "request-timeout", core.DefaultRequestTimeout, "Timeout for each request")
	cmd.Flags().StringVar(&opts.failures, "failures", "", "Write rows that failed to create to this CSV file")
	return cmd
}

func runSubmit(ctx context.Context, cmd *cobra.Command, path string, opts submitOptions) error {
	gw, closeGateway, err := openGateway(ctx, opts)
	if err != nil {
		return err
	}
	defer closeGateway()

	op := core.Operator{ID: opts.operator}
	ctx = core.ContextWithOperator(ctx, op)

	sess, err := openSession(ctx, path, op, opts.parse)
	if err != nil {
		return err
	}
	defer sess.Close()

	return submitSession(ctx, cmd.OutOrStdout(), sess, gw, opts)
}

// submitSession sends sess's valid rows through gw and reports progress on
// out. Cancelling ctx stops the run before the next batch.
func submitSession(ctx context.Context, out io.Writer, sess *core.Session, gw core.CaseGateway, opts submitOptions) error {
	if opts.fix {
		changed, err := sess.Correct(core.CorrectAll)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "corrections changed %d cells\n", changed)
	}

	sum := sess.Summary()
	fmt.Fprintf(out, "%s: %d rows, %d valid, %d skipped as invalid\n",
		sum.FileName, sum.TotalRows, sum.ValidRows, sum.InvalidRows)

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	// The session's own context drops cancellation; stop it explicitly.
	go func() {
		<-ctx.Done()
		sess.Cancel()
	}()

	if err := sess.Submit(ctx, core.NewSubmitter(gw, opts.timeout)); err != nil {
		return err
	}

	finished := make(chan error, 1)
	go func() { finished <- sess.Wait(context.WithoutCancel(ctx)) }()

	// Progress events may be dropped for a slow reader; Wait is authoritative.
	for running := true; running; {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if p := ev.Submit; p != nil && p.State == core.SubmitSubmitting && p.CurrentBatch > 0 {
				fmt.Fprintf(out, "batch %d/%d: %d created, %d failed\n",
					p.CurrentBatch, p.TotalBatches, p.Succeeded, p.Failed)
			}
		case err := <-finished:
			if err != nil {
				return err
			}
			running = false
		}
	}

	sum = sess.Summary()
	fmt.Fprintf(out, "import %s %s: %d created, %d failed\n",
		sum.Submit.ImportID, sum.Submit.State, sum.Submit.Succeeded, sum.Submit.Failed)
	if err := sess.LastError(); err != nil {
		return err
	}

	failed := sess.FailedRows()
	if len(failed) > 0 && opts.failures != "" {
		f, err := os.Create(opts.failures)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := core.WriteFailuresCSV(f, failed); err != nil {
			return err
		}
		fmt.Fprintf(out, "failed rows written to %s\n", opts.failures)
	}

	if sum.Submit.State == core.SubmitCancelled {
		return errors.New("submission cancelled")
	}
	return nil
}

func openGateway(ctx context.Context, opts submitOptions) (core.CaseGateway, func(), error) {
	if opts.apiURL != "" {
		client, err := caseapi.New(opts.apiURL, opts.apiToken)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}

	st, err := store.Open(ctx, config.DatabaseConfig{
		Driver:   opts.dbDriver,
		URL:      opts.dbURL,
		MaxConns: 4,
		MinConns: 1,
	})
	if err != nil {
		return nil, nil, err
	}
	return st, func() { st.Close() }, nil
}
