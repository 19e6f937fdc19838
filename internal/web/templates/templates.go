// Package templates renders the HTML fragments served to HTMX clients.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/intake/internal/core"
)

// ErrorAlert renders an error banner with the operator-facing message, the
// suggested action and the support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div class="alert alert-error" role="alert">`)
		fmt.Fprintf(&b, `<p class="alert-message">%s</p>`, templ.EscapeString(message))
		if action != "" {
			fmt.Fprintf(&b, `<p class="alert-action">%s</p>`, templ.EscapeString(action))
		}
		fmt.Fprintf(&b, `<p class="alert-code">Code: %s</p>`, templ.EscapeString(code))
		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// SessionSummary renders the status panel of an import session.
func SessionSummary(sum core.SessionSummary) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, `<section class="session" id="session-%s">`, templ.EscapeString(sum.ID))
		fmt.Fprintf(&b, `<h2>%s</h2>`, templ.EscapeString(sum.FileName))

		switch sum.Parse.Phase {
		case core.ParseReading:
			fmt.Fprintf(&b, `<progress max="100" value="%d"></progress><p>Reading file&hellip; %d rows</p>`,
				sum.Parse.Percent, sum.Parse.RowsRead)
		case core.ParseFailed:
			fmt.Fprintf(&b, `<p class="error">%s</p>`, templ.EscapeString(sum.Parse.Error))
		default:
			fmt.Fprintf(&b, `<dl><dt>Rows</dt><dd>%d</dd><dt>Valid</dt><dd>%d</dd><dt>Invalid</dt><dd>%d</dd><dt>Errors</dt><dd>%d</dd></dl>`,
				sum.TotalRows, sum.ValidRows, sum.InvalidRows, sum.ErrorCount)
		}

		if st := sum.Submit; st.State != core.SubmitIdle && st.State != "" {
			fmt.Fprintf(&b, `<div class="submit submit-%s">`, templ.EscapeString(string(st.State)))
			fmt.Fprintf(&b, `<progress max="100" value="%d"></progress>`, st.Percent())
			fmt.Fprintf(&b, `<p>Batch %d of %d: %d created, %d failed</p>`,
				st.CurrentBatch, st.TotalBatches, st.Succeeded, st.Failed)
			if sum.FailedCases > 0 {
				fmt.Fprintf(&b, `<a href="/api/session/%s/failures.csv">Download %d failed rows</a>`,
					templ.EscapeString(sum.ID), sum.FailedCases)
			}
			b.WriteString(`</div>`)
		}
		if sum.LastError != "" {
			fmt.Fprintf(&b, `<p class="error">%s</p>`, templ.EscapeString(sum.LastError))
		}
		b.WriteString(`</section>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// Home renders the upload page.
func Home(maxFileSize string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Case intake</title></head>
<body>
<main>
<h1>Import cases</h1>
<form method="post" action="/api/session" enctype="multipart/form-data">
<input type="file" name="file" accept=".csv" required>
<button type="submit">Upload</button>
<p>CSV files up to %s.</p>
</form>
</main>
</body>
</html>
`, templ.EscapeString(maxFileSize))
		return err
	})
}
