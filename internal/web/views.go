package web

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/clinicops/intake/internal/core"
)

// errorAlert renders a user message as an alert fragment.
func errorAlert(msg core.UserMessage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div class="alert alert-error" role="alert">`)
		fmt.Fprintf(&b, `<p class="alert-message">%s</p>`, templ.EscapeString(msg.Message))
		if msg.Action != "" {
			fmt.Fprintf(&b, `<p class="alert-action">%s</p>`, templ.EscapeString(msg.Action))
		}
		if msg.Code != "" {
			fmt.Fprintf(&b, `<p class="alert-code">Error code: %s</p>`, templ.EscapeString(msg.Code))
		}
		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// sessionPage renders the mapping summary of an import session.
func sessionPage(info core.SessionInfo) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		fmt.Fprintf(&b, `<title>Import %s</title></head><body>`, templ.EscapeString(info.FileName))

		fmt.Fprintf(&b, `<h1>%s &rarr; %s</h1>`, templ.EscapeString(info.FileName), templ.EscapeString(info.Table))
		fmt.Fprintf(&b, `<p class="session-state" data-state="%s">%s, %d rows</p>`,
			templ.EscapeString(string(info.State)), templ.EscapeString(string(info.State)), info.TotalRows)
		fmt.Fprintf(&b, `<p class="date-format">Date format: %s</p>`, templ.EscapeString(info.DateFormat.Format.String()))

		if len(info.Missing) > 0 {
			b.WriteString(`<div class="alert alert-warning"><p>Required fields not mapped:</p><ul>`)
			for _, key := range info.Missing {
				fmt.Fprintf(&b, `<li>%s</li>`, templ.EscapeString(key))
			}
			b.WriteString(`</ul></div>`)
		}

		b.WriteString(`<table class="mapping"><thead><tr><th>#</th><th>Column</th><th>Field</th><th>Confidence</th></tr></thead><tbody>`)
		for _, m := range info.Columns {
			field := m.FieldKey
			if field == "" {
				field = "-"
			}
			fmt.Fprintf(&b, `<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
				m.Index+1,
				templ.EscapeString(m.SourceColumn),
				templ.EscapeString(field),
				templ.EscapeString(string(m.Confidence)),
			)
		}
		b.WriteString(`</tbody></table>`)

		if info.State == core.StateImporting || info.State == core.StateCompleted {
			p := info.Progress
			fmt.Fprintf(&b, `<p class="progress">%s: %d of %d rows (%d inserted, %d updated, %d failed)</p>`,
				templ.EscapeString(string(p.Phase)), p.CurrentRow, p.TotalRows, p.Inserted, p.Updated, p.Failed)
		}

		b.WriteString(`</body></html>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}
