package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clinicops/intake/internal/application"
	"github.com/clinicops/intake/internal/core"
	"github.com/clinicops/intake/internal/mapping"
	"github.com/clinicops/intake/internal/workbook"
)

type sessionOptions struct {
	table     string
	template  string
	overrides []string
}

func (o *sessionOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.table, "table", "patients", "Destination table")
	cmd.Flags().StringVar(&o.template, "template", "", "Apply a saved mapping template")
	cmd.Flags().StringArrayVar(&o.overrides, "map", nil, "Override a column: COLUMN=FIELD (COLUMN is a header or 1-based index, empty FIELD unmaps)")
}

// open reads the workbook and maps it, applying the template and overrides.
func (o *sessionOptions) open(ctx context.Context, app *application.App, path string) (core.SessionInfo, error) {
	wb, err := workbook.Open(path)
	if err != nil {
		return core.SessionInfo{}, err
	}
	sess, err := app.Service.OpenSession(ctx, wb, o.table)
	if err != nil {
		return core.SessionInfo{}, err
	}
	info := sess.Info()

	if o.template != "" {
		if info, err = app.Service.ApplyTemplate(ctx, sess.ID, o.template); err != nil {
			return info, err
		}
	}
	for _, arg := range o.overrides {
		column, field, ok := strings.Cut(arg, "=")
		if !ok {
			return info, fmt.Errorf("invalid --map %q: want COLUMN=FIELD", arg)
		}
		index, err := columnIndex(info.Columns, strings.TrimSpace(column))
		if err != nil {
			return info, err
		}
		if info, err = app.Service.OverrideMapping(ctx, sess.ID, index, strings.TrimSpace(field)); err != nil {
			return info, err
		}
	}
	return info, nil
}

// columnIndex resolves a header name or 1-based position to a column index.
func columnIndex(columns []mapping.ColumnMapping, ref string) (int, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(columns) {
			return 0, fmt.Errorf("column %d out of range", n)
		}
		return n - 1, nil
	}
	for _, c := range columns {
		if strings.EqualFold(c.SourceColumn, ref) {
			return c.Index, nil
		}
	}
	return 0, fmt.Errorf("no column named %q", ref)
}

func importCmd() *cobra.Command {
	var (
		opts     sessionOptions
		dryRun   bool
		save     string
		asJSON   bool
		progress bool
	)

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a workbook into a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *application.App) error {
				info, err := opts.open(ctx, app, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				if len(info.Missing) > 0 {
					return fmt.Errorf("required fields not mapped: %s", strings.Join(info.Missing, ", "))
				}
				if save != "" {
					if _, err := app.Service.SaveTemplate(ctx, info.ID, save); err != nil {
						return err
					}
				}

				if dryRun {
					preview, err := app.Service.Preview(ctx, info.ID)
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(out, preview)
					}
					printPreview(out, preview)
					return nil
				}

				var onProgress core.ProgressFunc
				if progress {
					onProgress = func(processed, total int) {
						fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d rows", processed, total)
						if processed == total {
							fmt.Fprintln(cmd.ErrOrStderr())
						}
					}
				}
				result, err := app.Service.Run(ctx, info.ID, onProgress)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, result)
				}
				printResult(out, result)
				if result.Error != "" {
					return fmt.Errorf("import stopped: %s", result.Error)
				}
				return nil
			})
		},
	}

	opts.bind(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview the import without writing")
	cmd.Flags().StringVar(&save, "save-template", "", "Save the final mapping under this name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().BoolVar(&progress, "progress", false, "Report progress on stderr")
	return cmd
}

func mapCmd() *cobra.Command {
	var opts sessionOptions

	cmd := &cobra.Command{
		Use:   "map FILE",
		Short: "Show how a workbook's columns map onto a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *application.App) error {
				info, err := opts.open(ctx, app, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printMapping(out, info)

				matches, err := app.Service.MatchTemplates(ctx, info.ID)
				if err != nil {
					return err
				}
				for _, m := range matches {
					fmt.Fprintf(out, "Template %q matches %.0f%% of its headers\n", m.Template.Name, m.MatchScore*100)
				}
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func scheduleCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "schedule FILE",
		Short: "Import a doctor roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *application.App) error {
				wb, err := workbook.Open(args[0])
				if err != nil {
					return err
				}
				result, err := app.Service.ImportSchedule(ctx, wb)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, result)
				}

				fmt.Fprintf(out, "Date format: %s (%s)\n", result.DateFormat.Format, result.DateFormat.Rule)
				fmt.Fprintf(out, "Date columns: %d\n", len(result.Columns))
				if len(result.Unparsed) > 0 {
					fmt.Fprintf(out, "Skipped headers: %s\n", strings.Join(result.Unparsed, ", "))
				}
				fmt.Fprintf(out, "Inserted: %d  Updated: %d  Failed: %d\n", result.Inserted, result.Updated, result.Failed)
				printFailures(out, result.Rows)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func fieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields [TABLE]",
		Short: "List the fields columns can map to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *application.App) error {
				defs := app.Fields.AllFields()
				if len(args) == 1 {
					if _, ok := app.Service.Catalog().Get(args[0]); !ok {
						return fmt.Errorf("unknown table: %s", args[0])
					}
					defs = app.Fields.FieldsFor(args[0])
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tTYPE\tREQUIRED\tTABLES\tKEYWORDS")
				for _, d := range defs {
					key := d.Key
					if d.IsCustom {
						key += " *"
					}
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
						key, d.Type, d.Required, strings.Join(d.Tables, ","), strings.Join(d.Keywords, ", "))
				}
				return tw.Flush()
			})
		},
	}
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates TABLE",
		Short: "List saved mapping templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *application.App) error {
				templates, err := app.Service.ListTemplates(ctx, args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tCOLUMNS\tUPDATED")
				for _, t := range templates {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", t.Name, len(t.Columns), t.UpdatedAt.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete TABLE NAME",
		Short: "Delete a saved mapping template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *application.App) error {
				if err := app.Service.DeleteTemplate(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted template %q\n", args[1])
				return nil
			})
		},
	})
	return cmd
}

func printMapping(w io.Writer, info core.SessionInfo) {
	fmt.Fprintf(w, "%s -> %s (%d rows)\n", info.FileName, info.Table, info.TotalRows)
	fmt.Fprintf(w, "Date format: %s (%s)\n\n", info.DateFormat.Format, info.DateFormat.Rule)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tCOLUMN\tFIELD\tCONFIDENCE\tSCORE")
	for _, c := range info.Columns {
		field := c.FieldKey
		switch {
		case c.Manual:
			field += " (manual)"
		case c.Shadowed != "":
			field = "- (" + c.Shadowed + " taken)"
		case field == "":
			field = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\n", c.Index+1, c.SourceColumn, field, c.Confidence, c.Score)
	}
	tw.Flush()

	if len(info.Missing) > 0 {
		fmt.Fprintf(w, "\nRequired fields not mapped: %s\n", strings.Join(info.Missing, ", "))
	}
}

func printPreview(w io.Writer, p *core.PreviewResponse) {
	s := p.Summary
	fmt.Fprintf(w, "Rows: %d  New: %d  Updates: %d  Errors: %d  Duplicates in file: %d\n",
		s.TotalRows, s.NewRows, s.UpdateRows, s.ErrorRows, s.DuplicateInFile)
	for _, d := range p.UpdateDiffs {
		for _, field := range d.Changed {
			fmt.Fprintf(w, "  line %d %s: %s %q -> %q\n", d.Line, d.RowKey, field, d.Current[field], d.Incoming[field])
		}
	}
	for _, e := range p.ErrorSamples {
		fmt.Fprintf(w, "  line %d: %s\n", e.Line, e.Error)
	}
}

func printResult(w io.Writer, r *core.ImportResult) {
	fmt.Fprintf(w, "Inserted: %d  Updated: %d  Failed: %d  Linked: %d\n", r.Inserted, r.Updated, r.Failed, r.Linked)
	for _, d := range r.Derived {
		fmt.Fprintf(w, "Derived %s: %d rows", d.Table, d.Written)
		if n := d.FailedChunks(); n > 0 {
			fmt.Fprintf(w, " (%d chunks failed)", n)
		}
		fmt.Fprintln(w)
	}
	if r.Cancelled {
		fmt.Fprintf(w, "Cancelled after %d of %d rows\n", r.Processed, r.TotalRows)
	}
	printFailures(w, r.Rows)
}

func printFailures(w io.Writer, rows []core.RowResult) {
	for _, row := range rows {
		if row.Outcome == core.OutcomeFailed {
			fmt.Fprintf(w, "  line %d %s: %s\n", row.Line, row.Identifier, row.Error)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
