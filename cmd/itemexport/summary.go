package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"itemexport/internal/job"
	"itemexport/internal/probe"
)

var (
	headStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00CC66")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	cellStyle  = lipgloss.NewStyle().PaddingRight(2)
)

var summaryHeader = []string{"JOB", "RUN", "ITEMS", "CONNECTED", "LINKS", "OUTPUTS", "ELAPSED"}

// printSummary writes one line per job result plus the overall status.
func printSummary(w io.Writer, results []job.Result, runErr error) {
	rows := [][]string{summaryHeader}
	for _, r := range results {
		run := r.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		rows = append(rows, []string{
			r.Job,
			run,
			strconv.FormatInt(r.Stats.PrimaryRows, 10),
			strconv.FormatInt(r.Stats.ConnectedRows, 10),
			strconv.FormatInt(r.Stats.LinkRows, 10),
			strconv.Itoa(len(r.Outputs)),
			r.Elapsed.Truncate(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(w, renderTable(rows))

	for _, r := range results {
		for _, o := range r.Outputs {
			fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Render(r.Job), o.Format, outputDetail(o))
		}
		if r.Truncations > 0 || r.Conflicts > 0 {
			fmt.Fprintf(w, "  %s truncated=%d type_conflicts=%d\n", mutedStyle.Render(r.Job), r.Truncations, r.Conflicts)
		}
	}

	if runErr != nil {
		fmt.Fprintln(w, failStyle.Render("✗ export failed"))
		return
	}
	fmt.Fprintln(w, okStyle.Render("✓ export complete"))
}

func outputDetail(o job.OutputResult) string {
	if len(o.Rows) == 0 {
		return fmt.Sprintf("%s items=%d", o.Location, o.Items)
	}
	tables := make([]string, 0, len(o.Rows))
	for t := range o.Rows {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	parts := make([]string, len(tables))
	for i, t := range tables {
		parts[i] = fmt.Sprintf("%s=%d", t, o.Rows[t])
	}
	return o.Location + " " + strings.Join(parts, " ")
}

// renderTable pads every column to its widest cell; row 0 is the header.
func renderTable(rows [][]string) string {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}
	lines := make([]string, len(rows))
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			st := cellStyle.Width(widths[i] + 2)
			if r == 0 {
				st = st.Inherit(headStyle)
			}
			cells[i] = st.Render(c)
		}
		lines[r] = strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " ")
	}
	return strings.Join(lines, "\n")
}

// printPlan lists the tables a job stages, in creation order.
func printPlan(w io.Writer, name string, pl *job.Plan) {
	fmt.Fprintln(w, headStyle.Render("job "+name))
	for _, t := range pl.Schema.Tables() {
		fmt.Fprintf(w, "  %s (%s)\n", t.Name, t.Kind)
		if t.PrimaryKey != nil {
			fmt.Fprintf(w, "    %s %s primary key\n", t.PrimaryKey.Name, t.PrimaryKey.Type)
		}
		for _, c := range t.Columns {
			line := fmt.Sprintf("    %s %s", c.Name, c.Type)
			if c.Source != "" && c.Source != c.Name {
				line += mutedStyle.Render(" <- " + c.Source)
			}
			for _, fk := range t.ForeignKeys {
				if fk.Column == c.Name {
					line += fmt.Sprintf(" -> %s.%s", fk.RefTable, fk.RefColumn)
				}
			}
			fmt.Fprintln(w, line)
		}
	}
	for _, c := range pl.Schema.Conflicts {
		fmt.Fprintf(w, "  warning: %s.%s typed %s, rejected %s (column %d)\n", c.Table, c.Field, c.Kept, c.Rejected, c.Ordinal)
	}
}

// printProbe writes the suggestion as a field_types block ready to paste
// under the job's source. Declared types the sample contradicts go to
// stderr.
func printProbe(stdout, stderr io.Writer, name string, rep probe.Report) error {
	for _, f := range rep.Fields {
		if f.Mismatch() {
			fmt.Fprintf(stderr, "warning: job %s: %s.%s declared %s, sample looks like %s\n", name, f.Category, f.Field, *f.Declared, f.Inferred)
		}
	}
	fmt.Fprintf(stdout, "# job %s: %d rows sampled from %s\n", name, rep.Rows, rep.Cursor)
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"field_types": rep.FieldTypes()}); err != nil {
		return fmt.Errorf("probe: encode: %w", err)
	}
	return enc.Close()
}
