// Package report collects the per-run results of a session, renders them
// and ships them to the configured exporters.
package report

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/metrics"
	"github.com/vk/mcubench/internal/run"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Row is the result of one run.
type Row struct {
	Index     int
	Model     string
	Frontend  string
	Backend   string
	Compiler  string
	Target    string
	Features  []string
	Stage     string
	Status    string
	Error     string
	Metrics   *metrics.Metrics
	// Artifacts maps `<stage>/<bucket>/<name>` to the artifact.
	Artifacts map[string]*artifact.Artifact
}

// Report is the ordered result table of a session.
type Report struct {
	SessionID string
	Rows      []Row
}

// New builds a report from run snapshots. Rows are ordered by run index
// whatever the completion order was.
func New(sessionID string, snaps []run.Snapshot) *Report {
	rep := &Report{SessionID: sessionID, Rows: make([]Row, 0, len(snaps))}
	for _, s := range snaps {
		rep.Rows = append(rep.Rows, FromSnapshot(s))
	}
	slices.SortStableFunc(rep.Rows, func(a, b Row) int { return cmp.Compare(a.Index, b.Index) })
	return rep
}

// FromSnapshot converts a run snapshot into a row.
func FromSnapshot(s run.Snapshot) Row {
	row := Row{
		Index:     s.Index,
		Frontend:  s.Components.Frontend,
		Backend:   s.Components.Backend,
		Compiler:  s.Components.Compiler,
		Target:    s.Components.Target,
		Features:  s.Features,
		Stage:     s.Completed.String(),
		Status:    StatusOK,
		Metrics:   s.Metrics.Default(),
		Artifacts: make(map[string]*artifact.Artifact),
	}
	if s.Model != nil {
		row.Model = s.Model.Name
	}
	if s.Err != nil {
		row.Status = StatusFailed
		row.Error = s.Err.Error()
	}
	for stage, buckets := range s.Artifacts {
		for label, arts := range buckets {
			for _, a := range arts {
				row.Artifacts[path.Join(stage.String(), label, a.Name)] = a
			}
		}
	}
	return row
}

// Failed returns the failed rows.
func (r *Report) Failed() []Row {
	var out []Row
	for _, row := range r.Rows {
		if row.Status == StatusFailed {
			out = append(out, row)
		}
	}
	return out
}

// AllFailed reports whether there was at least one run and none succeeded.
func (r *Report) AllFailed() bool {
	return len(r.Rows) > 0 && len(r.Failed()) == len(r.Rows)
}

var fixedColumns = []string{"Session", "Run", "Model", "Frontend", "Backend", "Target", "Features", "Stage", "Status", "Error"}

// metricColumns returns the union of metric names in row order.
func (r *Report) metricColumns(includeOptional bool) []string {
	var cols []string
	for _, row := range r.Rows {
		if row.Metrics == nil {
			continue
		}
		for _, name := range row.Metrics.Names(includeOptional) {
			if !slices.Contains(cols, name) {
				cols = append(cols, name)
			}
		}
	}
	return cols
}

func (r *Report) records(includeOptional bool) [][]string {
	metricCols := r.metricColumns(includeOptional)
	out := [][]string{append(slices.Clone(fixedColumns), metricCols...)}
	for _, row := range r.Rows {
		rec := []string{
			r.SessionID,
			strconv.Itoa(row.Index),
			row.Model,
			row.Frontend,
			row.Backend,
			row.Target,
			strings.Join(row.Features, " "),
			row.Stage,
			row.Status,
			row.Error,
		}
		for _, name := range metricCols {
			value := ""
			if row.Metrics != nil {
				if v, ok := row.Metrics.Get(name); ok {
					value = metrics.FormatValue(v)
				}
			}
			rec = append(rec, value)
		}
		out = append(out, rec)
	}
	return out
}

// WriteCSV writes the report as CSV. Optional metrics are included on request.
func (r *Report) WriteCSV(w io.Writer, includeOptional bool) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(r.records(includeOptional)); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// WriteTable writes a terse aligned table for terminals.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, rec := range r.records(false) {
		// The session id is printed once by the caller.
		rec = rec[1:]
		if errCol := 8; len(rec[errCol]) > 60 {
			rec[errCol] = rec[errCol][:57] + "..."
		}
		fmt.Fprintln(tw, strings.Join(rec, "\t"))
	}
	return tw.Flush()
}
