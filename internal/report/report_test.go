package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/metrics"
	"github.com/vk/mcubench/internal/run"
	"github.com/vk/mcubench/internal/testutil"
)

func snapshot(index int, backend string, cycles float64, err error) run.Snapshot {
	m := metrics.New()
	m.Add("Total Cycles", cycles, false)
	m.Add("Run Stage Time [s]", 0.5, true)
	arts := artifact.Buckets{}
	arts.Add(artifact.DefaultBucket, artifact.NewText("default.c", "int x;"))
	return run.Snapshot{
		Index:      index,
		Model:      testutil.FakeModel("sine"),
		Components: run.Components{Frontend: "tflite", Backend: backend, Target: "spike"},
		Features:   []string{"benchmark"},
		Completed:  run.StageRun,
		Err:        err,
		Artifacts:  map[run.Stage]artifact.Buckets{run.StageBuild: arts},
		Metrics:    metrics.Buckets{metrics.DefaultBucket: m},
	}
}

func TestNew_SortsByIndex(t *testing.T) {
	rep := New("s1", []run.Snapshot{snapshot(1, "B", 20, nil), snapshot(0, "A", 10, nil)})

	require.Len(t, rep.Rows, 2)
	assert.Equal(t, "A", rep.Rows[0].Backend)
	assert.Equal(t, "B", rep.Rows[1].Backend)
	assert.Equal(t, "sine", rep.Rows[0].Model)
	assert.Contains(t, rep.Rows[0].Artifacts, "BUILD/default/default.c")
}

func TestReport_FailurePolicy(t *testing.T) {
	boom := errors.New("boom")
	testCases := []struct {
		name      string
		snaps     []run.Snapshot
		allFailed bool
		failed    int
	}{
		{name: "all ok", snaps: []run.Snapshot{snapshot(0, "A", 1, nil), snapshot(1, "B", 1, nil)}},
		{name: "partial", snaps: []run.Snapshot{snapshot(0, "A", 1, boom), snapshot(1, "B", 1, nil)}, failed: 1},
		{name: "all failed", snaps: []run.Snapshot{snapshot(0, "A", 1, boom), snapshot(1, "B", 1, boom)}, allFailed: true, failed: 2},
		{name: "empty", snaps: nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rep := New("s", tc.snaps)
			assert.Equal(t, tc.allFailed, rep.AllFailed())
			assert.Len(t, rep.Failed(), tc.failed)
		})
	}
}

func TestReport_WriteCSV(t *testing.T) {
	rep := New("s1", []run.Snapshot{snapshot(0, "A", 10, nil), snapshot(1, "B", 20.5, errors.New("compile failed"))})

	var terse, full bytes.Buffer
	require.NoError(t, rep.WriteCSV(&terse, false))
	require.NoError(t, rep.WriteCSV(&full, true))

	lines := strings.Split(strings.TrimSpace(terse.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Session,Run,Model,Frontend,Backend,Target,Features,Stage,Status,Error,Total Cycles", lines[0])
	assert.Equal(t, "s1,0,sine,tflite,A,spike,benchmark,RUN,ok,,10", lines[1])
	assert.Equal(t, "s1,1,sine,tflite,B,spike,benchmark,RUN,failed,compile failed,20.5", lines[2])
	assert.Contains(t, full.String(), "Run Stage Time [s]")
}

func TestReport_WriteTable(t *testing.T) {
	rep := New("s1", []run.Snapshot{snapshot(0, "A", 10, errors.New(strings.Repeat("x", 100)))})

	var buf bytes.Buffer
	require.NoError(t, rep.WriteTable(&buf))

	out := buf.String()
	assert.NotContains(t, out, "s1")
	assert.Contains(t, out, "Backend")
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, strings.Repeat("x", 61))
}

func TestExporterConfig(t *testing.T) {
	_, err := NewPostgresExporter(PostgresConfig{URL: "postgres://localhost/db", Table: "results; DROP TABLE x", PingTimeout: 1})
	assert.Error(t, err)

	exp, err := NewPostgresExporter(PostgresConfig{URL: "postgres://localhost/db", PingTimeout: 1})
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, exp.cfg.Table)
	assert.Contains(t, upsertSQL(exp.cfg.Table), "ON CONFLICT (session_id, run_index)")

	_, err = NewObjectStoreExporter(ObjectStoreConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err, "bucket is required")

	assert.Equal(t, "bench/s1/0/BUILD/default/default.c", objectKey("bench", "s1", "0/BUILD/default/default.c"))
	assert.Equal(t, "s1/report.csv", objectKey("", "s1", "report.csv"))

	exporters, err := NewExporters([]environment.Export{
		{Kind: "objectstore", Endpoint: "localhost:9000", Bucket: "results"},
		{Kind: "postgres", URL: "postgres://localhost/db"},
	})
	require.NoError(t, err)
	require.Len(t, exporters, 2)
	assert.Equal(t, "objectstore", exporters[0].Name())
	assert.Equal(t, "postgres", exporters[1].Name())

	_, err = NewExporters([]environment.Export{{Kind: "ftp"}})
	assert.Error(t, err)
}

func TestMetricsJSON(t *testing.T) {
	m := metrics.New()
	m.Add("Total Cycles", 42, false)
	out, err := metricsJSON(Row{Metrics: m})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Total Cycles": 42}`, out)

	out, err = metricsJSON(Row{})
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}

func TestObjectStoreLayout(t *testing.T) {
	// --- Arrange ---
	rep := New("s1", []run.Snapshot{snapshot(1, "B", 7, errors.New("boom")), snapshot(0, "A", 42, nil)})

	// --- Act ---
	objects, err := layout("bench", rep)

	// --- Assert ---
	require.NoError(t, err)
	keys := make([]string, len(objects))
	for i, obj := range objects {
		keys[i] = obj.Key
	}
	assert.Equal(t, []string{
		"bench/s1/report.csv",
		"bench/s1/0/BUILD/default/default.c",
		"bench/s1/1/BUILD/default/default.c",
	}, keys)

	var csv bytes.Buffer
	require.NoError(t, rep.WriteCSV(&csv, true))
	assert.Equal(t, csv.String(), string(objects[0].Data))
	assert.Equal(t, "int x;", string(objects[1].Data))
}

func TestPostgresStatements(t *testing.T) {
	// --- Arrange ---
	rep := New("s1", []run.Snapshot{snapshot(3, "A", 42, errors.New("boom"))})
	upsert := upsertSQL(DefaultTable)
	create := createTableSQL(DefaultTable)

	// --- Act ---
	args, err := rowArgs(rep.SessionID, rep.Rows[0])

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, strings.Count(upsert, "$"), len(args), "one placeholder per argument")

	open := strings.Index(upsert, "(")
	closing := strings.Index(upsert, ")")
	require.True(t, open >= 0 && closing > open)
	columns := strings.Split(upsert[open+1:closing], ",")
	require.Len(t, columns, len(args))
	for _, col := range columns {
		assert.Contains(t, create, strings.TrimSpace(col)+" ", "column %s exists in the table", col)
	}

	assert.Equal(t, "s1", args[0])
	assert.Equal(t, 3, args[1])
	assert.Equal(t, "sine", args[2])
	assert.Equal(t, "A", args[4])
	assert.Equal(t, "benchmark", args[7])
	assert.Equal(t, StatusFailed, args[9])
	assert.JSONEq(t, `{"Total Cycles": 42, "Run Stage Time [s]": 0.5}`, args[11].(string))
}
