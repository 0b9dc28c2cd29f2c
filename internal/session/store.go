package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/fsutil"
	"github.com/vk/mcubench/internal/metrics"
	"github.com/vk/mcubench/internal/model"
	"github.com/vk/mcubench/internal/report"
	"github.com/vk/mcubench/internal/run"
)

// ErrNoSession is returned by Resume when nothing was checkpointed yet.
var ErrNoSession = errors.New("no session to resume")

const (
	checkpointFile    = "session.json"
	reportFile        = "report.csv"
	checkpointVersion = 1
)

// Store persists sessions under `<dir>/<session id>/`. Every write is atomic:
// a crash leaves either the previous or the new checkpoint on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("session store directory is required")
	}
	return &Store{dir: dir}, nil
}

// SessionDir returns the directory of a session.
func (s *Store) SessionDir(id string) string {
	return filepath.Join(s.dir, id)
}

type checkpoint struct {
	Version   int         `json:"version"`
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Runs      []runRecord `json:"runs"`
}

type runRecord struct {
	Index      int                         `json:"index"`
	Model      *modelRecord                `json:"model,omitempty"`
	Components run.Components              `json:"components"`
	Features   []string                    `json:"features"`
	Config     map[string]any              `json:"config"`
	Completed  run.Stage                   `json:"completed"`
	Error      string                      `json:"error,omitempty"`
	Artifacts  []artifactRecord            `json:"artifacts"`
	Metrics    map[string][]metrics.Metric `json:"metrics,omitempty"`
}

type modelRecord struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Format string `json:"format"`
}

type artifactRecord struct {
	Stage  run.Stage `json:"stage"`
	Bucket string    `json:"bucket"`
	Name   string    `json:"name"`
	Format string    `json:"format"`
	Flags  []string  `json:"flags,omitempty"`
	// File is relative to the session directory.
	File string `json:"file"`
}

// Save writes the session's checkpoint and any artifact not yet on disk.
// Committed artifacts never change, so existing files are kept.
func (s *Store) Save(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.SessionDir(sess.ID)
	cp := checkpoint{
		Version:   checkpointVersion,
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	for _, r := range sess.Runs() {
		rec, err := s.record(dir, r.Snapshot())
		if err != nil {
			return err
		}
		cp.Runs = append(cp.Runs, rec)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, checkpointFile), append(data, '\n'), 0o644)
}

func (s *Store) record(dir string, snap run.Snapshot) (runRecord, error) {
	rec := runRecord{
		Index:      snap.Index,
		Components: snap.Components,
		Features:   snap.Features,
		Config:     snap.Config,
		Completed:  snap.Completed,
		Artifacts:  []artifactRecord{},
	}
	if snap.Model != nil {
		rec.Model = &modelRecord{Name: snap.Model.Name, Path: snap.Model.Path, Format: snap.Model.Format}
	}
	if snap.Err != nil {
		rec.Error = snap.Err.Error()
	}

	stages := make([]run.Stage, 0, len(snap.Artifacts))
	for stage := range snap.Artifacts {
		stages = append(stages, stage)
	}
	slices.Sort(stages)
	for _, stage := range stages {
		buckets := snap.Artifacts[stage]
		for _, label := range buckets.Labels() {
			for i, a := range buckets[label] {
				name := fmt.Sprintf("%02d_%s", i, filepath.Base(a.Name))
				file := filepath.Join("runs", strconv.Itoa(snap.Index), stage.String(), label, name)
				path := filepath.Join(dir, file)
				if !fsutil.Exists(path) {
					if err := fsutil.WriteFileAtomic(path, a.Content, 0o644); err != nil {
						return runRecord{}, fmt.Errorf("saving artifact %s of run %d: %w", a.Name, snap.Index, err)
					}
				}
				rec.Artifacts = append(rec.Artifacts, artifactRecord{
					Stage:  stage,
					Bucket: label,
					Name:   a.Name,
					Format: a.Format.String(),
					Flags:  a.Flags,
					File:   file,
				})
			}
		}
	}

	if len(snap.Metrics) > 0 {
		rec.Metrics = make(map[string][]metrics.Metric, len(snap.Metrics))
		for label, m := range snap.Metrics {
			rec.Metrics[label] = m.Entries()
		}
	}
	return rec, nil
}

// WriteReport stores the CSV report next to the checkpoint.
func (s *Store) WriteReport(rep *report.Report) error {
	var buf bytes.Buffer
	if err := rep.WriteCSV(&buf, true); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(s.SessionDir(rep.SessionID), reportFile), buf.Bytes(), 0o644)
}

// List returns the ids of all checkpointed sessions, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && fsutil.Exists(filepath.Join(s.dir, e.Name(), checkpointFile)) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Latest returns the id of the most recently created session.
func (s *Store) Latest() (string, error) {
	ids, err := s.List()
	if err != nil {
		return "", err
	}
	var (
		latest string
		at     time.Time
	)
	for _, id := range ids {
		var cp checkpoint
		if err := readJSONStrict(filepath.Join(s.SessionDir(id), checkpointFile), &cp); err != nil {
			return "", fmt.Errorf("reading session %s: %w", id, err)
		}
		if latest == "" || cp.CreatedAt.After(at) {
			latest, at = id, cp.CreatedAt
		}
	}
	if latest == "" {
		return "", ErrNoSession
	}
	return latest, nil
}

// Load rebuilds a session from its checkpoint. Components are bound again
// through binder, then each run's progress and results are restored.
func (s *Store) Load(ctx context.Context, id string, binder *run.Binder) (*Session, error) {
	dir := s.SessionDir(id)
	var cp checkpoint
	if err := readJSONStrict(filepath.Join(dir, checkpointFile), &cp); err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("session %s: unsupported checkpoint version %d", id, cp.Version)
	}

	sess := &Session{ID: cp.ID, CreatedAt: cp.CreatedAt, binder: binder, store: s}
	for _, rec := range cp.Runs {
		r, err := s.restore(ctx, dir, rec, binder)
		if err != nil {
			return nil, fmt.Errorf("restoring run %d of session %s: %w", rec.Index, id, err)
		}
		sess.runs = append(sess.runs, r)
	}
	slices.SortFunc(sess.runs, func(a, b *run.Run) int { return a.Index - b.Index })
	return sess, nil
}

func (s *Store) restore(ctx context.Context, dir string, rec runRecord, binder *run.Binder) (*run.Run, error) {
	var m *model.Model
	if rec.Model != nil {
		m = &model.Model{Name: rec.Model.Name, Path: rec.Model.Path, Format: rec.Model.Format}
	}
	cfg, err := configFromJSON(rec.Config)
	if err != nil {
		return nil, err
	}
	r, err := binder.NewRun(ctx, rec.Index, m, rec.Features, cfg, rec.Components)
	if err != nil {
		return nil, err
	}

	arts := make(map[run.Stage]artifact.Buckets)
	for _, a := range rec.Artifacts {
		content, err := os.ReadFile(filepath.Join(dir, a.File))
		if err != nil {
			return nil, fmt.Errorf("reading artifact %s: %w", a.Name, err)
		}
		format, err := artifact.ParseFormat(a.Format)
		if err != nil {
			return nil, err
		}
		if arts[a.Stage] == nil {
			arts[a.Stage] = artifact.Buckets{}
		}
		arts[a.Stage].Add(a.Bucket, &artifact.Artifact{Name: a.Name, Content: content, Format: format, Flags: a.Flags})
	}

	var mets metrics.Buckets
	if len(rec.Metrics) > 0 {
		mets = make(metrics.Buckets, len(rec.Metrics))
		for label, entries := range rec.Metrics {
			mets[label] = metrics.FromEntries(entries)
		}
	}
	r.Restore(rec.Completed, arts, mets)
	return r, nil
}

// configFromJSON converts decoded JSON numbers back into the scalar types
// config.Map holds.
func configFromJSON(raw map[string]any) (config.Map, error) {
	cfg := config.Map{}
	for k, v := range raw {
		switch x := v.(type) {
		case json.Number:
			if i, err := x.Int64(); err == nil {
				cfg[k] = i
				continue
			}
			f, err := x.Float64()
			if err != nil {
				return nil, fmt.Errorf("config key %q: %w", k, err)
			}
			cfg[k] = f
		case string, bool, nil:
			cfg[k] = x
		default:
			cfg[k] = config.ToString(x)
		}
	}
	return cfg, nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure no trailing junk.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

// Resume loads the most recent session in store.
func Resume(ctx context.Context, store *Store, binder *run.Binder) (*Session, error) {
	id, err := store.Latest()
	if err != nil {
		return nil, err
	}
	return store.Load(ctx, id, binder)
}
