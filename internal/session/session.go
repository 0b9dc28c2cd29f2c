// Package session owns an ordered collection of runs, expands them across
// backends and targets, drives them through the stage pipeline on a worker
// pool and checkpoints their progress so an interrupted session can resume.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/model"
	"github.com/vk/mcubench/internal/run"
)

// Session is a set of runs processed together.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu     sync.Mutex
	runs   []*run.Run
	binder *run.Binder
	// store is nil for sessions that are never checkpointed.
	store *Store
}

// New creates an empty session with a fresh id.
func New(binder *run.Binder, store *Store) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		binder:    binder,
		store:     store,
	}
}

// Runs returns the runs in index order.
func (s *Session) Runs() []*run.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*run.Run, len(s.runs))
	copy(out, s.runs)
	return out
}

// CreateRun appends a run bound to the named components. Configuration errors
// such as an unresolvable required key are returned here.
func (s *Session) CreateRun(ctx context.Context, m *model.Model, features []string, cfg config.Map, names run.Components) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.binder.NewRun(ctx, len(s.runs), m, features, cfg, names)
	if err != nil {
		return nil, err
	}
	s.runs = append(s.runs, r)
	ctxlog.FromContext(ctx).Debug("Run created.", "run", r.Index, "model", m, "components", names)
	return r, nil
}

// ExpandBackends replaces every run by one clone per backend.
func (s *Session) ExpandBackends(ctx context.Context, backends []string) error {
	return s.expand(ctx, backends, func(name string) run.Components {
		return run.Components{Backend: name}
	})
}

// ExpandTargets replaces every run by one clone per target, each compiled
// with compiler.
func (s *Session) ExpandTargets(ctx context.Context, targets []string, compiler string) error {
	return s.expand(ctx, targets, func(name string) run.Components {
		return run.Components{Target: name, Compiler: compiler}
	})
}

// expand fans runs out in request order: run 0 for every name, then run 1
// and so on. Indices are renumbered to match.
func (s *Session) expand(ctx context.Context, names []string, sel func(string) run.Components) error {
	if len(names) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*run.Run, 0, len(s.runs)*len(names))
	for _, r := range s.runs {
		for _, name := range names {
			c := r.Clone(len(out))
			if err := s.binder.Bind(ctx, c, sel(name)); err != nil {
				return fmt.Errorf("expanding run %d with %q: %w", r.Index, name, err)
			}
			out = append(out, c)
		}
	}
	s.runs = out
	return nil
}

// checkpoint persists the session when it has a store.
func (s *Session) checkpoint(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(s); err != nil {
		return fmt.Errorf("checkpointing session %s: %w", s.ID, err)
	}
	ctxlog.FromContext(ctx).Debug("Session checkpoint written.", "session", s.ID)
	return nil
}
