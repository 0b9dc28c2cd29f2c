package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vk/mcubench/internal/cache"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/model"
	"github.com/vk/mcubench/internal/progress"
	"github.com/vk/mcubench/internal/report"
	"github.com/vk/mcubench/internal/run"
	"github.com/vk/mcubench/internal/session"
)

// ErrAllRunsFailed is returned when a session ends without a single
// successful run. Partial failures are only reported.
var ErrAllRunsFailed = errors.New("all runs failed")

// flow executes the benchmark pipeline up to until and prints the report.
func (a *App) flow(ctx context.Context, env *environment.Environment, deps *cache.Cache, until run.Stage) error {
	logger := ctxlog.FromContext(ctx)

	cliCfg, err := config.ParseKeyValues(a.config.ConfigPairs)
	if err != nil {
		return err
	}
	cfg, err := config.Layer(cliCfg, env.Vars)
	if err != nil {
		return err
	}
	perStage, err := boolSetting(cfg, "runs_per_stage", true)
	if err != nil {
		return err
	}
	failFast, err := boolSetting(cfg, "fail_fast", false)
	if err != nil {
		return err
	}

	store, err := session.NewStore(env.SessionsDir())
	if err != nil {
		return err
	}
	binder := &run.Binder{Registry: a.registry, Cache: deps}

	var sess *session.Session
	if a.config.Resume {
		sess, err = session.Resume(ctx, store, binder)
		if err == nil {
			logger.Info("Resuming session.", "session", sess.ID, "runs", len(sess.Runs()))
		}
	} else {
		sess, err = a.newSession(ctx, env, binder, store, cfg, until)
	}
	if err != nil {
		return err
	}

	rep, err := sess.ProcessRuns(ctx, session.Options{
		Until:      until,
		PerStage:   perStage,
		NumWorkers: a.config.Parallel,
		Progress:   a.progressSink(ctx, env),
		FailFast:   failFast,
	})
	if rep != nil {
		if wErr := rep.WriteTable(a.outW); wErr != nil {
			logger.Warn("Failed to print report.", "error", wErr)
		}
	}
	if err != nil {
		return err
	}

	exporters, err := report.NewExporters(env.Exports)
	if err != nil {
		return err
	}
	if err := report.ExportAll(ctx, rep, exporters); err != nil {
		logger.Warn("Report export incomplete.", "error", err)
	}

	failed := rep.Failed()
	if rep.AllFailed() {
		return fmt.Errorf("%w: %d of %d (session %s)", ErrAllRunsFailed, len(failed), len(rep.Rows), sess.ID)
	}
	if len(failed) > 0 {
		logger.Warn("Some runs failed.", "failed", len(failed), "runs", len(rep.Rows), "session", sess.ID)
	}
	return nil
}

// newSession creates one run per model and fans them out over the selected
// backends and targets, as far as the requested stage needs them.
func (a *App) newSession(ctx context.Context, env *environment.Environment, binder *run.Binder, store *session.Store, cfg config.Map, until run.Stage) (*session.Session, error) {
	frontends := pick(a.config.Frontends, env.Defaults.Frontends, a.registry.FrontendNames())
	formatOwner := map[string]string{}
	var formats []string
	for _, name := range frontends {
		c, err := a.registry.Frontend(name)
		if err != nil {
			return nil, err
		}
		for _, f := range c.Spec.Formats {
			if _, ok := formatOwner[f]; !ok {
				formatOwner[f] = name
				formats = append(formats, f)
			}
		}
	}

	sess := session.New(binder, store)
	for _, name := range a.config.Models {
		m, err := model.Lookup(name, env.Paths.Models, formats)
		if err != nil {
			return nil, err
		}
		frontend, ok := formatOwner[m.Format]
		if !ok {
			return nil, fmt.Errorf("no frontend among %v accepts %s model %s", frontends, m.Format, m.Name)
		}
		if _, err := sess.CreateRun(ctx, m, a.config.Features, cfg, run.Components{Frontend: frontend}); err != nil {
			return nil, err
		}
	}

	if until >= run.StageBuild {
		backends := pick(a.config.Backends, env.Defaults.Backends, nil)
		if len(backends) == 0 {
			return nil, fmt.Errorf("%w: no backend selected", run.ErrMissingComponent)
		}
		if err := sess.ExpandBackends(ctx, backends); err != nil {
			return nil, err
		}
	}
	if until >= run.StageCompile {
		targets := pick(a.config.Targets, env.Defaults.Targets, nil)
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: no target selected", run.ErrMissingComponent)
		}
		compiler := a.config.Compiler
		if compiler == "" {
			compiler = env.Defaults.Compiler
		}
		if compiler == "" {
			if names := a.registry.CompilerNames(); len(names) > 0 {
				compiler = names[0]
			}
		}
		if err := sess.ExpandTargets(ctx, targets, compiler); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// progressSink reports to the log, a terminal bar with --progress and the
// socket.io server configured in the environment.
func (a *App) progressSink(ctx context.Context, env *environment.Environment) progress.Sink {
	sinks := progress.Multi{progress.NewLogSink(ctx)}
	if a.config.Progress {
		sinks = append(sinks, progress.NewBarSink(a.outW, 40))
	}
	if p := env.Progress; p != nil && p.URL != "" {
		s, err := progress.DialSocketIO(ctx, p.URL, p.Namespace, p.Event)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Progress server unavailable.", "url", p.URL, "error", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}

// pick returns the first non-empty list, without duplicates.
func pick(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			var out []string
			for _, v := range l {
				if !slices.Contains(out, v) {
					out = append(out, v)
				}
			}
			return out
		}
	}
	return nil
}

func boolSetting(cfg config.Map, key string, def bool) (bool, error) {
	if !cfg.Has(key) {
		return def, nil
	}
	return cfg.Bool(key)
}
