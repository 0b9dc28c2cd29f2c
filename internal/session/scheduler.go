package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/progress"
	"github.com/vk/mcubench/internal/report"
	"github.com/vk/mcubench/internal/run"
)

// Options control ProcessRuns.
type Options struct {
	// Until is the last stage to execute.
	Until run.Stage
	// PerStage executes one stage across all runs before the next stage.
	// Otherwise every run goes through all its stages on its own.
	PerStage bool
	// NumWorkers bounds parallelism. Values below 1 mean 1.
	NumWorkers int
	// Progress defaults to progress.Nop.
	Progress progress.Sink
	// FailFast stops dispatching at the first run failure and returns it.
	FailFast bool
}

// unit is the dispatch unit of the worker pool: a run and the stages the
// worker executes for it, in order.
type unit struct {
	run    *run.Run
	stages []run.Stage
	// steps is the number of progress steps the run still accounts for.
	steps int
}

// ProcessRuns drives all runs up to opts.Until and returns the per-run
// report, ordered by run index. Run failures are recorded in the report; the
// returned error is reserved for checkpoint failures and, with FailFast, the
// first run failure.
func (s *Session) ProcessRuns(ctx context.Context, opts Options) (*report.Report, error) {
	logger := ctxlog.FromContext(ctx).With("session", s.ID)
	ctx = ctxlog.WithLogger(ctx, logger)
	workers := max(opts.NumWorkers, 1)
	sink := opts.Progress
	if sink == nil {
		sink = progress.Nop{}
	}

	runs := s.Runs()
	total := 0
	for _, r := range runs {
		total += len(pending(r, opts.Until))
	}
	logger.Info("🚀 Processing runs...", "runs", len(runs), "until", opts.Until.String(), "per_stage", opts.PerStage, "workers", workers, "steps", total)
	sink.Start(fmt.Sprintf("Processing %d runs", len(runs)), total)

	var err error
	if opts.PerStage {
		for _, stage := range run.Through(opts.Until) {
			var units []unit
			for _, r := range runs {
				if r.Err() == nil && r.Completed() < stage {
					units = append(units, unit{run: r, stages: []run.Stage{stage}, steps: len(pending(r, opts.Until))})
				}
			}
			if len(units) == 0 {
				continue
			}
			logger.Debug("Dispatching stage.", "stage", stage.String(), "runs", len(units))
			err = s.dispatch(ctx, units, workers, sink, opts.FailFast, nil)
			if cpErr := s.checkpoint(ctx); cpErr != nil && err == nil {
				err = cpErr
			}
			if err != nil {
				break
			}
		}
	} else {
		var units []unit
		for _, r := range runs {
			if stages := pending(r, opts.Until); len(stages) > 0 {
				units = append(units, unit{run: r, stages: stages, steps: len(stages)})
			}
		}
		err = s.dispatch(ctx, units, workers, sink, opts.FailFast, s.checkpoint)
	}
	sink.Finish()

	if cpErr := s.checkpoint(ctx); cpErr != nil && err == nil {
		err = cpErr
	}
	rep := s.Report()
	if s.store != nil {
		if wErr := s.store.WriteReport(rep); wErr != nil && err == nil {
			err = wErr
		}
	}
	logger.Info("🏁 Session finished.", "runs", len(rep.Rows), "failed", len(rep.Failed()))
	return rep, err
}

// Report builds the report from the current state of the runs.
func (s *Session) Report() *report.Report {
	runs := s.Runs()
	snaps := make([]run.Snapshot, len(runs))
	for i, r := range runs {
		snaps[i] = r.Snapshot()
	}
	return report.New(s.ID, snaps)
}

// pending returns the stages r still has to execute to reach until. Failed
// runs have none.
func pending(r *run.Run, until run.Stage) []run.Stage {
	if r.Err() != nil {
		return nil
	}
	var out []run.Stage
	for _, stage := range run.Through(until) {
		if stage > r.Completed() {
			out = append(out, stage)
		}
	}
	return out
}

// dispatch feeds units to a bounded pool of workers and waits for all of
// them. checkpoint, when set, runs after every committed stage and after a
// run failure; its error stops the dispatch like a FailFast run failure.
func (s *Session) dispatch(ctx context.Context, units []unit, workers int, sink progress.Sink, failFast bool, checkpoint func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		stopErr error
	)
	stop := func(err error) {
		errOnce.Do(func() {
			stopErr = err
			cancel()
		})
	}
	save := func(ctx context.Context) bool {
		if checkpoint == nil {
			return true
		}
		if err := checkpoint(ctx); err != nil {
			stop(err)
			return false
		}
		return true
	}
	failed := func(ctx context.Context, u unit, err error) {
		ctxlog.FromContext(ctx).Warn("Run failed.", "run", u.run.Index, "error", err)
		if failFast {
			stop(err)
		}
		save(ctx)
	}

	unitChan := make(chan unit)
	for i := range min(workers, len(units)) {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, unitChan, workerID, sink, save, failed)
		}(i + 1)
	}

feed:
	for _, u := range units {
		select {
		case unitChan <- u:
		case <-ctx.Done():
			break feed
		}
	}
	close(unitChan)
	wg.Wait()
	return stopErr
}

// worker is the processing loop of a single concurrent worker.
func (s *Session) worker(ctx context.Context, units <-chan unit, workerID int, sink progress.Sink, stepped func(context.Context) bool, failed func(context.Context, unit, error)) {
	logger := ctxlog.FromContext(ctx).With("workerID", workerID)
	logger.Debug("Worker started.")

	for u := range units {
		if ctx.Err() != nil {
			logger.Debug("Session stopping, skipping run.", "run", u.run.Index)
			continue
		}
		logger.Debug("Worker picked up run.", "run", u.run.Index, "stages", len(u.stages))

		workerCtx := ctxlog.WithLogger(ctx, logger)
		var err error
		executed := 0
		for _, stage := range u.stages {
			if err = u.run.Step(workerCtx, stage); err != nil {
				break
			}
			executed++
			sink.Advance(1)
			if !stepped(workerCtx) {
				break
			}
		}
		if executed < len(u.stages) {
			// The remaining stages of this run will never execute.
			sink.Advance(u.steps - executed)
		}
		if err != nil {
			failed(workerCtx, u, err)
		}
	}
	logger.Debug("Worker finished.")
}
