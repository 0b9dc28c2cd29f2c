package setup

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/mcubench/internal/cache"
	"github.com/vk/mcubench/internal/environment"
	"github.com/vk/mcubench/internal/registry"
)

type countingSink struct {
	started  int
	advanced int
	finished bool
}

func (s *countingSink) Start(_ string, total int) { s.started = total }
func (s *countingSink) Advance(n int)             { s.advanced += n }
func (s *countingSink) Finish()                   { s.finished = true }

type harness struct {
	runner *Runner
	calls  []string
	sink   *countingSink
}

func newHarness(t *testing.T, tasks ...registry.Task) *harness {
	t.Helper()
	h := &harness{sink: &countingSink{}}
	r := registry.New()
	for _, task := range tasks {
		action := task.Action
		name := task.Name
		task.Action = func(ctx context.Context, tc *registry.TaskContext, opts registry.TaskOptions) error {
			h.calls = append(h.calls, name)
			if action != nil {
				return action(ctx, tc, opts)
			}
			return nil
		}
		r.RegisterTask(task)
	}
	require.NoError(t, r.Validate())

	home := t.TempDir()
	env := &environment.Environment{
		Home:     home,
		Paths:    environment.Paths{Deps: filepath.Join(home, "deps")},
		Features: []string{"vext"},
	}
	h.runner = &Runner{Registry: r, Env: env, Cache: cache.New(), Progress: h.sink}
	return h
}

func provide(key, value string) func(context.Context, *registry.TaskContext, registry.TaskOptions) error {
	return func(_ context.Context, tc *registry.TaskContext, opts registry.TaskOptions) error {
		return tc.Cache.Set(key, opts.Flags, value)
	}
}

func TestInstall_RunsInDependencyOrder(t *testing.T) {
	// --- Arrange ---
	h := newHarness(t,
		registry.Task{Name: "build_spike", Requires: []string{"riscv_gcc.install_dir"}, Provides: []string{"spike.exe"}, Action: provide("spike.exe", "/spike")},
		registry.Task{Name: "install_riscv_gcc", Provides: []string{"riscv_gcc.install_dir"}, Action: provide("riscv_gcc.install_dir", "/gcc")},
	)

	// --- Act ---
	err := h.runner.Install(context.Background(), InstallOptions{WriteCache: true})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"install_riscv_gcc", "build_spike"}, h.calls)
	assert.Equal(t, 2, h.sink.started)
	assert.Equal(t, 2, h.sink.advanced, "progress advances once per task")
	assert.True(t, h.sink.finished)

	persisted, err := cache.ReadFile(h.runner.Env.CachePath())
	require.NoError(t, err)
	assert.Equal(t, h.runner.Cache.Entries(), persisted.Entries())
}

func TestInstall_VariantsAndValidity(t *testing.T) {
	var flagsSeen [][]string
	h := newHarness(t,
		registry.Task{
			Name:     "build_spike",
			Provides: []string{"spike.exe"},
			Variants: [][]string{{}, {"vext"}, {"debug"}},
			Validate: func(env *environment.Environment, flags []string) bool {
				return len(flags) == 0 || env.HasFeature(flags[0])
			},
			Action: func(_ context.Context, tc *registry.TaskContext, opts registry.TaskOptions) error {
				flagsSeen = append(flagsSeen, opts.Flags)
				return tc.Cache.Set("spike.exe", opts.Flags, "/spike")
			},
		},
		registry.Task{
			Name:     "install_llvm",
			Validate: func(*environment.Environment, []string) bool { return false },
		},
	)

	require.NoError(t, h.runner.Install(context.Background(), InstallOptions{}))

	assert.Equal(t, [][]string{{}, {"vext"}}, flagsSeen)
	assert.True(t, h.runner.Cache.Has("spike.exe", "vext"))
	assert.False(t, h.runner.Cache.Has("spike.exe", "debug"))
	assert.False(t, slices.Contains(h.calls, "install_llvm"), "invalid tasks are skipped")
	assert.Equal(t, 2, h.sink.advanced, "skipped tasks still count as done")
}

func TestInstall_FailFast(t *testing.T) {
	boom := errors.New("download failed")
	h := newHarness(t,
		registry.Task{Name: "first", Provides: []string{"a"}, Action: provide("a", "/a")},
		registry.Task{Name: "second", Requires: []string{"a"}, Action: func(context.Context, *registry.TaskContext, registry.TaskOptions) error { return boom }},
		registry.Task{Name: "third", Requires: []string{"second"}},
	)

	err := h.runner.Install(context.Background(), InstallOptions{WriteCache: true})

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "second", taskErr.Task)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first", "second"}, h.calls)
	assert.Equal(t, 1, h.runner.Cache.Len(), "partial state stays in memory")

	persisted, err := cache.ReadFile(h.runner.Env.CachePath())
	require.NoError(t, err)
	assert.Equal(t, 0, persisted.Len(), "partial state is not persisted")
}

func TestInstall_PassesRebuild(t *testing.T) {
	var rebuild bool
	h := newHarness(t, registry.Task{Name: "a", Action: func(_ context.Context, _ *registry.TaskContext, opts registry.TaskOptions) error {
		rebuild = opts.Rebuild
		return nil
	}})
	h.runner.Verbose = true

	require.NoError(t, h.runner.Install(context.Background(), InstallOptions{Rebuild: true}))
	assert.True(t, rebuild)
}
