package tvm

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/execute"
)

// Backend runs `tvmc compile` with the AOT executor.
type Backend struct {
	name          string
	python        string
	pythonPath    string
	optLevel      int
	unpackedAPI   bool
	usmp          bool
	usmpAlgorithm string
	arenaSize     int
	timeout       time.Duration
}

func newBackend(name string, cfg config.Map) (*Backend, error) {
	b := &Backend{
		name:          name,
		python:        cfg.String("python"),
		pythonPath:    cfg.String(PythonPathKey),
		usmpAlgorithm: cfg.String("usmp_algorithm"),
	}
	var err error
	if b.optLevel, err = cfg.Int("opt_level"); err != nil {
		return nil, err
	}
	if b.unpackedAPI, err = cfg.Bool("unpacked_api"); err != nil {
		return nil, err
	}
	if b.usmp, err = cfg.Bool("usmp"); err != nil {
		return nil, err
	}
	if b.arenaSize, err = cfg.Int("arena_size"); err != nil {
		return nil, err
	}
	timeout, err := cfg.Float("timeout_sec")
	if err != nil {
		return nil, err
	}
	b.timeout = time.Duration(timeout * float64(time.Second))
	if b.optLevel < 0 || b.optLevel > 3 {
		return nil, fmt.Errorf("backend %s: opt_level must be between 0 and 3, got %d", name, b.optLevel)
	}
	return b, nil
}

// Name returns the backend name.
func (b *Backend) Name() string { return b.name }

// Args returns the tvmc arguments for compiling modelPath into the MLF
// archive out.
func (b *Backend) Args(modelPath, out string) []string {
	iface := "packed"
	if b.unpackedAPI {
		iface = "c"
	}
	args := []string{
		"-m", "tvm.driver.tvmc", "compile", modelPath,
		"--target", "c",
		"--runtime", "crt",
		"--executor", "aot",
		"--executor-aot-interface-api", iface,
		"--executor-aot-unpacked-api", boolFlag(b.unpackedAPI),
		"--output-format", "mlf",
		"--output", out,
		"--opt-level", fmt.Sprint(b.optLevel),
		"--pass-config", "tir.disable_vectorize=1",
		"--pass-config", "tir.usmp.enable=" + boolFlag(b.usmp),
	}
	if b.usmp {
		args = append(args, "--pass-config", "tir.usmp.algorithm="+b.usmpAlgorithm)
	}
	return args
}

// Build compiles the model artifact into C sources.
func (b *Backend) Build(ctx context.Context, ir []*artifact.Artifact) (artifact.Buckets, error) {
	logger := ctxlog.FromContext(ctx).With("backend", b.name)
	mdl := artifact.Find(ir, artifact.FlagModel)
	if mdl == nil {
		return nil, fmt.Errorf("backend %s: no model artifact", b.name)
	}

	workDir, err := os.MkdirTemp("", b.name+"-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workDir)
	modelPath, err := mdl.Export(workDir)
	if err != nil {
		return nil, err
	}

	archive := filepath.Join(workDir, "default.tar")
	logger.Info("Generating code.", "model", mdl.Name)
	out, err := execute.Run(ctx, execute.Command{
		Path:    b.python,
		Args:    b.Args(modelPath, archive),
		Env:     []string{"PYTHONPATH=" + b.pythonPath},
		Timeout: b.timeout,
	})
	if err != nil {
		return nil, err
	}

	sources, err := ReadMLF(archive)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", b.name, err)
	}
	data, err := os.ReadFile(archive)
	if err != nil {
		return nil, err
	}

	arts := artifact.Buckets{}
	arts.Add(artifact.DefaultBucket, sources...)
	if b.arenaSize >= 0 {
		arts.Add(artifact.DefaultBucket, artifact.NewText("tvm_arena.h",
			fmt.Sprintf("#define TVM_ARENA_SIZE %d\n", b.arenaSize)))
	}
	arts.Add(artifact.DefaultBucket,
		artifact.NewBinary("default.tar", data),
		artifact.NewText("tvmc_out.log", out),
	)
	return arts, nil
}

// ReadMLF extracts the generated C sources and headers from a Model Library
// Format archive. Sources are flagged as such.
func ReadMLF(archive string) ([]*artifact.Artifact, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var arts []*artifact.Artifact
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", archive, err)
		}
		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if hdr.Typeflag != tar.TypeReg || !strings.HasPrefix(name, "codegen/host/") {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		switch path.Ext(name) {
		case ".c", ".cc":
			arts = append(arts, artifact.NewBinary(path.Base(name), data, artifact.FlagSource))
		case ".h":
			arts = append(arts, artifact.NewBinary(path.Base(name), data))
		}
	}
	if artifact.Find(arts, artifact.FlagSource) == nil {
		return nil, fmt.Errorf("no generated sources in %s", filepath.Base(archive))
	}
	return arts, nil
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
