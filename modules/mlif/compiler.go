package mlif

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/mcubench/internal/artifact"
	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/ctxlog"
	"github.com/vk/mcubench/internal/execute"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/fsutil"
)

// Compiler builds the harness together with the generated code.
type Compiler struct {
	srcDir      string
	optLevel    string
	debug       bool
	extraCFlags []string
}

func newCompiler(_ context.Context, cfg config.Map, _ []*feature.Feature) (flow.Compiler, error) {
	debug, err := cfg.Bool("debug")
	if err != nil {
		return nil, err
	}
	return &Compiler{
		srcDir:      cfg.String(SrcDirKey),
		optLevel:    cfg.String("opt_level"),
		debug:       debug,
		extraCFlags: strings.Fields(cfg.String("extra_cflags")),
	}, nil
}

// Name returns the compiler name.
func (c *Compiler) Name() string { return CompilerName }

// Compile writes the code artifacts to a build directory and links them with
// the harness using the target's toolchain.
func (c *Compiler) Compile(ctx context.Context, code []*artifact.Artifact, t flow.Target) (artifact.Buckets, error) {
	logger := ctxlog.FromContext(ctx).With("compiler", CompilerName, "target", t.Name())
	tc := t.Toolchain()
	if tc.CC == "" {
		return nil, fmt.Errorf("target %s has no C compiler", t.Name())
	}

	buildDir, err := os.MkdirTemp("", "mlif-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(buildDir)

	codegenDir := filepath.Join(buildDir, "codegen")
	var sources []string
	for _, a := range code {
		if !isCode(a.Name) {
			continue
		}
		path, err := a.Export(codegenDir)
		if err != nil {
			return nil, err
		}
		if !strings.HasSuffix(a.Name, ".h") {
			sources = append(sources, path)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("compiler %s: no C sources among %d code artifacts", CompilerName, len(code))
	}

	harness, err := c.harnessSources()
	if err != nil {
		return nil, err
	}
	program := filepath.Join(buildDir, ProgramName)
	args := c.Args(tc, codegenDir, append(harness, sources...), program)

	logger.Info("Compiling program.", "sources", len(sources)+len(harness))
	out, err := execute.Run(ctx, execute.Command{Path: tc.CC, Args: args, Dir: buildDir})
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(program)
	if err != nil {
		return nil, fmt.Errorf("compiler %s: reading program: %w", CompilerName, err)
	}

	arts := artifact.Buckets{}
	arts.Add(artifact.DefaultBucket,
		artifact.NewBinary(ProgramName, data, artifact.FlagExecutable),
		artifact.NewText("mlif_build.log", tc.CC+" "+strings.Join(args, " ")+"\n"+out),
	)
	return arts, nil
}

// Args returns the compiler command line.
func (c *Compiler) Args(tc flow.Toolchain, codegenDir string, sources []string, program string) []string {
	args := append([]string{}, tc.CFlags...)
	args = append(args, "-O"+c.optLevel)
	if c.debug {
		args = append(args, "-g")
	}
	args = append(args, "-I"+filepath.Join(c.srcDir, "include"), "-I"+codegenDir)
	args = append(args, c.extraCFlags...)
	args = append(args, sources...)
	args = append(args, "-o", program)
	return append(args, tc.LDFlags...)
}

// harnessSources lists the C files of the harness below `<src_dir>/src`.
func (c *Compiler) harnessSources() ([]string, error) {
	dir := filepath.Join(c.srcDir, "src")
	if !fsutil.Exists(dir) {
		return nil, fmt.Errorf("compiler %s: harness sources not found in %s", CompilerName, dir)
	}
	return fsutil.FindFilesByExtension(dir, ".c")
}

func isCode(name string) bool {
	for _, ext := range []string{".c", ".cc", ".h"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
