package spike

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/mcubench/internal/config"
	"github.com/vk/mcubench/internal/execute"
	"github.com/vk/mcubench/internal/feature"
	"github.com/vk/mcubench/internal/flow"
	"github.com/vk/mcubench/internal/metrics"
	"github.com/vk/mcubench/internal/target"
	"github.com/vk/mcubench/modules/riscvgcc"
)

// Target runs programs on Spike under the proxy kernel.
type Target struct {
	*target.Base
	exe       string
	pk        string
	isa       string
	abi       string
	vext      bool
	vlen      int
	extraArgs []string
	gccDir    string
	gccName   string
}

func newTarget(_ context.Context, cfg config.Map, features []*feature.Feature) (flow.Target, error) {
	vext, err := cfg.Bool("enable_vext")
	if err != nil {
		return nil, err
	}
	vlen, err := cfg.Int("vlen")
	if err != nil {
		return nil, err
	}
	if vext && vlen == 0 {
		return nil, fmt.Errorf("target %s: vlen must be set when the vector extension is enabled", TargetName)
	}

	isa := strings.ToLower(cfg.String("isa"))
	if vext {
		isa = withVector(isa)
	}

	t := &Target{
		exe:       cfg.String(ExeKey),
		pk:        cfg.String(PKKey),
		isa:       isa,
		abi:       cfg.String("abi"),
		vext:      vext,
		vlen:      vlen,
		extraArgs: strings.Fields(cfg.String("extra_args")),
		gccDir:    cfg.String(riscvgcc.InstallDirKey),
		gccName:   cfg.String(riscvgcc.NameKey),
	}
	base, err := target.NewBase(TargetName, cfg, features, t)
	if err != nil {
		return nil, err
	}
	t.Base = base
	return t, nil
}

// Toolchain returns the RISC-V GCC matching the configured ISA.
func (t *Target) Toolchain() flow.Toolchain {
	return flow.Toolchain{
		CC:     riscvgcc.Binary(t.gccDir, t.gccName, "gcc"),
		CFlags: []string{"-march=" + t.isa, "-mabi=" + t.abi},
	}
}

// Args returns the simulator command line for one program invocation.
func (t *Target) Args(program string, args []string) []string {
	out := []string{"--isa=" + t.isa}
	out = append(out, t.extraArgs...)
	if t.vext {
		out = append(out, fmt.Sprintf("--varch=vlen:%d,elen:32", t.vlen))
	}
	out = append(out, t.pk, program)
	return append(out, args...)
}

// Exec implements target.Executor.
func (t *Target) Exec(ctx context.Context, program string, args []string, dir string) (string, error) {
	return execute.Run(ctx, t.Command(t.exe, t.Args(program, args), dir))
}

// Parse implements target.Executor.
func (t *Target) Parse(out string) (*metrics.Metrics, error) {
	return target.ParseCycles(TargetName, out)
}

// withVector adds the V extension to isa unless its single-letter extensions
// already include it. Multi-letter extensions after "_" are kept in place.
func withVector(isa string) string {
	base, multi, hasMulti := strings.Cut(isa, "_")
	letters := base
	for _, prefix := range []string{"rv32", "rv64", "rv128"} {
		if rest, ok := strings.CutPrefix(base, prefix); ok {
			letters = rest
			break
		}
	}
	if strings.Contains(letters, "v") {
		return isa
	}
	if hasMulti {
		return base + "v_" + multi
	}
	return base + "v"
}
