package app

import (
	"github.com/vk/mcubench/internal/registry"
	"github.com/vk/mcubench/modules/benchmark"
	"github.com/vk/mcubench/modules/frontends"
	"github.com/vk/mcubench/modules/host"
	"github.com/vk/mcubench/modules/llvm"
	"github.com/vk/mcubench/modules/mlif"
	"github.com/vk/mcubench/modules/riscvgcc"
	"github.com/vk/mcubench/modules/spike"
	"github.com/vk/mcubench/modules/tvm"
)

// coreModules is the definitive list of all modules that are compiled into
// the mcubench binary.
var coreModules = []registry.Module{
	&benchmark.Module{},
	&frontends.Module{},
	&llvm.Module{},
	&tvm.Module{},
	&riscvgcc.Module{},
	&spike.Module{},
	&host.Module{},
	&mlif.Module{},
}
