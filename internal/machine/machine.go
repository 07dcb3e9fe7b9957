// Package machine collects the local machine facts that a descriptor's
// requirements expression is evaluated against.
package machine

import (
	"log/slog"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/ubuntu/decorate"

	"github.com/dlopt/trialgrid/internal/descriptor"
)

// Info contains the machine facts relevant for trial placement.
type Info struct {
	Arch      string `json:"arch"`
	OpSys     string `json:"opSys"`
	OpSysName string `json:"opSysName,omitempty"`
	Cpus      int    `json:"cpus"`
	MemoryMB  int    `json:"memoryMB"`
}

// Attributes maps the facts to the vocabulary of requirements expressions.
func (i Info) Attributes() descriptor.Attributes {
	return descriptor.Attributes{
		Arch:     i.Arch,
		OpSys:    i.OpSys,
		Cpus:     i.Cpus,
		MemoryMB: i.MemoryMB,
	}
}

// Collector collects machine facts.
type Collector struct {
	log *slog.Logger

	root          string
	cpuCounts     func(logical bool) (int, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
}

type options struct {
	root          string
	cpuCounts     func(logical bool) (int, error)
	virtualMemory func() (*mem.VirtualMemoryStat, error)
}

// Options is the option type to override collector defaults, mainly for tests.
type Options func(*options)

// WithVirtualMemory overrides how total memory is read, for tests.
func WithVirtualMemory(f func() (*mem.VirtualMemoryStat, error)) Options {
	return func(o *options) {
		o.virtualMemory = f
	}
}

// New returns a new Collector.
func New(l *slog.Logger, args ...Options) Collector {
	opts := options{
		root:          "/",
		cpuCounts:     cpu.Counts,
		virtualMemory: mem.VirtualMemory,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return Collector{
		log: l,

		root:          opts.root,
		cpuCounts:     opts.cpuCounts,
		virtualMemory: opts.virtualMemory,
	}
}

// Collect gathers the machine facts.
//
// Missing memory information degrades to a zero value with a warning instead of
// failing the collection: a memory constraint then simply never holds.
func (c Collector) Collect() (info Info, err error) {
	defer decorate.OnError(&err, "failed to collect machine facts")

	info.Arch = schedulerArch(runtime.GOARCH)
	info.OpSys = schedulerOpSys(runtime.GOOS)
	info.OpSysName = c.collectOpSysName()

	info.Cpus, err = c.cpuCounts(true)
	if err != nil {
		return Info{}, err
	}

	vm, err := c.virtualMemory()
	if err != nil {
		c.log.Warn("failed to read memory information", "error", err)
		return info, nil
	}
	info.MemoryMB = int(vm.Total / (1024 * 1024))

	return info, nil
}

// schedulerArch maps a Go architecture name to the scheduler vocabulary.
func schedulerArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "X86_64"
	case "386":
		return "INTEL"
	case "arm64":
		return "AARCH64"
	default:
		return strings.ToUpper(goarch)
	}
}

// schedulerOpSys maps a Go operating system name to the scheduler vocabulary.
func schedulerOpSys(goos string) string {
	switch goos {
	case "linux":
		return "LINUX"
	case "darwin":
		return "OSX"
	case "windows":
		return "WINDOWS"
	default:
		return strings.ToUpper(goos)
	}
}
