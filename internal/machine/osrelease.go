package machine

import (
	"path/filepath"
	"runtime"

	"gopkg.in/ini.v1"
)

// WithRoot overrides the filesystem root used to locate os-release, for tests.
func WithRoot(root string) Options {
	return func(o *options) {
		o.root = root
	}
}

// WithCPUCounts overrides how logical CPUs are counted, for tests.
func WithCPUCounts(f func(logical bool) (int, error)) Options {
	return func(o *options) {
		o.cpuCounts = f
	}
}

// collectOpSysName returns the pretty operating system name from os-release,
// or "" when it cannot be determined. The value is informational only and
// never part of predicate evaluation.
func (c Collector) collectOpSysName() string {
	if runtime.GOOS != "linux" && c.root == "/" {
		return ""
	}

	for _, p := range []string{
		filepath.Join(c.root, "etc", "os-release"),
		filepath.Join(c.root, "usr", "lib", "os-release"),
	} {
		cfg, err := ini.Load(p)
		if err != nil {
			c.log.Debug("could not read os-release", "file", p, "error", err)
			continue
		}

		section := cfg.Section("")
		if k := section.Key("PRETTY_NAME").String(); k != "" {
			return k
		}
		if k := section.Key("NAME").String(); k != "" {
			return k
		}
	}

	return ""
}
