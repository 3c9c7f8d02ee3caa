package builder

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownTarget reports a target name with no toolchain row. It is
// raised while planning, before any sandbox or download exists.
var ErrUnknownTarget = errors.New("unknown build target")

// Toolchain describes how the build container configures gettext for
// one target platform.
type Toolchain struct {
	Host      string   `yaml:"host"`       // configure --host triple, empty for native
	Build     string   `yaml:"build"`      // configure --build triple
	CC        string   `yaml:"cc"`
	CXX       string   `yaml:"cxx"`
	ExtraArgs []string `yaml:"extra_args"` // extra configure arguments
	Packages  []string `yaml:"packages"`   // toolchain packages the image provides
}

// defaultToolchains is the built-in target table. The image installs the
// listed packages, the remaining fields become configure inputs.
var defaultToolchains = map[string]Toolchain{
	"linux-amd64": {
		CC:       "gcc",
		CXX:      "g++",
		Packages: []string{"build-essential"},
	},
	"linux-aarch64": {
		Host:     "aarch64-linux-gnu",
		Build:    "x86_64-linux-gnu",
		CC:       "aarch64-linux-gnu-gcc",
		CXX:      "aarch64-linux-gnu-g++",
		Packages: []string{"crossbuild-essential-arm64"},
	},
	"windows-amd64": {
		Host:      "x86_64-w64-mingw32",
		Build:     "x86_64-linux-gnu",
		CC:        "x86_64-w64-mingw32-gcc",
		CXX:       "x86_64-w64-mingw32-g++",
		ExtraArgs: []string{"--target=x86_64-w64-mingw32"},
		Packages:  []string{"mingw-w64", "mingw-w64-tools", "mingw-w64-x86-64-dev"},
	},
}

// Toolchains holds the active target table. LoadToolchains can extend or
// override it from configuration before any job is planned.
type Toolchains struct {
	table map[string]Toolchain
}

// DefaultToolchains returns the built-in target table
func DefaultToolchains() *Toolchains {
	table := make(map[string]Toolchain, len(defaultToolchains))
	for k, v := range defaultToolchains {
		table[k] = v
	}
	return &Toolchains{table: table}
}

// LoadToolchains returns the built-in table merged with rows from a
// YAML file. File rows win over built-in rows of the same name.
func LoadToolchains(path string) (*Toolchains, error) {
	tc := DefaultToolchains()
	if path == "" {
		return tc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read toolchains file: %w", err)
	}

	var overrides map[string]Toolchain
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse toolchains file %s: %w", path, err)
	}

	for name, row := range overrides {
		tc.table[name] = row
	}
	return tc, nil
}

// Lookup returns the toolchain row for a target
func (t *Toolchains) Lookup(target string) (Toolchain, error) {
	row, ok := t.table[target]
	if !ok {
		return Toolchain{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownTarget, target, t.Names())
	}
	return row, nil
}

// Names returns all known target names, sorted
func (t *Toolchains) Names() []string {
	names := make([]string, 0, len(t.table))
	for name := range t.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every requested target against the table before any
// job starts, so one typo cannot waste a partial run.
func (t *Toolchains) Validate(targets []string) error {
	for _, target := range targets {
		if _, err := t.Lookup(target); err != nil {
			return err
		}
	}
	return nil
}
