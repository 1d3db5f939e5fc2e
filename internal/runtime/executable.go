package runtime

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/taskswarm/orchestrator/internal/log"
)

// ErrExecutableNotFound is returned when an executable cannot be
// located via env override, known paths, or PATH.
var ErrExecutableNotFound = errors.New("executable not found")

// ExecutableFinder locates a runtime's external binary, checking an
// optional environment variable override first, then known path
// templates, then falling back to exec.LookPath. Function fields are
// injectable for testing without touching the real filesystem/PATH,
// mirroring the teacher's client.ExecutableFinder.
type ExecutableFinder struct {
	execName    string
	knownPaths  []string
	envOverride string
	goos        string

	statFn     func(string) (os.FileInfo, error)
	lookPathFn func(string) (string, error)
	userHomeFn func() (string, error)
}

// NewExecutableFinder creates a finder for execName.
func NewExecutableFinder(execName string) *ExecutableFinder {
	return &ExecutableFinder{
		execName:   execName,
		goos:       runtime.GOOS,
		statFn:     os.Stat,
		lookPathFn: exec.LookPath,
		userHomeFn: os.UserHomeDir,
	}
}

// WithKnownPaths sets priority-ordered path templates checked before
// PATH lookup. Supports {name}, ~, and $VAR expansion.
func (f *ExecutableFinder) WithKnownPaths(paths ...string) *ExecutableFinder {
	f.knownPaths = paths
	return f
}

// WithEnvOverride sets an environment variable consulted before known
// paths.
func (f *ExecutableFinder) WithEnvOverride(envVar string) *ExecutableFinder {
	f.envOverride = envVar
	return f
}

// Find resolves the executable path in priority order: env override,
// known paths, PATH.
func (f *ExecutableFinder) Find() (string, error) {
	var checked []string

	if f.envOverride != "" {
		if envPath := os.Getenv(f.envOverride); envPath != "" {
			checked = append(checked, envPath+" (from $"+f.envOverride+")")
			if f.isValidExecutable(envPath) {
				log.Debug(log.CatRuntime, "found executable via env override", "name", f.execName, "path", envPath)
				return envPath, nil
			}
		}
	}

	for _, tmpl := range f.knownPaths {
		path, err := f.expandPath(tmpl)
		if err != nil {
			continue
		}
		checked = append(checked, path)
		if f.isValidExecutable(path) {
			log.Debug(log.CatRuntime, "found executable in known path", "name", f.execName, "path", path)
			return path, nil
		}
	}

	execName := f.platformExecName()
	if path, err := f.lookPathFn(execName); err == nil {
		log.Debug(log.CatRuntime, "found executable via PATH", "name", f.execName, "path", path)
		return path, nil
	}

	desc := "PATH"
	if len(checked) > 0 {
		desc = strings.Join(checked, ", ") + ", PATH"
	}
	return "", fmt.Errorf("%w: %s not found in %s", ErrExecutableNotFound, f.execName, desc)
}

func (f *ExecutableFinder) platformExecName() string {
	if f.goos == "windows" {
		return f.execName + ".exe"
	}
	return f.execName
}

func (f *ExecutableFinder) expandPath(template string) (string, error) {
	path := strings.ReplaceAll(template, "{name}", f.platformExecName())
	if strings.HasPrefix(path, "~") {
		home, err := f.userHomeFn()
		if err != nil {
			return "", fmt.Errorf("cannot expand ~: %w", err)
		}
		path = home + path[1:]
	}
	path = os.ExpandEnv(path)
	return filepath.Clean(path), nil
}

func (f *ExecutableFinder) isValidExecutable(path string) bool {
	info, err := f.statFn(path)
	if err != nil || info.IsDir() {
		return false
	}
	if f.goos == "windows" {
		return strings.HasSuffix(strings.ToLower(info.Name()), ".exe")
	}
	return info.Mode().Perm()&0111 != 0
}
