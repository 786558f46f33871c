package bridge

import (
	"os/exec"
	"runtime"

	"go.uber.org/zap"

	"github.com/scamshield/scamshield/internal/core"
)

// RuntimeCommand is the resolved interpreter invocation for the analyzer.
type RuntimeCommand struct {
	Name string // candidate name that resolved, e.g. "python3"
	Path string // absolute path from the executable search path
}

// interpreterCandidates returns the interpreter names to probe, in order of
// preference. On Windows the python.org installer registers "python", so it
// comes first there.
func interpreterCandidates() []string {
	if runtime.GOOS == core.GOOSWindows {
		return []string{"python", "python3"}
	}
	return []string{"python3", "python"}
}

// CommandResolver locates the python interpreter used to run the analyzers.
type CommandResolver struct {
	candidates []string
	lookPath   func(string) (string, error)
}

// NewCommandResolver creates a resolver probing the platform's candidate
// names. A PYTHON (or SCAMSHIELD_PYTHON) environment variable is probed
// first, so operators can pin the interpreter the analyzers run under.
func NewCommandResolver() *CommandResolver {
	candidates := interpreterCandidates()
	if override := core.GetEnv("PYTHON"); override != "" {
		candidates = append([]string{override}, candidates...)
	}
	return &CommandResolver{
		candidates: candidates,
		lookPath:   exec.LookPath,
	}
}

// NewCommandResolverWithLookPath creates a resolver with a custom lookup
// function. This is useful for testing without touching the real PATH.
func NewCommandResolverWithLookPath(candidates []string, lookPath func(string) (string, error)) *CommandResolver {
	return &CommandResolver{candidates: candidates, lookPath: lookPath}
}

// Resolve returns the first candidate interpreter found on the search path.
// It has no side effects beyond the probe.
func (r *CommandResolver) Resolve() (*RuntimeCommand, error) {
	for _, name := range r.candidates {
		path, err := r.lookPath(name)
		if err != nil {
			zap.L().Debug("Interpreter candidate not found", zap.String("name", name))
			continue
		}
		zap.L().Debug("Resolved interpreter", zap.String("name", name), zap.String("path", path))
		return &RuntimeCommand{Name: name, Path: path}, nil
	}
	return nil, NewRuntimeNotFoundError(r.candidates)
}
