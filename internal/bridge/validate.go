package bridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/scamshield/scamshield/internal/config"
)

const (
	// validationRetryDelay is the pause before the single retry of the whole
	// validation sequence. Covers transient PATH/filesystem races.
	validationRetryDelay = 500 * time.Millisecond

	// importProbeTimeout bounds the interpreter import probe.
	importProbeTimeout = 10 * time.Second

	// importProbeStatement is what the interpreter must be able to execute
	// before we bother spawning the analyzer.
	importProbeStatement = "import flask"
)

// EnvironmentValidator verifies that the analyzer can actually be launched:
// the interpreter resolves, the entry script exists, and the required
// libraries import cleanly.
type EnvironmentValidator struct {
	resolver *CommandResolver
	clock    clockwork.Clock
}

// NewEnvironmentValidator creates a validator with a real clock.
func NewEnvironmentValidator(resolver *CommandResolver) *EnvironmentValidator {
	return NewEnvironmentValidatorWithClock(resolver, clockwork.NewRealClock())
}

// NewEnvironmentValidatorWithClock creates a validator with a custom clock.
// This is useful for testing with a fake clock.
func NewEnvironmentValidatorWithClock(resolver *CommandResolver, clock clockwork.Clock) *EnvironmentValidator {
	return &EnvironmentValidator{resolver: resolver, clock: clock}
}

// Validate runs the checks in order, short-circuiting on the first failure.
// The whole sequence is retried once after a short delay before giving up.
// On success it returns the resolved interpreter command.
func (v *EnvironmentValidator) Validate(ctx context.Context, svc *config.ServiceConfig) (*RuntimeCommand, error) {
	cmd, err := v.validateOnce(ctx, svc)
	if err == nil {
		return cmd, nil
	}

	zap.L().Warn("Environment validation failed, retrying once",
		zap.String("service", svc.Name), zap.Error(err))

	select {
	case <-v.clock.After(validationRetryDelay):
	case <-ctx.Done():
		return nil, NewUnknownError(ctx.Err())
	}

	return v.validateOnce(ctx, svc)
}

func (v *EnvironmentValidator) validateOnce(ctx context.Context, svc *config.ServiceConfig) (*RuntimeCommand, error) {
	cmd, err := v.resolver.Resolve()
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(svc.Script); statErr != nil {
		return nil, NewScriptNotFoundError(svc.Script)
	}

	if probeErr := v.probeImports(ctx, cmd); probeErr != nil {
		return nil, probeErr
	}

	return cmd, nil
}

// probeImports runs the interpreter with a minimal import statement and
// inspects the exit code. A non-zero exit means the analyzer's libraries are
// not installed.
func (v *EnvironmentValidator) probeImports(ctx context.Context, cmd *RuntimeCommand) error {
	probeCtx, cancel := clockwork.WithTimeout(ctx, v.clock, importProbeTimeout)
	defer cancel()

	probe := exec.CommandContext(probeCtx, cmd.Path, "-c", importProbeStatement)
	out, err := probe.CombinedOutput()
	if err == nil {
		return nil
	}

	if probeCtx.Err() == context.DeadlineExceeded {
		return NewUnknownError(fmt.Errorf("import probe timed out after %v", importProbeTimeout))
	}

	detail := importProbeStatement
	if len(out) > 0 {
		detail = string(out)
	}
	return NewDependencyMissingError(detail)
}
