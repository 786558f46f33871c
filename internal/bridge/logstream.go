package bridge

import (
	"strings"

	"go.uber.org/zap"
)

// LogLine is one line of analyzer output, produced by the pipe readers and
// consumed by a single sink goroutine.
type LogLine struct {
	Service string
	Stream  string // "stdout" or "stderr"
	Text    string
}

// importantStdoutLine is the verbosity heuristic for non-development mode:
// stdout lines are suppressed unless they look like a problem. This is
// best-effort substring matching, not a structured log level.
func importantStdoutLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "error") ||
		strings.Contains(lower, "warning") ||
		strings.Contains(lower, "exception")
}

// isPortInUseLine reports whether a stderr line indicates the analyzer could
// not bind its port.
func isPortInUseLine(line string) bool {
	return strings.Contains(strings.ToLower(line), "address already in use")
}

// isDependencyMissingLine reports whether a stderr line indicates a missing
// python module.
func isDependencyMissingLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "no module named") ||
		strings.Contains(lower, "modulenotfounderror") ||
		strings.Contains(lower, "importerror")
}

// consumeLogLines is the single logging sink for one spawned process. It
// forwards lines to zap (filtering stdout in non-development mode), appends
// stderr to the ring buffer, and reports diagnostic patterns found in stderr.
// It returns when the lines channel is closed.
func consumeLogLines(lines <-chan LogLine, development bool, ring *RingBuffer, port int, onDiagnostic func(*ErrorRecord)) {
	for line := range lines {
		if line.Stream == "stderr" {
			ring.Append(line.Text)

			if onDiagnostic != nil {
				if isPortInUseLine(line.Text) {
					onDiagnostic(NewPortInUseError(port))
				} else if isDependencyMissingLine(line.Text) {
					onDiagnostic(NewDependencyMissingError(line.Text))
				}
			}

			zap.L().Warn("analyzer stderr",
				zap.String("service", line.Service),
				zap.String("line", line.Text))
			continue
		}

		if !development && !importantStdoutLine(line.Text) {
			continue
		}
		zap.L().Info("analyzer stdout",
			zap.String("service", line.Service),
			zap.String("line", line.Text))
	}
}
