package bridge

import (
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scamshieldTesting "github.com/scamshield/scamshield/internal/testing"
)

// shRuntimeCommand runs the analyzer "script" through /bin/sh so tests can
// exercise real process lifecycles without a python interpreter.
func shRuntimeCommand() *RuntimeCommand {
	return &RuntimeCommand{Name: "sh", Path: "/bin/sh"}
}

// spawnScript writes a shell script and spawns it through the supervisor.
func spawnScript(t *testing.T, script string, onDiagnostic func(*ErrorRecord)) (*ProcessSupervisor, *ProcessHandle) {
	t.Helper()

	dir := t.TempDir()
	path, err := scamshieldTesting.WriteScript(dir, "analyzer.sh", script)
	require.NoError(t, err)

	svc := scamshieldTesting.NewTestServiceConfig("fraud-detector", 8000)
	svc.Script = path

	ring := NewRingBuffer(StderrRingCapacity)
	supervisor := NewProcessSupervisor(ring, onDiagnostic)

	handle, err := supervisor.Spawn(shRuntimeCommand(), svc)
	require.NoError(t, err)
	return supervisor, handle
}

func waitForExit(t *testing.T, handle *ProcessHandle) {
	t.Helper()
	select {
	case <-handle.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit in time")
	}
}

func TestProcessSupervisor_SpawnAndCleanExit(t *testing.T) {
	skipOnWindows(t)

	_, handle := spawnScript(t, "#!/bin/sh\nexit 0\n", nil)
	waitForExit(t, handle)

	code, _, intentional := handle.ExitStatus()
	assert.Equal(t, 0, code)
	assert.True(t, intentional)
	assert.False(t, handle.Alive())
}

func TestProcessSupervisor_CrashIsNotIntentional(t *testing.T) {
	skipOnWindows(t)

	_, handle := spawnScript(t, "#!/bin/sh\nexit 3\n", nil)
	waitForExit(t, handle)

	code, _, intentional := handle.ExitStatus()
	assert.Equal(t, 3, code)
	assert.False(t, intentional)
}

func TestProcessSupervisor_StderrReachesRingAndDiagnostics(t *testing.T) {
	skipOnWindows(t)

	var diagnostics []*ErrorRecord
	supervisor, handle := spawnScript(t,
		"#!/bin/sh\necho \"ModuleNotFoundError: No module named 'flask'\" 1>&2\nexit 1\n",
		func(rec *ErrorRecord) { diagnostics = append(diagnostics, rec) })
	waitForExit(t, handle)

	require.NotEmpty(t, supervisor.ring.Snapshot())
	assert.Contains(t, supervisor.ring.Snapshot()[0], "No module named")

	require.NotEmpty(t, diagnostics)
	assert.Equal(t, ErrorKindDependencyMissing, diagnostics[0].Kind)
}

func TestProcessSupervisor_TerminateGraceful(t *testing.T) {
	skipOnWindows(t)

	supervisor, handle := spawnScript(t, "#!/bin/sh\nsleep 60\n", nil)
	require.True(t, handle.Alive())

	err := supervisor.Terminate(handle, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, handle.Alive())

	_, _, intentional := handle.ExitStatus()
	assert.True(t, intentional, "a signalled stop must not be classified as a crash")
}

func TestProcessSupervisor_TerminateNilHandle(t *testing.T) {
	ring := NewRingBuffer(StderrRingCapacity)
	supervisor := NewProcessSupervisor(ring, nil)
	assert.NoError(t, supervisor.Terminate(nil, time.Second))
}

func TestProcessSupervisor_TerminateAlreadyExited(t *testing.T) {
	skipOnWindows(t)

	supervisor, handle := spawnScript(t, "#!/bin/sh\nexit 0\n", nil)
	waitForExit(t, handle)

	assert.NoError(t, supervisor.Terminate(handle, time.Second))
}

func TestProcessSupervisor_SpawnMissingInterpreter(t *testing.T) {
	svc := scamshieldTesting.NewTestServiceConfig("fraud-detector", 8000)
	svc.Script = "analyzer.py"

	ring := NewRingBuffer(StderrRingCapacity)
	supervisor := NewProcessSupervisor(ring, nil)

	_, err := supervisor.Spawn(&RuntimeCommand{Name: "python3", Path: "/nonexistent/python3"}, svc)
	require.Error(t, err)

	var rec *ErrorRecord
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, ErrorKindSpawnFailed, rec.Kind)
}

func TestClassifyExit(t *testing.T) {
	code, signal, intentional := classifyExit(nil)
	assert.Equal(t, 0, code)
	assert.Empty(t, signal)
	assert.True(t, intentional)

	code, _, intentional = classifyExit(errors.New("wait: no child processes"))
	assert.Equal(t, -1, code)
	assert.False(t, intentional)
}

func TestClassifyExit_RealExitError(t *testing.T) {
	skipOnWindows(t)

	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	err := cmd.Run()
	require.Error(t, err)

	code, _, intentional := classifyExit(err)
	assert.Equal(t, 7, code)
	assert.False(t, intentional)
}
