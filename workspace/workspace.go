// Package workspace exposes the checked-out repository to the agent as
// a set of tools: bounded reads, guarded writes and edits, searches,
// code execution, test runs and git patch extraction. All mutating
// operations funnel through Python syntax vetting, and code edits are
// gated behind an explicit solution approval step.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"patchloop/fault"
)

// DefaultCommandTimeout bounds a single subprocess run.
const DefaultCommandTimeout = 60 * time.Second

// readLineLimit bounds full-file reads shown to the model.
const readLineLimit = 5000

// Workspace owns the repository directory and the run-scoped tool state.
type Workspace struct {
	Dir            string
	PythonBin      string
	TestRunner     string // alternate runner command, "" or "pytest" for none
	TestRunnerMode string // "FILE" or "MODULE"
	CommandTimeout time.Duration

	// VetPython checks content for Python syntax errors. Overridable
	// for tests; the default shells out to the interpreter.
	VetPython func(content string) error

	logger *slog.Logger

	mu              sync.Mutex
	approved        bool
	generatedTests  map[string]bool
	failedWatermark int
	checkpoint      string
	testFuncNames   []string
}

// New creates a Workspace rooted at dir.
func New(dir string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	ws := &Workspace{
		Dir:             dir,
		PythonBin:       "python",
		TestRunnerMode:  "FILE",
		CommandTimeout:  DefaultCommandTimeout,
		logger:          logger,
		generatedTests:  make(map[string]bool),
		failedWatermark: -1,
	}
	ws.VetPython = ws.vetWithInterpreter
	return ws
}

func (w *Workspace) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.Dir, path)
}

// Approved reports whether the solution approval gate is open.
func (w *Workspace) Approved() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.approved
}

// TestFuncNames returns the test names recorded by the test discovery
// workflow's terminal tool.
func (w *Workspace) TestFuncNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.testFuncNames...)
}

// Checkpoint returns the last progress checkpoint patch, or "".
func (w *Workspace) Checkpoint() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkpoint
}

func (w *Workspace) trackGenerated(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.generatedTests[path] = true
}

func (w *Workspace) isGenerated(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generatedTests[path]
}

// run executes a command in the repo dir with a timeout and returns
// combined output plus whether the command timed out.
func (w *Workspace) run(timeout time.Duration, name string, args ...string) (output string, timedOut bool, err error) {
	if timeout <= 0 {
		timeout = w.CommandTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = w.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return out.String(), true, nil
	}
	return out.String(), false, err
}

// runShell executes a shell command line in the repo dir.
func (w *Workspace) runShell(timeout time.Duration, command string) (string, bool, error) {
	return w.run(timeout, "bash", "-c", command)
}

// vetWithInterpreter writes the content to a scratch file and asks the
// Python interpreter to compile it. The parse error comes back verbatim
// so the model sees the same message a developer would.
func (w *Workspace) vetWithInterpreter(content string) error {
	tmp, err := os.CreateTemp("", "vet-*.py")
	if err != nil {
		return fault.Wrap(fault.RuntimeError, err, "creating scratch file for syntax check")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fault.Wrap(fault.RuntimeError, err, "writing scratch file for syntax check")
	}
	tmp.Close()

	output, timedOut, err := w.run(w.CommandTimeout, w.PythonBin, "-m", "py_compile", tmp.Name())
	if timedOut {
		return fault.New(fault.Timeout, "syntax check timed out")
	}
	if err != nil {
		return fault.New(fault.SyntaxError, "Syntax error. %s", strings.TrimSpace(output))
	}
	return nil
}

// saveVetted syntax-checks and writes a Python file.
func (w *Workspace) saveVetted(path, content string) (string, error) {
	if err := w.VetPython(content); err != nil {
		if fault.KindOf(err) == fault.SyntaxError {
			return "", fault.New(fault.SyntaxError, "Error saving file. %s", err.Error())
		}
		return "", err
	}
	resolved := w.resolve(path)
	if dir := filepath.Dir(resolved); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fault.Wrap(fault.InvalidFilePath, err, "creating directory for %s", path)
		}
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return "", fault.Wrap(fault.RuntimeError, err, "writing %s", path)
	}
	return fmt.Sprintf("File %s saved successfully", path), nil
}

// limitLines bounds text to its first n lines, noting what was elided.
func limitLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n...(%d more lines)", len(lines)-n)
}

// boundOutput keeps the head and tail of oversized command output.
func boundOutput(s string) string {
	if len(s) <= 20000 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= 500 {
		return s
	}
	return strings.Join(lines[:400], "\n") +
		fmt.Sprintf("\n... (%d lines omitted) ...\n", len(lines)-500) +
		strings.Join(lines[len(lines)-100:], "\n")
}
