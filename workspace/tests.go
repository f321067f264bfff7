package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"patchloop/fault"
	"patchloop/testreport"
)

var importLineRe = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// pythonStdlib lists modules that never count as third-party imports.
var pythonStdlib = map[string]bool{
	"__future__": true, "abc": true, "argparse": true, "array": true,
	"ast": true, "asyncio": true, "base64": true, "binascii": true,
	"bisect": true, "builtins": true, "collections": true, "contextlib": true,
	"copy": true, "csv": true, "dataclasses": true, "datetime": true,
	"decimal": true, "enum": true, "errno": true, "fractions": true,
	"functools": true, "gc": true, "glob": true, "gzip": true,
	"hashlib": true, "heapq": true, "importlib": true, "inspect": true,
	"io": true, "itertools": true, "json": true, "logging": true,
	"math": true, "numbers": true, "operator": true, "os": true,
	"pathlib": true, "pickle": true, "platform": true, "queue": true,
	"random": true, "re": true, "shutil": true, "signal": true,
	"socket": true, "statistics": true, "string": true, "struct": true,
	"subprocess": true, "sys": true, "tempfile": true, "textwrap": true,
	"threading": true, "time": true, "traceback": true, "types": true,
	"typing": true, "unicodedata": true, "unittest": true, "uuid": true,
	"warnings": true, "weakref": true, "zlib": true,
}

// thirdPartyImports returns imported top-level modules that are neither
// standard library nor present in the repository.
func (w *Workspace) thirdPartyImports(content string) []string {
	seen := make(map[string]bool)
	var disallowed []string
	for _, m := range importLineRe.FindAllStringSubmatch(content, -1) {
		mod := m[1]
		if seen[mod] || pythonStdlib[mod] {
			continue
		}
		seen[mod] = true
		if w.localModule(mod) {
			continue
		}
		disallowed = append(disallowed, mod)
	}
	return disallowed
}

func (w *Workspace) localModule(mod string) bool {
	for _, candidate := range []string{
		mod + ".py",
		filepath.Join(mod, "__init__.py"),
		mod,
		filepath.Join("lib", mod+".py"),
		filepath.Join("lib", mod, "__init__.py"),
		filepath.Join("lib", mod),
	} {
		if _, err := os.Stat(w.resolve(candidate)); err == nil {
			return true
		}
	}
	return false
}

// runCode saves the content (syntax-vetted, tracked as a generated test
// file) and executes it with the interpreter. Failures are classified
// from stderr.
func (w *Workspace) runCode(content, path string) (string, error) {
	if _, err := w.saveVetted(path, content); err != nil {
		return "", err
	}
	w.trackGenerated(path)

	if mods := w.thirdPartyImports(content); len(mods) > 0 {
		return "", fault.New(fault.ThirdPartyDependency,
			"Error: code imports third party modules not available here: %s", strings.Join(mods, ", "))
	}

	output, timedOut, err := w.run(w.CommandTimeout, w.PythonBin, w.resolve(path))
	if timedOut {
		return "", fault.New(fault.Timeout, "Error: code execution timed out")
	}
	if err != nil {
		kind := fault.RuntimeError
		if strings.Contains(output, "ModuleNotFoundError") {
			kind = fault.ThirdPartyDependency
		} else if strings.Contains(output, "ImportError") {
			kind = fault.ImportError
		}
		return "", fault.New(kind, "Error running code: %s\n", output)
	}
	return output + "\n", nil
}

// runRepoTests executes the repository's tests for the given files and
// analyzes the output. On a dependency failure it retries once with the
// alternate runner. On progress it checkpoints the current git diff.
func (w *Workspace) runRepoTests(files []string, timeoutSecs int) (string, error) {
	timeout := w.CommandTimeout
	if timeoutSecs > 0 {
		timeout = time.Duration(timeoutSecs) * time.Second
	}

	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = fmt.Sprintf("%q", f)
	}
	command := fmt.Sprintf("%s -m pytest -rA --color=no %s", w.PythonBin, strings.Join(quoted, " "))

	out, timedOut, _ := w.runShell(timeout, command)
	if timedOut {
		return "", fault.New(fault.Timeout, "ERROR: tests timed out.")
	}

	verdict := testreport.Analyze(out)
	if verdict.DependencyError && w.hasAlternateRunner() {
		w.logger.Info("dependency error, retrying with alternate runner", "runner", w.TestRunner)
		return w.runAlternate(files, timeout)
	}

	observation := verdict.RawSummary
	observation += w.recordProgress(verdict)
	return observation, nil
}

func (w *Workspace) hasAlternateRunner() bool {
	return w.TestRunner != "" && w.TestRunner != "pytest"
}

// runAlternate invokes the configured repo-specific runner, converting
// file paths to module names when the runner expects them.
func (w *Workspace) runAlternate(files []string, timeout time.Duration) (string, error) {
	targets := files
	if w.TestRunnerMode == "MODULE" {
		targets = make([]string, 0, len(files))
		for _, f := range files {
			if name := moduleName(f); name != "" {
				targets = append(targets, name)
			}
		}
	}

	command := w.TestRunner
	if strings.Contains(command, "manage.py") || strings.Contains(command, "runtests.py") {
		command += " --parallel=1"
	}
	command += " " + strings.Join(targets, " ")

	out, timedOut, _ := w.runShell(timeout, command)
	if timedOut {
		return "", fault.New(fault.Timeout, "ERROR: tests timed out.")
	}
	return boundOutput(out), nil
}

// moduleName converts a test file path into a dotted module name.
func moduleName(path string) string {
	name := strings.TrimSpace(path)
	if i := strings.Index(name, "::"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "tests/")
	name = strings.TrimSuffix(name, ".py")
	return strings.ReplaceAll(name, "/", ".")
}

// recordProgress updates the failure watermark and checkpoints the
// current diff when the failure count strictly decreased. Returns the
// note to append to the observation.
func (w *Workspace) recordProgress(verdict testreport.Verdict) string {
	w.mu.Lock()
	previous := w.failedWatermark
	w.mu.Unlock()

	if previous == -1 {
		w.mu.Lock()
		w.failedWatermark = verdict.FailedCount
		w.mu.Unlock()
		return ""
	}
	if previous <= verdict.FailedCount {
		return ""
	}

	patch := w.gitDiff()
	w.mu.Lock()
	w.failedWatermark = verdict.FailedCount
	if patch != "" {
		w.checkpoint = patch
	}
	w.mu.Unlock()
	w.logger.Info("progress checkpoint", "previous", previous, "failures", verdict.FailedCount)

	if verdict.FailedCount > 0 {
		return fmt.Sprintf("\n\nYou resolved %d failures.", previous-verdict.FailedCount)
	}
	return "\n\nCongratulations! You fixed all failures. Finish the task with `finish` tool."
}
