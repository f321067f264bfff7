package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"patchloop/fault"
	"patchloop/testreport"
	"patchloop/tooling"
)

// newTestWorkspace returns a workspace over a scratch dir with syntax
// vetting stubbed out.
func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws := New(t.TempDir(), nil)
	ws.VetPython = func(content string) error { return nil }
	return ws
}

func writeRepoFile(t *testing.T, ws *Workspace, path, content string) {
	t.Helper()
	full := filepath.Join(ws.Dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestReadFile(t *testing.T) {
	ws := newTestWorkspace(t)
	writeRepoFile(t, ws, "pkg/mod.py", "line one\nline two\nline three\nline four\n")

	t.Run("whole file", func(t *testing.T) {
		got, err := ws.readFile("pkg/mod.py", 0, 0, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(got, "line three") {
			t.Errorf("missing content: %q", got)
		}
	})

	t.Run("line range", func(t *testing.T) {
		got, err := ws.readFile("pkg/mod.py", 2, 3, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(got, "Lines 2-3 of pkg/mod.py:") {
			t.Errorf("unexpected header: %q", got)
		}
		if strings.Contains(got, "line one") || !strings.Contains(got, "line two") {
			t.Errorf("wrong slice: %q", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ws.readFile("no/such.py", 0, 0, "")
		if fault.KindOf(err) != fault.FileNotFound {
			t.Errorf("expected FILE_NOT_FOUND, got %v", err)
		}
	})

	t.Run("search term delegates to file search", func(t *testing.T) {
		got, err := ws.readFile("pkg/mod.py", 0, 0, "line two")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(got, "2 | line two") {
			t.Errorf("expected numbered match, got %q", got)
		}
	})
}

func TestSaveFileRejectsTestPaths(t *testing.T) {
	ws := newTestWorkspace(t)
	for _, path := range []string{"test_bug.py", "tests/check.py", "reproduce_issue.py"} {
		if _, err := ws.saveFile(path, "x = 1\n"); fault.KindOf(err) != fault.InvalidToolCall {
			t.Errorf("%s: expected INVALID_TOOL_CALL, got %v", path, err)
		}
	}
	if _, err := ws.saveFile("pkg/feature.py", "x = 1\n"); err != nil {
		t.Errorf("ordinary path should save, got %v", err)
	}
}

func TestSaveFileVets(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.VetPython = func(content string) error {
		return fault.New(fault.SyntaxError, "Syntax error. invalid syntax (line 1)")
	}
	_, err := ws.saveFile("pkg/feature.py", "def broken(:\n")
	if fault.KindOf(err) != fault.SyntaxError {
		t.Fatalf("expected SYNTAX_ERROR, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(ws.Dir, "pkg/feature.py")); statErr == nil {
		t.Error("file should not be written when vetting fails")
	}
}

func TestApplyCodeEdit(t *testing.T) {
	ws := newTestWorkspace(t)
	writeRepoFile(t, ws, "mod.py", "a = 1\nb = 2\nb = 2\nc = 3\n")

	t.Run("requires approval", func(t *testing.T) {
		_, err := ws.applyCodeEdit("mod.py", "a = 1", "a = 10")
		if fault.KindOf(err) != fault.ApprovalRequired {
			t.Fatalf("expected APPROVAL_REQUIRED, got %v", err)
		}
	})

	if _, err := ws.approveSolution([]string{"Solution 1: fix a", "Solution 2: fix b"}, 0, "simpler"); err != nil {
		t.Fatalf("approval failed: %v", err)
	}

	t.Run("no match", func(t *testing.T) {
		_, err := ws.applyCodeEdit("mod.py", "missing text", "x")
		if fault.KindOf(err) != fault.SearchTermNotFound {
			t.Errorf("expected SEARCH_TERM_NOT_FOUND, got %v", err)
		}
	})

	t.Run("multiple matches", func(t *testing.T) {
		_, err := ws.applyCodeEdit("mod.py", "b = 2", "b = 20")
		if fault.KindOf(err) != fault.MultipleMatches {
			t.Fatalf("expected MULTIPLE_MATCHES, got %v", err)
		}
		if !strings.Contains(err.Error(), "2 times") {
			t.Errorf("error should carry the hit count, got %q", err.Error())
		}
	})

	t.Run("single match applies", func(t *testing.T) {
		obs, err := ws.applyCodeEdit("mod.py", "a = 1", "a = 10")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if obs != "ok, code edit applied successfully" {
			t.Errorf("unexpected observation: %q", obs)
		}
		data, _ := os.ReadFile(filepath.Join(ws.Dir, "mod.py"))
		if !strings.Contains(string(data), "a = 10") {
			t.Error("edit not written")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ws.applyCodeEdit("ghost.py", "a", "b")
		if fault.KindOf(err) != fault.FileNotFound {
			t.Errorf("expected FILE_NOT_FOUND, got %v", err)
		}
	})
}

func TestApproveSolution(t *testing.T) {
	t.Run("rejects single solution", func(t *testing.T) {
		ws := newTestWorkspace(t)
		_, err := ws.approveSolution([]string{"only one idea"}, 0, "")
		if fault.KindOf(err) != fault.InvalidToolCall {
			t.Errorf("expected INVALID_TOOL_CALL, got %v", err)
		}
		if ws.Approved() {
			t.Error("gate should stay closed")
		}
	})

	t.Run("accepts enumerated single string", func(t *testing.T) {
		ws := newTestWorkspace(t)
		obs, err := ws.approveSolution([]string{"Solution 1: do A. Solution 2: do B."}, 1, "B is local")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if obs != "Approved" || !ws.Approved() {
			t.Errorf("expected approval, got %q approved=%v", obs, ws.Approved())
		}
	})
}

func TestSearchAllFiles(t *testing.T) {
	ws := newTestWorkspace(t)
	writeRepoFile(t, ws, "pkg/a.py", "def target_func():\n    pass\n")
	writeRepoFile(t, ws, "tests/test_a.py", "def target_func_test():\n    pass\n")
	writeRepoFile(t, ws, "docs/conf.py", "target_func = None\n")

	got, err := ws.searchAllFiles("target_func", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "pkg/a.py:1") {
		t.Errorf("expected match with line number, got %q", got)
	}
	if strings.Contains(got, "tests/") || strings.Contains(got, "docs/") {
		t.Errorf("test and docs paths should be excluded, got %q", got)
	}

	_, err = ws.searchAllFiles("definitely_absent_symbol", false)
	if fault.KindOf(err) != fault.SearchTermNotFound {
		t.Errorf("expected SEARCH_TERM_NOT_FOUND, got %v", err)
	}
}

func TestSearchInFile(t *testing.T) {
	ws := newTestWorkspace(t)
	writeRepoFile(t, ws, "m.py", "import os\n\ndef handler(event):\n    return os.getcwd()\n")

	got, err := ws.searchInFile("m.py", "def handler")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "3 | def handler(event):") {
		t.Errorf("unexpected match output: %q", got)
	}

	if _, err := ws.searchInFile("m.txt", "x"); fault.KindOf(err) != fault.InvalidFilePath {
		t.Errorf("non-python file should be rejected, got %v", err)
	}
	if _, err := ws.searchInFile("m.py", "absent"); fault.KindOf(err) != fault.SearchTermNotFound {
		t.Errorf("expected SEARCH_TERM_NOT_FOUND, got %v", err)
	}
}

func TestThirdPartyImports(t *testing.T) {
	ws := newTestWorkspace(t)
	writeRepoFile(t, ws, "localmod.py", "x = 1\n")
	writeRepoFile(t, ws, "pkgmod/__init__.py", "")

	code := "import os\nimport localmod\nfrom pkgmod import thing\nimport numpy\nfrom requests import get\n"
	mods := ws.thirdPartyImports(code)
	if len(mods) != 2 {
		t.Fatalf("expected numpy and requests flagged, got %v", mods)
	}
	for _, m := range mods {
		if m != "numpy" && m != "requests" {
			t.Errorf("unexpected module flagged: %q", m)
		}
	}
}

func TestRecordProgress(t *testing.T) {
	ws := newTestWorkspace(t)

	// First observation seeds the watermark silently.
	if note := ws.recordProgress(testreport.Verdict{FailedCount: 5}); note != "" {
		t.Errorf("first run should not note progress, got %q", note)
	}
	// No improvement, no note.
	if note := ws.recordProgress(testreport.Verdict{FailedCount: 5}); note != "" {
		t.Errorf("flat failure count should not note progress, got %q", note)
	}
	// Strict decrease notes the delta.
	note := ws.recordProgress(testreport.Verdict{FailedCount: 2})
	if !strings.Contains(note, "You resolved 3 failures.") {
		t.Errorf("unexpected note: %q", note)
	}
	// Reaching zero congratulates.
	note = ws.recordProgress(testreport.Verdict{FailedCount: 0})
	if !strings.Contains(note, "Congratulations") {
		t.Errorf("unexpected note: %q", note)
	}
}

func TestModuleName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"tests/queries/test_bulk.py", "queries.test_bulk"},
		{"./pkg/test_a.py", "pkg.test_a"},
		{"pkg/test_a.py::TestCase::test_one", "pkg.test_a"},
		{"already.module.name", "already.module.name"},
	}
	for _, tt := range tests {
		if got := moduleName(tt.in); got != tt.want {
			t.Errorf("moduleName(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestLimitLines(t *testing.T) {
	long := strings.Repeat("x\n", 10)
	got := limitLines(long, 3)
	if !strings.Contains(got, "(8 more lines)") {
		t.Errorf("unexpected truncation note: %q", got)
	}
	short := "a\nb"
	if limitLines(short, 3) != short {
		t.Error("short input should pass through unchanged")
	}
}

func TestRegisterFixTools(t *testing.T) {
	ws := newTestWorkspace(t)
	r := tooling.NewRegistry()
	if err := ws.RegisterFixTools(r); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	for _, name := range []string{
		"get_file_content", "search_in_all_files_content", "search_in_specified_file",
		"save_file", "apply_code_edit", "get_approval_for_solution",
		"run_code", "run_repo_tests", "finish",
	} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("tool %s not registered", name)
		}
	}

	got := r.RequiredParams("apply_code_edit")
	want := []string{"file_path", "search", "replace"}
	if len(got) != len(want) {
		t.Fatalf("unexpected required params: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("required param %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestRegisterTestFindTools(t *testing.T) {
	ws := newTestWorkspace(t)
	r := tooling.NewRegistry()
	if err := ws.RegisterTestFindTools(r); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if _, ok := r.Get(TestFindFinishTool); !ok {
		t.Fatal("terminal tool not registered")
	}
	// Discovery can run candidate tests to confirm they cover the bug.
	if _, ok := r.Get("run_repo_tests"); !ok {
		t.Fatal("run_repo_tests not registered for discovery")
	}

	d := tooling.NewDispatcher(r, nil)
	obs, isError := d.Invoke(TestFindFinishTool, map[string]any{
		"test_func_names": []any{"tests/test_a.py::test_one", "tests/test_a.py::test_two"},
	})
	if isError || obs != "finish" {
		t.Fatalf("unexpected result: %q (error=%v)", obs, isError)
	}
	names := ws.TestFuncNames()
	if len(names) != 2 || names[0] != "tests/test_a.py::test_one" {
		t.Errorf("unexpected recorded names: %v", names)
	}
}

func TestDispatchApplyCodeEditEndToEnd(t *testing.T) {
	ws := newTestWorkspace(t)
	writeRepoFile(t, ws, "mod.py", "value = compute(1)\n")

	r := tooling.NewRegistry()
	if err := ws.RegisterFixTools(r); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	d := tooling.NewDispatcher(r, nil)

	obs, isError := d.Invoke("apply_code_edit", map[string]any{
		"file_path": "mod.py", "search": "compute(1)", "replace": "compute(2)",
	})
	if !isError || !strings.Contains(obs, "APPROVAL_REQUIRED") {
		t.Fatalf("expected approval gate observation, got %q", obs)
	}

	obs, isError = d.Invoke("get_approval_for_solution", map[string]any{
		"solutions":            []any{"Solution 1: change the constant", "Solution 2: change the caller"},
		"selected_solution":    float64(0),
		"reason_for_selection": "smaller blast radius",
	})
	if isError || obs != "Approved" {
		t.Fatalf("expected approval, got %q (error=%v)", obs, isError)
	}

	obs, isError = d.Invoke("apply_code_edit", map[string]any{
		"file_path": "mod.py", "search": "compute(1)", "replace": "compute(2)",
	})
	if isError || obs != "ok, code edit applied successfully" {
		t.Fatalf("expected edit to apply, got %q (error=%v)", obs, isError)
	}

	if d.Failures()["apply_code_edit"][fault.ApprovalRequired] != 1 {
		t.Errorf("unexpected failure counts: %v", d.Failures())
	}
}
