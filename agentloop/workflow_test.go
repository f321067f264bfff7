package agentloop

import (
	"context"
	"testing"
	"time"

	"patchloop/inference"
	"patchloop/workspace"
)

func TestFixWorkflowPhases(t *testing.T) {
	backend := &scriptedBackend{replies: []string{
		tripletReply("these tests cover the bug", "test_patch_find_finish",
			`{"test_func_names": ["tests/test_mod.py::test_regression"]}`),
		tripletReply("fix is in place", "finish", `{"investigation_summary": "patched"}`),
	}}

	rc := NewRunContext("", time.Hour, nil)
	defer rc.Close()
	if rc.RunID == "" {
		t.Fatal("a run id should be assigned")
	}

	ws := workspace.New(t.TempDir(), rc.Logger)
	ws.VetPython = func(string) error { return nil }

	client := &inference.Client{
		Backend:    backend,
		Models:     []string{"model-a"},
		MaxRetries: 2,
		Backoff:    inference.Backoff{Base: 0.001},
		RunID:      rc.RunID,
	}
	wf := NewFixWorkflow(rc, client, ws, WorkflowConfig{
		Model:              "model-a",
		FixSteps:           10,
		FixKeepRecent:      10,
		TestFindSteps:      10,
		TestFindKeepRecent: 10,
	})

	patch := wf.Run(context.Background(), "the widget crashes on empty input")
	if patch != "" {
		t.Errorf("no edits were made, expected an empty patch, got %d bytes", len(patch))
	}

	names := ws.TestFuncNames()
	if len(names) != 1 || names[0] != "tests/test_mod.py::test_regression" {
		t.Errorf("discovered test names not recorded: %v", names)
	}

	if len(backend.calls) != 2 {
		t.Fatalf("expected one inference call per phase, got %d", len(backend.calls))
	}
	if !conversationContains(backend.calls[0], "test_patch_find_finish") {
		t.Error("discovery phase prompt should document its terminal tool")
	}
	if !conversationContains(backend.calls[1], "tests/test_mod.py::test_regression") {
		t.Error("fix phase prompt should carry the discovered test names")
	}

	kinds := eventKinds(drainEvents(rc))
	if kinds[EventRunStart] != 1 || kinds[EventRunEnd] != 1 {
		t.Errorf("expected run_start and run_end events, got %v", kinds)
	}
}

func TestFixWorkflowDiscoveryCanRunTests(t *testing.T) {
	backend := &scriptedBackend{replies: []string{
		tripletReply("confirm the candidate covers the bug", "run_repo_tests",
			`{"files_to_test": ["tests/test_mod.py"]}`),
		tripletReply("confirmed", "test_patch_find_finish",
			`{"test_func_names": ["tests/test_mod.py::test_regression"]}`),
		tripletReply("fix is in place", "finish", `{"investigation_summary": "patched"}`),
	}}

	rc := NewRunContext("run-3", time.Hour, nil)
	defer rc.Close()
	ws := workspace.New(t.TempDir(), rc.Logger)
	ws.VetPython = func(string) error { return nil }
	ws.PythonBin = "true"

	client := &inference.Client{
		Backend:    backend,
		Models:     []string{"model-a"},
		MaxRetries: 2,
		Backoff:    inference.Backoff{Base: 0.001},
	}
	wf := NewFixWorkflow(rc, client, ws, WorkflowConfig{
		Model:              "model-a",
		FixSteps:           10,
		FixKeepRecent:      10,
		TestFindSteps:      10,
		TestFindKeepRecent: 10,
	})
	wf.Run(context.Background(), "the widget crashes on empty input")

	if len(backend.calls) != 3 {
		t.Fatalf("expected 3 inference calls, got %d", len(backend.calls))
	}
	if conversationContains(backend.calls[1], "does not exist") {
		t.Error("run_repo_tests must be available during discovery")
	}
	names := ws.TestFuncNames()
	if len(names) != 1 || names[0] != "tests/test_mod.py::test_regression" {
		t.Errorf("discovered test names not recorded: %v", names)
	}
}

func TestFixWorkflowNoTestsFound(t *testing.T) {
	backend := &scriptedBackend{replies: []string{
		// Discovery burns its whole budget without finishing.
		tripletReply("still looking", "search_in_all_files_content", `{"search_term": "widget"}`),
	}}

	rc := NewRunContext("run-2", time.Hour, nil)
	defer rc.Close()
	ws := workspace.New(t.TempDir(), rc.Logger)
	ws.VetPython = func(string) error { return nil }

	client := &inference.Client{
		Backend:    backend,
		Models:     []string{"model-a"},
		MaxRetries: 2,
		Backoff:    inference.Backoff{Base: 0.001},
	}
	wf := NewFixWorkflow(rc, client, ws, WorkflowConfig{
		Model:              "model-a",
		FixSteps:           1,
		FixKeepRecent:      5,
		TestFindSteps:      2,
		TestFindKeepRecent: 5,
	})

	patch := wf.Run(context.Background(), "something is broken")
	if patch != "" {
		t.Errorf("expected an empty patch, got %d bytes", len(patch))
	}
	if len(ws.TestFuncNames()) != 0 {
		t.Error("no test names should be recorded when discovery does not finish")
	}
	if !conversationContains(backend.calls[len(backend.calls)-1], "locate them yourself") {
		t.Error("fix phase prompt should note that no tests were found")
	}
}
