package agentloop

import (
	"context"

	"patchloop/actionlog"
	"patchloop/inference"
	"patchloop/tooling"
	"patchloop/workspace"
)

// WorkflowConfig sets the budgets and model for the two-phase run.
type WorkflowConfig struct {
	Model              string
	FixSteps           int
	FixKeepRecent      int
	TestFindSteps      int
	TestFindKeepRecent int
}

// FixWorkflow runs test discovery and then the fixing loop against one
// workspace, producing the final git patch.
type FixWorkflow struct {
	rc     RunContext
	client *inference.Client
	ws     *workspace.Workspace
	cfg    WorkflowConfig
}

// NewFixWorkflow wires a workflow over the given inference client and
// workspace.
func NewFixWorkflow(rc RunContext, client *inference.Client, ws *workspace.Workspace, cfg WorkflowConfig) *FixWorkflow {
	return &FixWorkflow{rc: rc, client: client, ws: ws, cfg: cfg}
}

// Run executes both phases and returns the patch. The patch may be
// empty; it is never an error trace.
func (f *FixWorkflow) Run(ctx context.Context, problem string) string {
	f.rc.Events.Emit(EventRunStart, map[string]any{"model": f.cfg.Model})
	f.rc.Logger.Info("run starting", "model", f.cfg.Model)

	discovery := f.discoverTests(ctx, problem)
	f.rc.Logger.Info("test discovery done", "reason", string(discovery.Reason),
		"steps", discovery.Steps, "tests", len(f.ws.TestFuncNames()))

	fix := f.fixBug(ctx, problem, f.ws.TestFuncNames())
	f.rc.Logger.Info("fix loop done", "reason", string(fix.Reason), "steps", fix.Steps)

	patch := f.ws.FinalPatch()
	if checkpoint := f.ws.Checkpoint(); checkpoint != "" {
		f.rc.Events.Emit(EventCheckpoint, map[string]any{"bytes": len(checkpoint)})
	}
	f.rc.Events.Emit(EventRunEnd, map[string]any{
		"reason":      string(fix.Reason),
		"patch_bytes": len(patch),
	})
	return patch
}

// discoverTests runs the test discovery subloop. Its only durable
// output is the test name list recorded on the workspace.
func (f *FixWorkflow) discoverTests(ctx context.Context, problem string) Outcome {
	registry := tooling.NewRegistry()
	if err := f.ws.RegisterTestFindTools(registry); err != nil {
		f.rc.Logger.Error("test discovery tool registration failed", "error", err)
		return Outcome{Reason: StopInference}
	}
	return f.runPhase(ctx, registry, LoopConfig{
		System:     TestFindSystemPrompt(registry.Docs()),
		Instance:   TestFindInstancePrompt(problem),
		Model:      f.cfg.Model,
		MaxSteps:   f.cfg.TestFindSteps,
		FinishTool: workspace.TestFindFinishTool,
	}, f.cfg.TestFindKeepRecent)
}

// fixBug runs the main loop with the discovered test names in the
// instance prompt.
func (f *FixWorkflow) fixBug(ctx context.Context, problem string, testNames []string) Outcome {
	registry := tooling.NewRegistry()
	if err := f.ws.RegisterFixTools(registry); err != nil {
		f.rc.Logger.Error("fix tool registration failed", "error", err)
		return Outcome{Reason: StopInference}
	}
	return f.runPhase(ctx, registry, LoopConfig{
		System:     FixSystemPrompt(registry.Docs()),
		Instance:   FixInstancePrompt(problem, testNames),
		Model:      f.cfg.Model,
		MaxSteps:   f.cfg.FixSteps,
		FinishTool: workspace.FinishTool,
	}, f.cfg.FixKeepRecent)
}

func (f *FixWorkflow) runPhase(ctx context.Context, registry *tooling.Registry, cfg LoopConfig, keepRecent int) Outcome {
	// Each phase gets its own client copy bound to its registry, so the
	// parser's positional recovery sees that phase's tool parameters.
	client := *f.client
	client.RequiredParams = registry.RequiredParams

	dispatcher := tooling.NewDispatcher(registry, f.rc.Logger)
	log := actionlog.New(keepRecent)
	loop := NewLoop(f.rc, &client, dispatcher, log, cfg)
	return loop.Run(ctx)
}
