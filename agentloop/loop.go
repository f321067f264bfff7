package agentloop

import (
	"context"

	"patchloop/actionlog"
	"patchloop/inference"
	"patchloop/tooling"
)

// StopReason says why a loop run ended.
type StopReason string

const (
	StopFinish    StopReason = "finish"
	StopBudget    StopReason = "step_budget"
	StopDeadline  StopReason = "deadline"
	StopInference StopReason = "inference_error"
	StopCanceled  StopReason = "canceled"
)

// Outcome summarizes a loop run.
type Outcome struct {
	Reason StopReason
	Steps  int
}

// LoopConfig holds the per-run prompt and budget settings.
type LoopConfig struct {
	System     string
	Instance   string
	Model      string
	MaxSteps   int
	FinishTool string
}

// Loop is the step driver: render, infer, dispatch, append, repeat.
type Loop struct {
	rc         RunContext
	client     *inference.Client
	dispatcher *tooling.Dispatcher
	log        *actionlog.Log
	cfg        LoopConfig
}

// NewLoop assembles a loop over the given client, dispatcher and action log.
func NewLoop(rc RunContext, client *inference.Client, dispatcher *tooling.Dispatcher, log *actionlog.Log, cfg LoopConfig) *Loop {
	return &Loop{
		rc:         rc,
		client:     client,
		dispatcher: dispatcher,
		log:        log,
		cfg:        cfg,
	}
}

// renderMessages rebuilds the full conversation for one inference step.
func (l *Loop) renderMessages(repeated bool) []inference.Message {
	messages := []inference.Message{
		inference.SystemMessage(l.cfg.System),
		inference.UserMessage(l.cfg.Instance),
	}
	messages = append(messages, l.log.Render()...)

	closing := stopInstruction
	if repeated {
		closing = repeatDirective + "\n\n" + closing
	}
	return append(messages, inference.UserMessage(closing))
}

// Run executes steps until the model finishes, a budget runs out, or
// inference gives up. Failures never propagate as Go errors; the run
// just stops and the caller extracts whatever patch exists.
func (l *Loop) Run(ctx context.Context) Outcome {
	repeated := false

	for step := 0; step < l.cfg.MaxSteps; step++ {
		if l.rc.Expired() {
			l.rc.Logger.Warn("global deadline expired", "step", step)
			l.rc.Events.Emit(EventTimeout, map[string]any{"step": step})
			l.log.Append(actionlog.Action{
				Thought:     "The global timeout expired before the task was complete.",
				Observation: []string{"ERROR: run timed out."},
				IsError:     true,
			})
			return Outcome{Reason: StopDeadline, Steps: step}
		}
		if ctx.Err() != nil {
			return Outcome{Reason: StopCanceled, Steps: step}
		}

		l.rc.Events.Emit(EventStep, map[string]any{"step": step})

		result, err := l.client.Step(ctx, l.renderMessages(repeated), l.cfg.Model)
		if err != nil {
			l.rc.Logger.Error("inference retries exhausted", "step", step, "error", err)
			l.rc.Events.Emit(EventInference, map[string]any{
				"step":  step,
				"error": err.Error(),
			})
			l.log.Append(actionlog.Action{
				Thought:     "Inference failed and could not be retried further.",
				Observation: []string{err.Error()},
				IsError:     true,
			})
			return Outcome{Reason: StopInference, Steps: step}
		}
		l.rc.Events.Emit(EventInference, map[string]any{
			"step":     step,
			"attempts": result.Attempts,
		})

		triplet := result.Triplet
		observations := make([]string, 0, len(triplet.Names))
		isError := false
		finished := false
		for i, name := range triplet.Names {
			args := map[string]any{}
			if i < len(triplet.Args) && triplet.Args[i] != nil {
				args = triplet.Args[i]
			}
			observation, failed := l.dispatcher.Invoke(name, args)
			observations = append(observations, observation)
			if failed {
				isError = true
			}
			if name == l.cfg.FinishTool && !failed {
				finished = true
			}
			l.rc.Events.Emit(EventToolCall, map[string]any{
				"step":        step,
				"tool":        name,
				"observation": observation,
				"is_error":    failed,
			})
		}

		repeated = l.log.Append(actionlog.Action{
			Thought:     triplet.Thought,
			ToolNames:   triplet.Names,
			ToolArgs:    triplet.Args,
			Observation: observations,
			IsError:     isError,
			RawResponse: result.Raw,
			Attempts:    result.Attempts,
			ErrorCounts: result.Errors,
		})
		if repeated {
			l.rc.Logger.Warn("repeated tool call", "step", step, "tools", triplet.Names)
			l.rc.Events.Emit(EventRepeatWarning, map[string]any{
				"step":  step,
				"tools": triplet.Names,
			})
		}

		if finished {
			return Outcome{Reason: StopFinish, Steps: step + 1}
		}
	}

	return Outcome{Reason: StopBudget, Steps: l.cfg.MaxSteps}
}
