package tooling

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"patchloop/fault"
)

// Dispatcher routes a parsed tool call to its implementation. Nothing
// escapes Invoke: unknown tools, typed faults, untyped errors and
// panics all come back as observation text the model can read.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger

	mu          sync.Mutex
	invocations map[string]int
	failures    map[string]fault.Counter
}

// NewDispatcher creates a Dispatcher over the registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:    registry,
		logger:      logger,
		invocations: make(map[string]int),
		failures:    make(map[string]fault.Counter),
	}
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Invoke executes the named tool and returns the observation plus
// whether it represents an error.
func (d *Dispatcher) Invoke(name string, args map[string]any) (observation string, isError bool) {
	reg, known := d.registry.lookup(name)
	if known {
		d.mu.Lock()
		d.invocations[name]++
		d.mu.Unlock()
	}

	if !known {
		d.logger.Warn("unknown tool requested", "tool", name)
		return fmt.Sprintf("Error: tool '%s' does not exist. Please use one of the following tools: %s",
			name, strings.Join(d.registry.Names(), ", ")), true
	}

	if missing := missingRequired(reg.spec, args); len(missing) > 0 {
		err := fault.New(fault.InvalidToolCall, "tool %s missing required arguments: %s",
			name, strings.Join(missing, ", "))
		d.recordFailure(name, fault.InvalidToolCall)
		return err.Error(), true
	}

	d.logger.Info("invoking tool", "tool", name, "args", len(args))
	observation, isError = d.call(name, reg.fn, args)
	if isError {
		d.logger.Warn("tool failed", "tool", name, "observation", firstLine(observation))
	}
	return observation, isError
}

// call runs the tool function with panic containment.
func (d *Dispatcher) call(name string, fn Func, args map[string]any) (observation string, isError bool) {
	defer func() {
		if r := recover(); r != nil {
			d.recordFailure(name, fault.Unknown)
			observation = fmt.Sprintf("UNKNOWN: tool %s panicked: %v", name, r)
			isError = true
		}
	}()

	result, err := fn(args)
	if err == nil {
		return result, false
	}

	var ferr *fault.Error
	if errors.As(err, &ferr) {
		d.recordFailure(name, ferr.Kind)
		return err.Error(), true
	}
	d.recordFailure(name, fault.RuntimeError)
	return fault.Wrap(fault.RuntimeError, err, "tool %s failed", name).Error(), true
}

func (d *Dispatcher) recordFailure(name string, kind fault.Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	counter, ok := d.failures[name]
	if !ok {
		counter = fault.NewCounter()
		d.failures[name] = counter
	}
	counter.Add(kind)
}

// Invocations returns a copy of the per-tool call counts.
func (d *Dispatcher) Invocations() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.invocations))
	for k, v := range d.invocations {
		out[k] = v
	}
	return out
}

// Failures returns a copy of the per-tool failure histograms.
func (d *Dispatcher) Failures() map[string]fault.Counter {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]fault.Counter, len(d.failures))
	for name, counter := range d.failures {
		clone := fault.NewCounter()
		clone.Merge(counter)
		out[name] = clone
	}
	return out
}

func missingRequired(spec Spec, args map[string]any) []string {
	var missing []string
	for _, p := range spec.RequiredParams() {
		if _, ok := args[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
