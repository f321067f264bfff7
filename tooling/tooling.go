// Package tooling holds the tool surface the model can call: parameter
// schemas, a registry enforcing documentation completeness, and a
// dispatcher that converts every failure into an observation string.
package tooling

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Func executes a tool against its parsed arguments and returns the
// observation text.
type Func func(args map[string]any) (string, error)

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"-"`
}

// Spec describes a tool for the model. Order lists every parameter in
// declared order; the parser's positional recovery depends on it.
type Spec struct {
	Name        string
	Description string
	Params      map[string]ParamSpec
	Order       []string
}

// RequiredParams returns the required parameter names in declared order.
func (s Spec) RequiredParams() []string {
	var required []string
	for _, name := range s.Order {
		if s.Params[name].Required {
			required = append(required, name)
		}
	}
	return required
}

// schema renders the spec as the input_schema JSON object the system
// prompt embeds. Properties keep their declared order.
func (s Spec) schema() string {
	var props strings.Builder
	for i, name := range s.Order {
		if i > 0 {
			props.WriteString(",")
		}
		key, _ := json.Marshal(name)
		val, _ := json.Marshal(s.Params[name])
		props.Write(key)
		props.WriteString(":")
		props.Write(val)
	}
	required, _ := json.Marshal(s.RequiredParams())
	if s.RequiredParams() == nil {
		required = []byte("[]")
	}
	name, _ := json.Marshal(s.Name)
	desc, _ := json.Marshal(s.Description)
	return fmt.Sprintf(`{"name":%s,"description":%s,"input_schema":{"type":"object","properties":{%s},"required":%s}}`,
		name, desc, props.String(), required)
}

type registered struct {
	spec Spec
	fn   Func
}

// Registry holds the registered tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register adds a tool. It fails when a declared parameter lacks a
// description, when a parameter is missing from Order, or when the name
// is already taken. This runs at startup, before the model ever sees
// the tool list.
func (r *Registry) Register(spec Spec, fn Func) error {
	if spec.Name == "" {
		return fmt.Errorf("tool spec has no name")
	}
	if len(spec.Order) != len(spec.Params) {
		return fmt.Errorf("tool %s: Order lists %d parameters, Params declares %d",
			spec.Name, len(spec.Order), len(spec.Params))
	}
	for _, name := range spec.Order {
		p, ok := spec.Params[name]
		if !ok {
			return fmt.Errorf("tool %s: parameter %s in Order but not in Params", spec.Name, name)
		}
		if p.Description == "" {
			return fmt.Errorf("tool %s: parameter %s has no description", spec.Name, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	r.tools[spec.Name] = &registered{spec: spec, fn: fn}
	r.order = append(r.order, spec.Name)
	return nil
}

// MustRegister panics on a registration error.
func (r *Registry) MustRegister(spec Spec, fn Func) {
	if err := r.Register(spec, fn); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(name string) (*registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}

// Get returns a tool's spec by name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Spec{}, false
	}
	return reg.spec, true
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// RequiredParams returns the named tool's required parameters in
// declared order, or nil for an unknown tool. Its signature matches
// what protocol.Parse expects.
func (r *Registry) RequiredParams(name string) []string {
	spec, ok := r.Get(name)
	if !ok {
		return nil
	}
	return spec.RequiredParams()
}

// Docs renders every tool schema, one JSON object per tool, separated
// by blank lines, in registration order.
func (r *Registry) Docs() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parts := make([]string, 0, len(r.order))
	for _, name := range r.order {
		parts = append(parts, r.tools[name].spec.schema())
	}
	return strings.Join(parts, "\n\n")
}
