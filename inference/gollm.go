package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"

	"patchloop/fault"
)

// GollmBackend drives a provider directly through gollm when no proxy
// is configured. The agent's conversation is flattened into a single
// prompt because the triplet protocol rides on plain text anyway.
type GollmBackend struct {
	llm gollm.LLM
}

// NewGollmBackend creates a backend for the given provider and model.
// An empty apiKey lets gollm read it from the environment.
func NewGollmBackend(provider, model, apiKey string) (*GollmBackend, error) {
	opts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxRetries(0), // retries are the client's job
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		opts = append(opts, gollm.SetAPIKey(apiKey))
	}

	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gollm LLM for provider %s: %w", provider, err)
	}
	return &GollmBackend{llm: llm}, nil
}

// NewGollmBackendFromLLM wraps an existing gollm.LLM instance.
func NewGollmBackendFromLLM(llm gollm.LLM) *GollmBackend {
	return &GollmBackend{llm: llm}
}

// Complete flattens the conversation into a gollm prompt and generates.
func (b *GollmBackend) Complete(ctx context.Context, req Request) (string, error) {
	var system strings.Builder
	var parts []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system.WriteString(m.Content)
			system.WriteString("\n")
		case RoleUser, RoleTool:
			parts = append(parts, m.Content)
		case RoleAssistant:
			parts = append(parts, "[assistant]: "+m.Content)
		}
	}

	promptOpts := []gollm.PromptOption{}
	if system.Len() > 0 {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(system.String()), gollm.CacheTypeEphemeral))
	}
	prompt := gollm.NewPrompt(strings.Join(parts, "\n"), promptOpts...)

	if req.Model != "" {
		b.llm.SetOption("model", req.Model)
	}
	b.llm.SetOption("temperature", req.Temperature)

	text, err := b.llm.Generate(ctx, prompt)
	if err != nil {
		return "", classifyProviderError(err, req.Model)
	}
	return text, nil
}

// classifyProviderError maps a gollm error to a fault kind based on the
// message content, since gollm surfaces provider failures as strings.
func classifyProviderError(err error, model string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return fault.Wrap(fault.RateLimitExceeded, err, "provider rate limit for model %s", model)
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return fault.Wrap(fault.AuthenticationError, err, "provider auth failure for model %s", model)
	case strings.Contains(msg, "timeout"):
		return fault.Wrap(fault.Timeout, err, "provider timeout for model %s", model)
	case strings.Contains(msg, "context length") || strings.Contains(msg, "too many tokens"):
		return fault.Wrap(fault.ResourceExhausted, err, "context length exceeded for model %s", model)
	default:
		return fault.Wrap(fault.NetworkError, err, "provider request failed for model %s", model)
	}
}
