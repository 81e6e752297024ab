// Package llm provides generation providers and the model fallback router.
package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/config"
)

// Provider is a generation backend. Generate targets one model; the router
// drives it across the candidate list. ListModels queries the provider's live
// catalog and is only consulted when every candidate has failed.
type Provider interface {
	Name() string
	BuildPrompt(userMessage, objective, retrievedContext string) string
	Generate(ctx context.Context, model, prompt string) (string, error)
	Candidates() []string
	ListModels(ctx context.Context) ([]string, error)
}

// New selects a provider from the tagged configuration enum. Unrecognized
// values fall back to Gemini; an unset provider has already been defaulted to
// Ollama by the config layer.
func New(cfg *config.LLMConfig, logger *zap.Logger) *Router {
	var p Provider
	switch strings.ToLower(cfg.Provider) {
	case "hf", "huggingface":
		p = NewHFClient(cfg)
	case "ollama":
		p = NewOllamaClient(cfg)
	default:
		p = NewGeminiClient(cfg)
	}
	return NewRouter(p, logger)
}

// joinPromptParts composes a prompt from its non-empty parts, blank-line separated.
func joinPromptParts(parts []string) string {
	return strings.Join(parts, "\n\n")
}

// dedupe returns names with empty strings and duplicates removed, order preserved.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// httpStatusError formats a non-2xx provider response as an error.
func httpStatusError(provider string, status int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Errorf("%s: status %d: %s", provider, status, body)
}
