package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Router drives a provider through its ordered candidate models, returning the
// first successful generation. Each attempt either succeeds or its failure is
// recorded and the next candidate is tried; after all candidates fail, the
// provider's live catalog is queried and its first model is attempted. Total
// failure degrades to a sentinel answer string, never an error: generation
// failure must stay visible but non-fatal to the caller.
type Router struct {
	provider Provider
	logger   *zap.Logger // optional; when set, logs per-candidate failures
}

// NewRouter creates a router over provider.
func NewRouter(provider Provider, logger *zap.Logger) *Router {
	return &Router{provider: provider, logger: logger}
}

// Provider returns the underlying provider.
func (r *Router) Provider() Provider {
	return r.provider
}

// BuildPrompt delegates to the provider's prompt composition.
func (r *Router) BuildPrompt(userMessage, objective, retrievedContext string) string {
	return r.provider.BuildPrompt(userMessage, objective, retrievedContext)
}

// GenerateText runs the fallback chain for prompt. The returned string is
// either a model answer or the sentinel "[LLM error] <last failure>".
func (r *Router) GenerateText(ctx context.Context, prompt string) string {
	lastErr := fmt.Errorf("no candidate models configured")
	for _, model := range dedupe(r.provider.Candidates()) {
		text, err := r.provider.Generate(ctx, model, prompt)
		if err == nil {
			return text
		}
		lastErr = err
		if r.logger != nil {
			r.logger.Warn("generation candidate failed",
				zap.String("provider", r.provider.Name()),
				zap.String("model", model),
				zap.Error(err),
			)
		}
	}

	// Last resort: ask the provider which models it actually has and try the
	// first one capable of generation.
	models, err := r.provider.ListModels(ctx)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("model catalog query failed",
				zap.String("provider", r.provider.Name()),
				zap.Error(err),
			)
		}
		return sentinel(lastErr)
	}
	if len(models) > 0 {
		text, err := r.provider.Generate(ctx, models[0], prompt)
		if err == nil {
			return text
		}
		lastErr = err
		if r.logger != nil {
			r.logger.Warn("catalog fallback failed",
				zap.String("provider", r.provider.Name()),
				zap.String("model", models[0]),
				zap.Error(err),
			)
		}
	}
	return sentinel(lastErr)
}

func sentinel(err error) string {
	return fmt.Sprintf("[LLM error] %v", err)
}
