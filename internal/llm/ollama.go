package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hyperjump/manabu/internal/config"
)

const defaultOllamaHost = "http://127.0.0.1:11434"

// ollamaFallbacks are small local models commonly pulled alongside the default.
var ollamaFallbacks = []string{
	"llama3.2:3b",
	"llama3.2:1b",
}

// OllamaClient generates text through a local Ollama server. Local generation
// can be slow, so the timeout is on the order of minutes.
type OllamaClient struct {
	host      string
	model     string
	fallbacks []string
	client    *http.Client
}

// NewOllamaClient creates an Ollama client from config.
func NewOllamaClient(cfg *config.LLMConfig) *OllamaClient {
	host := cfg.Host
	if host == "" {
		host = defaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2:3b"
	}
	fallbacks := cfg.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = ollamaFallbacks
	}
	return &OllamaClient{
		host:      host,
		model:     model,
		fallbacks: fallbacks,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider identifier.
func (c *OllamaClient) Name() string { return "ollama" }

// BuildPrompt composes the prompt from objective, context, and question, with
// a brief answering instruction appended last.
func (c *OllamaClient) BuildPrompt(userMessage, objective, retrievedContext string) string {
	parts := make([]string, 0, 4)
	if objective != "" {
		parts = append(parts, "Objective: "+objective)
	}
	if retrievedContext != "" {
		parts = append(parts, "Context:\n"+retrievedContext)
	}
	parts = append(parts, "Question:\n"+userMessage)
	parts = append(parts, "Answer clearly and concisely using the context when relevant.")
	return joinPromptParts(parts)
}

// Candidates returns the configured model followed by the fallback models.
func (c *OllamaClient) Candidates() []string {
	return append([]string{c.model}, c.fallbacks...)
}

type ollamaRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// Generate calls POST /api/generate with streaming disabled.
func (c *OllamaClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]interface{}{"temperature": 0.2},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", httpStatusError("ollama", resp.StatusCode, string(payload))
	}
	var out ollamaResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("ollama: parse response: %w", err)
	}
	return out.Response, nil
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of locally available models from GET /api/tags.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpStatusError("ollama", resp.StatusCode, string(payload))
	}
	var out ollamaTags
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("ollama: parse tags: %w", err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
