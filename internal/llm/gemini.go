package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/manabu/internal/config"
)

const defaultGeminiBase = "https://generativelanguage.googleapis.com/v1beta"

// geminiFallbacks are known-good models tried after the configured one.
var geminiFallbacks = []string{
	"gemini-1.5-flash",
	"gemini-1.5-flash-8b",
	"gemini-1.5-flash-latest",
}

// GeminiClient generates text through the Gemini REST API.
type GeminiClient struct {
	baseURL   string
	apiKey    string
	model     string
	fallbacks []string
	client    *http.Client
}

// NewGeminiClient creates a Gemini client from config. Host overrides the API
// base URL, which tests use to point at a local server.
func NewGeminiClient(cfg *config.LLMConfig) *GeminiClient {
	base := cfg.Host
	if base == "" {
		base = defaultGeminiBase
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash-8b"
	}
	fallbacks := cfg.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = geminiFallbacks
	}
	return &GeminiClient{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		model:     model,
		fallbacks: fallbacks,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the provider identifier.
func (c *GeminiClient) Name() string { return "gemini" }

// BuildPrompt composes the prompt from objective, retrieved context, and the
// user message, with study-guidance instructions appended last.
func (c *GeminiClient) BuildPrompt(userMessage, objective, retrievedContext string) string {
	parts := make([]string, 0, 4)
	if objective != "" {
		parts = append(parts, "Objective: "+objective)
	}
	if retrievedContext != "" {
		parts = append(parts, "Context sources:\n"+retrievedContext)
	}
	parts = append(parts, "User:\n"+userMessage)
	parts = append(parts, "Instructions: Provide clear, concise study guidance with examples. Offer pacing and short breaks if stress is high. Keep response under 300 words.")
	return joinPromptParts(parts)
}

// Candidates returns the configured model followed by the fallback models.
func (c *GeminiClient) Candidates() []string {
	return append([]string{c.model}, c.fallbacks...)
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate calls models/{model}:generateContent and returns the first
// candidate's text.
func (c *GeminiClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
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
		return "", httpStatusError("gemini", resp.StatusCode, string(payload))
	}
	var out geminiResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("gemini: parse response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: empty response for model %s", model)
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

type geminiModelList struct {
	Models []struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
}

// ListModels queries the live catalog and returns the names of models that
// support generateContent. The catalog reports resource names like
// "models/gemini-1.5-flash"; the prefix is stripped so the returned names can
// be passed straight to Generate.
func (c *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("%s/models?key=%s", c.baseURL, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
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
		return nil, httpStatusError("gemini", resp.StatusCode, string(payload))
	}
	var out geminiModelList
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("gemini: parse model list: %w", err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		for _, method := range m.SupportedGenerationMethods {
			if method == "generateContent" {
				names = append(names, strings.TrimPrefix(m.Name, "models/"))
				break
			}
		}
	}
	return names, nil
}
