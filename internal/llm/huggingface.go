package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hyperjump/manabu/internal/config"
)

const (
	defaultHFInferenceBase = "https://api-inference.huggingface.co/models"
	defaultHFHubBase       = "https://huggingface.co"
)

// HFClient generates text through the Hugging Face Inference API.
type HFClient struct {
	inferenceBase string
	hubBase       string
	token         string
	model         string
	fallbacks     []string
	client        *http.Client
}

// NewHFClient creates a Hugging Face client from config. Host overrides both
// the inference and hub base URLs, which tests use to point at a local server.
func NewHFClient(cfg *config.LLMConfig) *HFClient {
	inference := defaultHFInferenceBase
	hub := defaultHFHubBase
	if cfg.Host != "" {
		inference = cfg.Host + "/models"
		hub = cfg.Host
	}
	model := cfg.Model
	if model == "" {
		model = "meta-llama/Meta-Llama-3-8B-Instruct"
	}
	return &HFClient{
		inferenceBase: inference,
		hubBase:       hub,
		token:         cfg.APIKey,
		model:         model,
		fallbacks:     cfg.Fallbacks,
		client:        &http.Client{Timeout: 60 * time.Second},
	}
}

// Name returns the provider identifier.
func (c *HFClient) Name() string { return "huggingface" }

// BuildPrompt composes the prompt with a short context-grounded instruction last.
func (c *HFClient) BuildPrompt(userMessage, objective, retrievedContext string) string {
	parts := make([]string, 0, 4)
	if objective != "" {
		parts = append(parts, "Objective: "+objective)
	}
	if retrievedContext != "" {
		parts = append(parts, "Context sources:\n"+retrievedContext)
	}
	parts = append(parts, "User:\n"+userMessage)
	parts = append(parts, "Instructions: Answer concisely using the provided context when relevant.")
	return joinPromptParts(parts)
}

// Candidates returns the configured model followed by any configured fallbacks.
func (c *HFClient) Candidates() []string {
	return append([]string{c.model}, c.fallbacks...)
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature"`
	DoSample       bool    `json:"do_sample"`
	ReturnFullText bool    `json:"return_full_text"`
}

// Generate calls the hosted text-generation endpoint for model.
func (c *HFClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(hfRequest{
		Inputs: prompt,
		Parameters: hfParameters{
			MaxNewTokens:   256,
			Temperature:    0.2,
			DoSample:       false,
			ReturnFullText: false,
		},
	})
	if err != nil {
		return "", err
	}
	endpoint := c.inferenceBase + "/" + model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
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
		return "", httpStatusError("huggingface", resp.StatusCode, string(payload))
	}
	var out []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("huggingface: parse response: %w", err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("huggingface: empty response for model %s", model)
	}
	return out[0].GeneratedText, nil
}

// ListModels queries the hub for popular text-generation models.
func (c *HFClient) ListModels(ctx context.Context) ([]string, error) {
	endpoint := c.hubBase + "/api/models?" + url.Values{
		"filter": {"text-generation"},
		"sort":   {"downloads"},
		"limit":  {"10"},
	}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
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
		return nil, httpStatusError("huggingface", resp.StatusCode, string(payload))
	}
	var out []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("huggingface: parse model list: %w", err)
	}
	names := make([]string, 0, len(out))
	for _, m := range out {
		names = append(names, m.ID)
	}
	return names, nil
}
