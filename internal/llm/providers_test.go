package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/manabu/internal/config"
)

func TestOllamaGenerate(t *testing.T) {
	var gotPath, gotModel string
	var gotStream bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		gotStream = req.Stream
		json.NewEncoder(w).Encode(map[string]string{"response": "photosynthesis converts light"})
	}))
	defer srv.Close()

	c := NewOllamaClient(&config.LLMConfig{Host: srv.URL, Model: "llama3.2:3b"})
	text, err := c.Generate(context.Background(), "llama3.2:3b", "what is photosynthesis")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "photosynthesis converts light" {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/api/generate" {
		t.Errorf("path = %q", gotPath)
	}
	if gotModel != "llama3.2:3b" {
		t.Errorf("model = %q", gotModel)
	}
	if gotStream {
		t.Error("stream should be disabled")
	}
}

func TestOllamaGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(&config.LLMConfig{Host: srv.URL})
	if _, err := c.Generate(context.Background(), "missing", "hello"); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{
				{"name": "llama3.2:1b"},
				{"name": "nomic-embed-text:latest"},
			},
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(&config.LLMConfig{Host: srv.URL})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "llama3.2:1b" {
		t.Errorf("models = %v", models)
	}
}

func TestOllamaDefaults(t *testing.T) {
	c := NewOllamaClient(&config.LLMConfig{})
	cands := c.Candidates()
	if len(cands) == 0 || cands[0] != "llama3.2:3b" {
		t.Errorf("candidates = %v", cands)
	}
}

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-1.5-flash-8b:generateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "mitosis has four phases"}},
				}},
			},
		})
	}))
	defer srv.Close()

	c := NewGeminiClient(&config.LLMConfig{Host: srv.URL, APIKey: "test-key"})
	text, err := c.Generate(context.Background(), "gemini-1.5-flash-8b", "explain mitosis")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "mitosis has four phases" {
		t.Errorf("text = %q", text)
	}
}

func TestGeminiGenerate_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"candidates": []interface{}{}})
	}))
	defer srv.Close()

	c := NewGeminiClient(&config.LLMConfig{Host: srv.URL})
	if _, err := c.Generate(context.Background(), "gemini-1.5-flash", "hi"); err == nil {
		t.Fatal("expected error on empty candidate list")
	}
}

func TestGeminiListModels_FiltersGeneration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"models": []map[string]interface{}{
					{"name": "models/embedding-001", "supportedGenerationMethods": []string{"embedContent"}},
					{"name": "models/gemini-1.5-flash", "supportedGenerationMethods": []string{"generateContent", "countTokens"}},
				},
			})
			return
		}
		if r.URL.Path != "/models/gemini-1.5-flash:generateContent" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "from catalog model"}},
				}},
			},
		})
	}))
	defer srv.Close()

	c := NewGeminiClient(&config.LLMConfig{Host: srv.URL})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0] != "gemini-1.5-flash" {
		t.Errorf("models = %v", models)
	}

	// A name from the catalog must be directly usable for generation.
	text, err := c.Generate(context.Background(), models[0], "hi")
	if err != nil {
		t.Fatalf("Generate with catalog name: %v", err)
	}
	if text != "from catalog model" {
		t.Errorf("text = %q", text)
	}
}

func TestHFGenerate(t *testing.T) {
	var gotAuth string
	var gotParams hfParameters
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req hfRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotParams = req.Parameters
		json.NewEncoder(w).Encode([]map[string]string{{"generated_text": "cells divide"}})
	}))
	defer srv.Close()

	c := NewHFClient(&config.LLMConfig{Host: srv.URL, APIKey: "hf-token"})
	text, err := c.Generate(context.Background(), "meta-llama/Meta-Llama-3-8B-Instruct", "how do cells divide")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "cells divide" {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer hf-token" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotParams.MaxNewTokens != 256 || gotParams.Temperature != 0.2 {
		t.Errorf("parameters = %+v", gotParams)
	}
	if gotParams.DoSample || gotParams.ReturnFullText {
		t.Errorf("sampling flags should be off: %+v", gotParams)
	}
}

func TestHFListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("filter") != "text-generation" {
			t.Errorf("filter = %q", r.URL.Query().Get("filter"))
		}
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": "meta-llama/Meta-Llama-3-8B-Instruct"},
			{"id": "mistralai/Mistral-7B-Instruct-v0.3"},
		})
	}))
	defer srv.Close()

	c := NewHFClient(&config.LLMConfig{Host: srv.URL})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "meta-llama/Meta-Llama-3-8B-Instruct" {
		t.Errorf("models = %v", models)
	}
}

func TestBuildPrompt_OmitsEmptySections(t *testing.T) {
	c := NewGeminiClient(&config.LLMConfig{})
	prompt := c.BuildPrompt("what is osmosis", "", "")
	if strings.Contains(prompt, "Objective:") || strings.Contains(prompt, "Context sources:") {
		t.Errorf("empty sections should be omitted: %q", prompt)
	}
	if !strings.Contains(prompt, "User:\nwhat is osmosis") {
		t.Errorf("prompt missing user message: %q", prompt)
	}

	full := c.BuildPrompt("q", "pass the exam", "[source: bio.txt]\ntext")
	for _, want := range []string{"Objective: pass the exam", "Context sources:", "User:\nq", "Instructions:"} {
		if !strings.Contains(full, want) {
			t.Errorf("prompt missing %q: %q", want, full)
		}
	}
	if !strings.Contains(full, "\n\n") {
		t.Errorf("sections should be separated by blank lines: %q", full)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	cases := []struct {
		provider string
		want     string
	}{
		{"ollama", "ollama"},
		{"hf", "huggingface"},
		{"huggingface", "huggingface"},
		{"gemini", "gemini"},
		{"something-else", "gemini"},
	}
	for _, tc := range cases {
		r := New(&config.LLMConfig{Provider: tc.provider}, nil)
		if got := r.Provider().Name(); got != tc.want {
			t.Errorf("provider %q resolved to %q, want %q", tc.provider, got, tc.want)
		}
	}
}
