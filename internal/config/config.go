// Package config provides configuration loading and structs for the Manabu server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for uploads, the index pair, and the source catalog.
type StorageConfig struct {
	UploadsDir   string `yaml:"uploads_dir"`
	IndexDir     string `yaml:"index_dir"`
	CatalogPath  string `yaml:"catalog_path"`
	WatchUploads bool   `yaml:"watch_uploads"`
}

// IndexPath returns the path of the binary vector index file.
func (s *StorageConfig) IndexPath() string {
	return filepath.Join(s.IndexDir, "faiss.index")
}

// MetaPath returns the path of the metadata sidecar file.
func (s *StorageConfig) MetaPath() string {
	return filepath.Join(s.IndexDir, "meta.json")
}

// EmbeddingConfig holds settings for the OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// RetrievalConfig holds chunking and retrieval settings. Chunk size and overlap
// are in words; the context budget is in characters.
type RetrievalConfig struct {
	ChunkSize     int `yaml:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
	DefaultK      int `yaml:"default_k"`
	MaxK          int `yaml:"max_k"`
	ContextBudget int `yaml:"context_budget"`
}

// LLMConfig holds generation provider settings. Provider is one of
// "gemini", "hf"/"huggingface", "ollama". Fallbacks are model names tried
// after Model, in order.
type LLMConfig struct {
	Provider  string   `yaml:"provider"`
	Model     string   `yaml:"model"`
	Host      string   `yaml:"host"`
	APIKey    string   `yaml:"-"`
	Fallbacks []string `yaml:"fallbacks"`
}

// Load reads and parses the config file at path, applies defaults and
// environment overrides, and expands paths. Returns an error if the file
// cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.UploadsDir = expandPath(cfg.Storage.UploadsDir, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)

	return &cfg, nil
}

// Default returns a config with all defaults and environment overrides applied,
// for running without a config file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	return &cfg
}

// ApplyEnv applies environment variable overrides for provider selection and
// credentials. LLM_PROVIDER selects the provider; each provider reads its own
// model and endpoint/credential variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	switch cfg.LLM.Provider {
	case "hf", "huggingface":
		cfg.LLM.APIKey = os.Getenv("HUGGINGFACE_TOKEN")
		if v := os.Getenv("HF_MODEL"); v != "" {
			cfg.LLM.Model = v
		}
	case "ollama":
		if v := os.Getenv("OLLAMA_HOST"); v != "" {
			cfg.LLM.Host = v
		}
		if v := os.Getenv("OLLAMA_MODEL"); v != "" {
			cfg.LLM.Model = v
		}
	default:
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		if v := os.Getenv("GEMINI_MODEL"); v != "" {
			cfg.LLM.Model = v
		}
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
