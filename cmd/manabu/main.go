// Package main is the Manabu CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/embedding"
	"github.com/hyperjump/manabu/internal/extract"
	"github.com/hyperjump/manabu/internal/indexer"
	"github.com/hyperjump/manabu/internal/llm"
	"github.com/hyperjump/manabu/internal/retrieval"
	"github.com/hyperjump/manabu/internal/server"
	"github.com/hyperjump/manabu/internal/storage"
	"github.com/hyperjump/manabu/internal/watcher"
	"github.com/hyperjump/manabu/pkg/utils"
)

var version = "dev"

const defaultServerURL = "http://localhost:8000"

func main() {
	// Load .env from the working directory if present (provider credentials).
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "upload":
		runUpload()
	case "ingest":
		runIngest()
	case "chat":
		runChat()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("manabu version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Usage: manabu <command> [flags]

Commands:
  server    Run the HTTP API server
  upload    Upload files to a running server
  ingest    Trigger ingestion on a running server
  chat      Ask a study question against a running server
  status    Show index status from a running server
  version   Print version
  help      Show this help
`)
}

// loadConfig loads config from path, falling back to defaults when the file
// does not exist and the path is the default one.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && path == "config.yaml" {
			return config.Default(), nil
		}
		return nil, err
	}
	return config.Load(path)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("uploads_dir", cfg.Storage.UploadsDir),
		zap.String("index_dir", cfg.Storage.IndexDir),
		zap.Bool("debug", debugMode),
	)

	catalog, err := storage.NewCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		logger.Fatal("Failed to open catalog", zap.Error(err))
	}
	defer catalog.Close()

	embedder, err := embedding.NewOpenAIEmbedder(&cfg.Embedding)
	if err != nil {
		logger.Fatal("Failed to create embedder", zap.Error(err))
	}
	cached := embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	defer cached.Close()

	svcOpts := []retrieval.ServiceOption{retrieval.WithLogger(logger)}
	svc := retrieval.NewService(cached, &cfg.Retrieval, &cfg.Storage, svcOpts...)
	if svc.PairExists() {
		if err := svc.Reload(); err != nil {
			logger.Warn("index reload failed", zap.Error(err))
		}
	}

	idxOpts := []indexer.IndexerOption{}
	if debugMode {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	idx := indexer.NewIndexer(
		extract.NewExtractor(),
		cached,
		catalog,
		svc,
		&cfg.Retrieval,
		&cfg.Storage,
		idxOpts...,
	)

	router := llm.New(&cfg.LLM, logger)

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Storage.WatchUploads {
		watchOpts := []watcher.WatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc := watcher.NewWatcher(
			cfg.Storage.UploadsDir,
			func(path string) {
				if _, _, err := idx.BuildOrUpdateIndex(context.Background(), []string{path}); err != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			func(path string) {
				if err := idx.RemoveSource(context.Background(), path); err != nil {
					logger.Warn("watch remove failed", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(svc, idx, router, catalog, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[2:])
	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Println("Usage: manabu upload [flags] <file> [file...]")
		os.Exit(1)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			fmt.Printf("Open %s: %v\n", p, err)
			os.Exit(1)
		}
		part, err := mw.CreateFormFile("files", filepath.Base(p))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		_ = f.Close()
		if err != nil {
			fmt.Printf("Add %s: %v\n", p, err)
			os.Exit(1)
		}
	}
	_ = mw.Close()

	resp, err := http.Post(*serverURL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		fmt.Printf("Upload failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Post(*serverURL+"/ingest", "application/json", nil)
	if err != nil {
		fmt.Printf("Ingest failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	objective := fs.String("objective", "", "learning objective biasing retrieval")
	k := fs.Int("k", 5, "number of passages to retrieve")
	_ = fs.Parse(os.Args[2:])
	message := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if message == "" {
		fmt.Println("Usage: manabu chat [flags] <message>")
		os.Exit(1)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"message":   message,
		"objective": *objective,
		"k":         *k,
	})
	resp, err := http.Post(*serverURL+"/chat", "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Printf("Chat failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var out struct {
		Answer     string `json:"answer"`
		References []struct {
			Source string `json:"source"`
			Text   string `json:"text"`
		} `json:"references"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Printf("Bad response: %v\n", err)
		os.Exit(1)
	}
	if out.Error != "" {
		fmt.Printf("Error: %s\n", out.Error)
		os.Exit(1)
	}
	fmt.Println(out.Answer)
	if len(out.References) > 0 {
		fmt.Println("\nReferences:")
		for i, ref := range out.References {
			fmt.Printf("  %d. %s: %s\n", i+1, filepath.Base(ref.Source), utils.Truncate(ref.Text, 120))
		}
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/status")
	if err != nil {
		fmt.Printf("Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Read response: %v\n", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
