package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/embedding"
	"github.com/hyperjump/manabu/internal/extract"
	"github.com/hyperjump/manabu/internal/retrieval"
	"github.com/hyperjump/manabu/internal/storage"
)

type harness struct {
	indexer *Indexer
	service *retrieval.Service
	catalog *storage.Catalog
	storage *config.StorageConfig
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	storageCfg := &config.StorageConfig{
		UploadsDir:  filepath.Join(dir, "uploads"),
		IndexDir:    filepath.Join(dir, "index"),
		CatalogPath: filepath.Join(dir, "catalog.db"),
	}
	if err := os.MkdirAll(storageCfg.IndexDir, 0o755); err != nil {
		t.Fatal(err)
	}
	retrievalCfg := &config.RetrievalConfig{
		ChunkSize:     5,
		ChunkOverlap:  1,
		DefaultK:      5,
		MaxK:          50,
		ContextBudget: 6000,
	}
	catalog, err := storage.NewCatalog(storageCfg.CatalogPath)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })

	embedder := embedding.NewMockEmbedder(16)
	service := retrieval.NewService(embedder, retrievalCfg, storageCfg)
	idx := NewIndexer(extract.NewExtractor(), embedder, catalog, service, retrievalCfg, storageCfg)
	return &harness{indexer: idx, service: service, catalog: catalog, storage: storageCfg, dir: dir}
}

func (h *harness) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildOrUpdateIndex_NoFiles(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.indexer.BuildOrUpdateIndex(context.Background(), nil)
	if !errors.Is(err, ErrNoFiles) {
		t.Fatalf("err = %v, want ErrNoFiles", err)
	}
}

func TestBuildOrUpdateIndex_Basic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.writeFile(t, "notes.txt", "the cell cycle has interphase and mitosis and cytokinesis phases in order")

	count, failures, err := h.indexer.BuildOrUpdateIndex(ctx, []string{f})
	if err != nil {
		t.Fatalf("BuildOrUpdateIndex: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("failures = %v", failures)
	}
	if count == 0 {
		t.Fatal("expected chunks to be indexed")
	}
	if got := h.service.Size(); got != count {
		t.Errorf("service size = %d, want %d", got, count)
	}
	if h.service.State() != retrieval.StateReady {
		t.Errorf("state = %v, want ready", h.service.State())
	}
	if !h.service.PairExists() {
		t.Error("index pair should be persisted")
	}
}

func TestBuildOrUpdateIndex_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.writeFile(t, "notes.txt", "osmosis moves water across a membrane from low to high solute concentration")

	first, _, err := h.indexer.BuildOrUpdateIndex(ctx, []string{f})
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := h.indexer.BuildOrUpdateIndex(ctx, []string{f})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("second build counted %d chunks, want %d", second, first)
	}
	if got := h.service.Size(); got != first {
		t.Errorf("index grew to %d after re-ingest, want %d", got, first)
	}

	got := h.service.Retrieve(ctx, "osmosis water membrane", 3, "")
	if len(got) == 0 {
		t.Fatal("expected retrieval hits after rebuild")
	}
	for _, rc := range got {
		if filepath.Base(rc.Chunk.Source) != "notes.txt" {
			t.Errorf("hit from unexpected source %q", rc.Chunk.Source)
		}
	}
}

func TestBuildOrUpdateIndex_UpsertReplacesChangedFile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.writeFile(t, "notes.txt", "alpha beta gamma delta epsilon zeta eta theta")

	first, _, err := h.indexer.BuildOrUpdateIndex(ctx, []string{f})
	if err != nil {
		t.Fatal(err)
	}

	// Rewrite with more content; the source's chunks must be replaced, not appended.
	h.writeFile(t, "notes.txt", "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron pi")
	second, _, err := h.indexer.BuildOrUpdateIndex(ctx, []string{f})
	if err != nil {
		t.Fatal(err)
	}
	if second <= first {
		t.Errorf("expected more chunks after growth, first=%d second=%d", first, second)
	}
	if got := h.service.Size(); got != second {
		t.Errorf("index holds %d chunks, want %d (old chunks replaced)", got, second)
	}

	abs, _ := filepath.Abs(f)
	rec, err := h.catalog.Get(ctx, abs)
	if err != nil {
		t.Fatalf("catalog record missing: %v", err)
	}
	if rec.Chunks != second {
		t.Errorf("catalog chunks = %d, want %d", rec.Chunks, second)
	}
}

func TestBuildOrUpdateIndex_PerFileFailureContinues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	good := h.writeFile(t, "good.txt", "mitochondria produce energy for the cell through respiration")
	missing := filepath.Join(h.dir, "missing.txt")

	count, failures, err := h.indexer.BuildOrUpdateIndex(ctx, []string{good, missing})
	if err != nil {
		t.Fatalf("batch should survive one bad file: %v", err)
	}
	if count == 0 {
		t.Error("good file should have been indexed")
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want exactly one", failures)
	}
	if !strings.Contains(failures[0].Source, "missing.txt") {
		t.Errorf("failure source = %q", failures[0].Source)
	}
}

func TestBuildOrUpdateIndex_AllFilesFail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	missing := filepath.Join(h.dir, "missing.txt")

	_, failures, err := h.indexer.BuildOrUpdateIndex(ctx, []string{missing})
	if err == nil {
		t.Fatal("expected error when every file fails")
	}
	if len(failures) != 1 {
		t.Errorf("failures = %v", failures)
	}
	if h.service.State() == retrieval.StateBuilding {
		t.Error("state should not be stuck in building after a failed build")
	}
}

func TestBuildOrUpdateIndex_CorruptedPairRebuild(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := h.writeFile(t, "notes.txt", "glycolysis splits glucose into pyruvate yielding a small amount of energy")

	count, _, err := h.indexer.BuildOrUpdateIndex(ctx, []string{f})
	if err != nil {
		t.Fatal(err)
	}

	// Truncate the metadata sidecar so the pair lengths diverge.
	if err := os.WriteFile(h.storage.MetaPath(), []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}

	rebuilt, failures, err := h.indexer.BuildOrUpdateIndex(ctx, []string{f})
	if err != nil {
		t.Fatalf("rebuild after corruption: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("failures = %v", failures)
	}
	if rebuilt != count {
		t.Errorf("rebuilt %d chunks, want %d", rebuilt, count)
	}
	if got := h.service.Size(); got != count {
		t.Errorf("service size = %d, want %d", got, count)
	}
}

func TestRemoveSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	keep := h.writeFile(t, "keep.txt", "enzymes lower activation energy and speed up biochemical reactions")
	drop := h.writeFile(t, "drop.txt", "the krebs cycle oxidizes acetyl coa producing electron carriers")

	total, _, err := h.indexer.BuildOrUpdateIndex(ctx, []string{keep, drop})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.indexer.RemoveSource(ctx, drop); err != nil {
		t.Fatalf("RemoveSource: %v", err)
	}
	if got := h.service.Size(); got >= total {
		t.Errorf("size = %d after removal, want < %d", got, total)
	}
	for _, rc := range h.service.Retrieve(ctx, "krebs cycle", 10, "") {
		if filepath.Base(rc.Chunk.Source) == "drop.txt" {
			t.Errorf("removed source still retrievable: %q", rc.Chunk.Source)
		}
	}

	abs, _ := filepath.Abs(drop)
	if _, err := h.catalog.Get(ctx, abs); err == nil {
		t.Error("catalog record should be gone after removal")
	}

	// Removing a source that is not indexed is a no-op.
	if err := h.indexer.RemoveSource(ctx, filepath.Join(h.dir, "never.txt")); err != nil {
		t.Errorf("RemoveSource on unknown source: %v", err)
	}
}

func TestBuildOrUpdateIndex_UnsupportedExtension(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bad := h.writeFile(t, "image.png", "not text")
	good := h.writeFile(t, "good.md", "photosynthesis captures light energy in chloroplasts to build sugars")

	_, failures, err := h.indexer.BuildOrUpdateIndex(ctx, []string{bad, good})
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 || !strings.Contains(failures[0].Source, "image.png") {
		t.Errorf("failures = %v, want just image.png", failures)
	}
}
