package retrieval

import (
	"context"
	"os"
	"testing"

	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/embedding"
	"github.com/hyperjump/manabu/internal/store"
	"github.com/hyperjump/manabu/internal/vector"
)

func testService(t *testing.T) (*Service, *config.StorageConfig, embedding.Embedder) {
	t.Helper()
	dir := t.TempDir()
	storageCfg := &config.StorageConfig{IndexDir: dir}
	retrievalCfg := &config.RetrievalConfig{DefaultK: 5, MaxK: 50, ContextBudget: 6000}
	embedder := embedding.NewMockEmbedder(8)
	svc := NewService(embedder, retrievalCfg, storageCfg)
	return svc, storageCfg, embedder
}

// buildPair persists an index pair holding the given texts and reloads svc.
func buildPair(t *testing.T, svc *Service, storageCfg *config.StorageConfig, embedder embedding.Embedder, texts ...string) {
	t.Helper()
	ctx := context.Background()
	idx, err := vector.NewFlatIndex(embedder.Dimensions())
	if err != nil {
		t.Fatal(err)
	}
	meta := store.NewMetaStore()
	for i, txt := range texts {
		vec, err := embedder.Embed(ctx, txt)
		if err != nil {
			t.Fatal(err)
		}
		if err := idx.Append([][]float32{vec}); err != nil {
			t.Fatal(err)
		}
		meta.Append(store.ChunkRecord{Source: "/d/doc.txt", Text: txt, ID: "chunk", Offset: i})
	}
	if err := idx.Save(storageCfg.IndexPath()); err != nil {
		t.Fatal(err)
	}
	if err := meta.Save(storageCfg.MetaPath()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Reload(); err != nil {
		t.Fatal(err)
	}
}

func TestService_EmptyIndexSafety(t *testing.T) {
	svc, _, _ := testService(t)
	if svc.State() != StateAbsent {
		t.Errorf("fresh service state = %s", svc.State())
	}
	got := svc.Retrieve(context.Background(), "what is mitosis", 5, "")
	if len(got) != 0 {
		t.Errorf("absent index should yield empty results, got %d", len(got))
	}
}

func TestService_RetrieveMonotonic(t *testing.T) {
	svc, storageCfg, embedder := testService(t)
	buildPair(t, svc, storageCfg, embedder, "mitosis divides cells", "photosynthesis in plants", "osmosis and membranes")

	got := svc.Retrieve(context.Background(), "mitosis divides cells", 2, "")
	if len(got) != 2 {
		t.Fatalf("expected min(k, total)=2 results, got %d", len(got))
	}
	if got[0].Score < got[1].Score {
		t.Error("results should be ordered by non-increasing score")
	}
	// The query matches a chunk exactly; the mock embedder is deterministic,
	// so that chunk must rank first.
	if got[0].Chunk.Text != "mitosis divides cells" {
		t.Errorf("top result = %q", got[0].Chunk.Text)
	}

	all := svc.Retrieve(context.Background(), "anything", 10, "")
	if len(all) != 3 {
		t.Errorf("k beyond total should return all %d chunks, got %d", 3, len(all))
	}
}

func TestService_ReloadDetectsCorruption(t *testing.T) {
	svc, storageCfg, embedder := testService(t)
	buildPair(t, svc, storageCfg, embedder, "a", "b")

	// Append an extra metadata record so lengths diverge.
	meta := store.NewMetaStore()
	if err := meta.Load(storageCfg.MetaPath()); err != nil {
		t.Fatal(err)
	}
	meta.Append(store.ChunkRecord{Source: "/d/doc.txt", Text: "orphan", ID: "chunk:x", Offset: 99})
	if err := meta.Save(storageCfg.MetaPath()); err != nil {
		t.Fatal(err)
	}

	if err := svc.Reload(); err != nil {
		t.Fatal(err)
	}
	if svc.State() != StateCorrupted {
		t.Errorf("state = %s, want corrupted", svc.State())
	}
	if got := svc.Retrieve(context.Background(), "a", 5, ""); len(got) != 0 {
		t.Errorf("corrupted index should not serve results, got %d", len(got))
	}
}

func TestService_PairExists(t *testing.T) {
	svc, storageCfg, embedder := testService(t)
	if svc.PairExists() {
		t.Error("no pair should exist yet")
	}
	buildPair(t, svc, storageCfg, embedder, "a")
	if !svc.PairExists() {
		t.Error("pair should exist after build")
	}
	// Removing the sidecar alone means "no index".
	if err := os.Remove(storageCfg.MetaPath()); err != nil {
		t.Fatal(err)
	}
	if svc.PairExists() {
		t.Error("missing sidecar should mean no pair")
	}
}

func TestService_FailBuildRestoresState(t *testing.T) {
	svc, storageCfg, embedder := testService(t)
	buildPair(t, svc, storageCfg, embedder, "a")

	svc.BeginBuild()
	if svc.State() != StateBuilding {
		t.Errorf("state = %s, want building", svc.State())
	}
	// Previous pair keeps serving during the build.
	if got := svc.Retrieve(context.Background(), "a", 5, ""); len(got) != 1 {
		t.Errorf("previous pair should serve during build, got %d results", len(got))
	}
	svc.FailBuild()
	if svc.State() != StateReady {
		t.Errorf("state after failed build = %s, want ready", svc.State())
	}
}

func TestCombineQuery(t *testing.T) {
	if got := CombineQuery("what is mitosis", ""); got != "what is mitosis" {
		t.Errorf("no objective should pass query through, got %q", got)
	}
	got := CombineQuery("what is mitosis", "exam on cell biology")
	if got != "exam on cell biology\n\nwhat is mitosis" {
		t.Errorf("objective should prefix the query, got %q", got)
	}
}
