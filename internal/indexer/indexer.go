package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/embedding"
	"github.com/hyperjump/manabu/internal/extract"
	"github.com/hyperjump/manabu/internal/retrieval"
	"github.com/hyperjump/manabu/internal/storage"
	"github.com/hyperjump/manabu/internal/store"
	"github.com/hyperjump/manabu/internal/vector"
)

// ErrNoFiles is returned when a build is requested with no ingestible files.
var ErrNoFiles = errors.New("no files to ingest")

// FileError records a single file that failed to ingest. A file failure does
// not abort the batch; remaining files are still indexed.
type FileError struct {
	Source string
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Indexer builds and updates the persisted index pair. Builds are serialized
// by an internal mutex; the retrieval service keeps serving the previous pair
// until the new one is fully persisted and installed.
type Indexer struct {
	extractor *extract.Extractor
	chunker   *Chunker
	embedder  embedding.Embedder
	catalog   *storage.Catalog
	service   *retrieval.Service
	storage   *config.StorageConfig

	mu     sync.Mutex
	logger *zap.Logger // optional; when set, logs per-file progress
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for build progress and per-file failures.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(
	extractor *extract.Extractor,
	embedder embedding.Embedder,
	catalog *storage.Catalog,
	service *retrieval.Service,
	retrievalCfg *config.RetrievalConfig,
	storageCfg *config.StorageConfig,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		extractor: extractor,
		chunker:   NewChunker(retrievalCfg.ChunkSize, retrievalCfg.ChunkOverlap),
		embedder:  embedder,
		catalog:   catalog,
		service:   service,
		storage:   storageCfg,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// BuildOrUpdateIndex ingests files into the index pair as an idempotent
// upsert: chunks of a source already present are replaced, new sources are
// appended, unchanged sources are reused without re-embedding. Returns the
// total number of chunks indexed for the given files (including reused ones)
// and the per-file failures. The error is non-nil only when nothing could be
// ingested at all.
func (idx *Indexer) BuildOrUpdateIndex(ctx context.Context, files []string) (int, []*FileError, error) {
	if len(files) == 0 {
		return 0, nil, ErrNoFiles
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	batchID := uuid.New().String()[:8]
	if idx.logger != nil {
		idx.logger.Info("index build started",
			zap.String("batch", batchID),
			zap.Int("files", len(files)),
		)
	}

	idx.service.BeginBuild()
	count, failures, err := idx.build(ctx, files)
	if err != nil {
		idx.service.FailBuild()
		return 0, failures, err
	}
	if idx.logger != nil {
		idx.logger.Info("index build finished",
			zap.String("batch", batchID),
			zap.Int("chunks", count),
			zap.Int("failed_files", len(failures)),
		)
	}
	return count, failures, nil
}

func (idx *Indexer) build(ctx context.Context, files []string) (int, []*FileError, error) {
	cur, curMeta, err := idx.loadPair(ctx)
	if err != nil {
		return 0, nil, err
	}

	// Decide per file whether its previous chunks can be reused.
	type plan struct {
		source string
		reuse  bool
		chunks int
	}
	plans := make([]plan, 0, len(files))
	rebuild := make(map[string]bool)
	var failures []*FileError
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			failures = append(failures, &FileError{Source: f, Err: err})
			continue
		}
		p := plan{source: abs}
		// Reuse only when the pair actually holds the chunks the catalog claims.
		if rec := idx.unchanged(ctx, abs); rec != nil && curMeta.CountBySource(abs) == rec.Chunks {
			p.reuse = true
			p.chunks = rec.Chunks
		} else {
			rebuild[abs] = true
		}
		plans = append(plans, p)
	}

	keep := curMeta.PositionsExcluding(rebuild)
	newIdx, err := cur.Select(keep)
	if err != nil {
		return 0, failures, fmt.Errorf("select retained vectors: %w", err)
	}
	newMeta, err := curMeta.Select(keep)
	if err != nil {
		return 0, failures, fmt.Errorf("select retained metadata: %w", err)
	}

	count := 0
	succeeded := 0
	for _, p := range plans {
		if p.reuse {
			count += p.chunks
			succeeded++
			if idx.logger != nil {
				idx.logger.Debug("skipping unchanged file", zap.String("source", p.source))
			}
			continue
		}
		n, err := idx.ingestFile(ctx, p.source, newIdx, newMeta)
		if err != nil {
			failures = append(failures, &FileError{Source: p.source, Err: err})
			if idx.logger != nil {
				idx.logger.Warn("file ingestion failed", zap.String("source", p.source), zap.Error(err))
			}
			continue
		}
		count += n
		succeeded++
	}
	if succeeded == 0 {
		return 0, failures, fmt.Errorf("all %d files failed to ingest", len(files))
	}

	if newIdx.Len() != newMeta.Len() {
		return 0, failures, fmt.Errorf("index/metadata length mismatch after build: %d != %d", newIdx.Len(), newMeta.Len())
	}

	// Persist the index binary first, the metadata sidecar last: the sidecar's
	// presence is the marker that a fully written index exists.
	if err := newIdx.Save(idx.storage.IndexPath()); err != nil {
		return 0, failures, err
	}
	if err := newMeta.Save(idx.storage.MetaPath()); err != nil {
		return 0, failures, err
	}
	idx.service.Install(newIdx, newMeta)
	return count, failures, nil
}

// loadPair loads the current pair from disk. A corrupted pair (length
// divergence) is discarded, along with the catalog, so the build starts from
// scratch rather than patching.
func (idx *Indexer) loadPair(ctx context.Context) (*vector.FlatIndex, *store.MetaStore, error) {
	cur, err := vector.NewFlatIndex(idx.embedder.Dimensions())
	if err != nil {
		return nil, nil, err
	}
	if err := cur.Load(idx.storage.IndexPath()); err != nil {
		return nil, nil, err
	}
	curMeta := store.NewMetaStore()
	if err := curMeta.Load(idx.storage.MetaPath()); err != nil {
		return nil, nil, err
	}
	if cur.Len() != curMeta.Len() {
		if idx.logger != nil {
			idx.logger.Warn("corrupted index pair, rebuilding from scratch",
				zap.Int("index_len", cur.Len()),
				zap.Int("meta_len", curMeta.Len()),
			)
		}
		if err := idx.catalog.Clear(ctx); err != nil {
			return nil, nil, fmt.Errorf("clear catalog: %w", err)
		}
		empty, _ := vector.NewFlatIndex(idx.embedder.Dimensions())
		return empty, store.NewMetaStore(), nil
	}
	return cur, curMeta, nil
}

// unchanged returns the catalog record for source when its mtime and size
// match the file on disk, meaning its chunks can be reused as-is.
func (idx *Indexer) unchanged(ctx context.Context, source string) *storage.SourceRecord {
	info, err := os.Stat(source)
	if err != nil {
		return nil
	}
	rec, err := idx.catalog.Get(ctx, source)
	if err != nil {
		return nil
	}
	if rec.Mtime != info.ModTime().UnixNano() || rec.Size != info.Size() {
		return nil
	}
	return rec
}

// ingestFile extracts, chunks, and embeds one file, appending the results to
// the pair under construction. Returns the number of chunks appended.
func (idx *Indexer) ingestFile(ctx context.Context, source string, newIdx *vector.FlatIndex, newMeta *store.MetaStore) (int, error) {
	info, err := os.Stat(source)
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file: %s", source)
	}
	text, err := idx.extractor.Extract(source)
	if err != nil {
		return 0, fmt.Errorf("extract content: %w", err)
	}
	chunks := idx.chunker.Chunk(source, Preprocess(text))
	if len(chunks) == 0 {
		if err := idx.catalog.Upsert(ctx, &storage.SourceRecord{
			Source: source,
			Mtime:  info.ModTime().UnixNano(),
			Size:   info.Size(),
			Chunks: 0,
		}); err != nil {
			return 0, fmt.Errorf("update catalog: %w", err)
		}
		return 0, nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	embeddings, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("generate embeddings: %w", err)
	}
	if err := newIdx.Append(embeddings); err != nil {
		return 0, fmt.Errorf("append vectors: %w", err)
	}
	records := make([]store.ChunkRecord, len(chunks))
	for i, ch := range chunks {
		records[i] = store.ChunkRecord{
			Source: ch.Source,
			Text:   ch.Text,
			ID:     ch.ID,
			Offset: ch.Offset,
		}
	}
	newMeta.Append(records...)
	if err := idx.catalog.Upsert(ctx, &storage.SourceRecord{
		Source: source,
		Mtime:  info.ModTime().UnixNano(),
		Size:   info.Size(),
		Chunks: len(chunks),
	}); err != nil {
		return 0, fmt.Errorf("update catalog: %w", err)
	}
	return len(chunks), nil
}

// RemoveSource drops a source's chunks from the index pair and catalog.
// A source not present is not an error.
func (idx *Indexer) RemoveSource(ctx context.Context, source string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	abs, err := filepath.Abs(source)
	if err != nil {
		return err
	}
	cur, curMeta, err := idx.loadPair(ctx)
	if err != nil {
		return err
	}
	keep := curMeta.PositionsExcluding(map[string]bool{abs: true})
	if len(keep) == curMeta.Len() {
		return nil
	}
	newIdx, err := cur.Select(keep)
	if err != nil {
		return err
	}
	newMeta, err := curMeta.Select(keep)
	if err != nil {
		return err
	}
	if err := newIdx.Save(idx.storage.IndexPath()); err != nil {
		return err
	}
	if err := newMeta.Save(idx.storage.MetaPath()); err != nil {
		return err
	}
	if err := idx.catalog.Delete(ctx, abs); err != nil {
		return err
	}
	idx.service.Install(newIdx, newMeta)
	return nil
}
