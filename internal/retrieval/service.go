// Package retrieval embeds queries, searches the vector index, and formats context.
package retrieval

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/config"
	"github.com/hyperjump/manabu/internal/embedding"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/store"
	"github.com/hyperjump/manabu/internal/vector"
)

// Service serves similarity retrieval over the loaded index pair. Retrieval is
// best-effort: an absent or corrupted index, or any embed/search failure,
// yields an empty result so chat can proceed with empty context.
type Service struct {
	embedder embedding.Embedder
	cfg      *config.RetrievalConfig
	storage  *config.StorageConfig

	mu    sync.RWMutex
	index *vector.FlatIndex
	meta  *store.MetaStore
	state IndexState

	logger *zap.Logger // optional; when set, logs swallowed retrieval errors
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets a logger for debug output and swallowed errors.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a retrieval service. The index pair is not loaded until
// Reload is called, so a cold start with no index pays no embedder cost.
func NewService(embedder embedding.Embedder, cfg *config.RetrievalConfig, storage *config.StorageConfig, opts ...ServiceOption) *Service {
	s := &Service{
		embedder: embedder,
		cfg:      cfg,
		storage:  storage,
		state:    StateAbsent,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current index state.
func (s *Service) State() IndexState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Size returns the number of indexed chunks currently serving.
func (s *Service) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return 0
	}
	return s.index.Len()
}

// PairExists reports whether both index files are present on disk. The meta
// sidecar is written last, so its presence implies a fully written index binary.
func (s *Service) PairExists() bool {
	if _, err := os.Stat(s.storage.IndexPath()); err != nil {
		return false
	}
	if _, err := os.Stat(s.storage.MetaPath()); err != nil {
		return false
	}
	return true
}

// Reload loads the index pair from disk and validates it. Absence of either
// file means "no index", not an error. A length divergence between index and
// metadata marks the pair corrupted and drops it from serving.
func (s *Service) Reload() error {
	if !s.PairExists() {
		s.mu.Lock()
		s.index, s.meta, s.state = nil, nil, StateAbsent
		s.mu.Unlock()
		return nil
	}
	idx, err := vector.NewFlatIndex(s.embedder.Dimensions())
	if err != nil {
		return err
	}
	if err := idx.Load(s.storage.IndexPath()); err != nil {
		return err
	}
	meta := store.NewMetaStore()
	if err := meta.Load(s.storage.MetaPath()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx.Len() != meta.Len() {
		if s.logger != nil {
			s.logger.Warn("index pair corrupted",
				zap.Int("index_len", idx.Len()),
				zap.Int("meta_len", meta.Len()),
			)
		}
		s.index, s.meta, s.state = nil, nil, StateCorrupted
		return nil
	}
	s.index, s.meta, s.state = idx, meta, StateReady
	return nil
}

// BeginBuild marks a build in progress. The previous pair keeps serving reads.
func (s *Service) BeginBuild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateBuilding
}

// Install atomically swaps in a freshly built, already persisted index pair.
func (s *Service) Install(idx *vector.FlatIndex, meta *store.MetaStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index, s.meta, s.state = idx, meta, StateReady
}

// FailBuild restores the state after a failed build: the previous pair, if
// any, resumes serving.
func (s *Service) FailBuild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.index != nil:
		s.state = StateReady
	default:
		s.state = StateAbsent
	}
}

// Snapshot returns the currently serving pair, or (nil, nil) when none.
func (s *Service) Snapshot() (*vector.FlatIndex, *store.MetaStore) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index, s.meta
}

// Retrieve embeds the query (biased by objective when present), searches the
// index, and joins hits with their metadata. Returns at most k chunks ordered
// by descending similarity. Never returns an error to the caller: failures are
// logged and degrade to an empty result.
func (s *Service) Retrieve(ctx context.Context, query string, k int, objective string) []models.RetrievedChunk {
	if k <= 0 {
		k = s.cfg.DefaultK
	}
	if k > s.cfg.MaxK {
		k = s.cfg.MaxK
	}
	idx, meta := s.Snapshot()
	if idx == nil || idx.Len() == 0 {
		return nil
	}
	queryVec, err := s.embedder.Embed(ctx, CombineQuery(query, objective))
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("query embedding failed", zap.Error(err))
		}
		return nil
	}
	hits, err := idx.Search(queryVec, k)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("vector search failed", zap.Error(err))
		}
		return nil
	}
	out := make([]models.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		if h.Position >= meta.Len() {
			continue
		}
		rec := meta.At(h.Position)
		out = append(out, models.RetrievedChunk{
			Chunk: models.Chunk{
				ID:     rec.ID,
				Source: rec.Source,
				Text:   rec.Text,
				Offset: rec.Offset,
			},
			Score: h.Score,
		})
	}
	return out
}

// CombineQuery prefixes the query with the learning objective when present,
// so retrieval ranks passages about the stated goal higher than passages
// merely similar to the raw question.
func CombineQuery(query, objective string) string {
	if objective == "" {
		return query
	}
	return objective + "\n\n" + query
}
