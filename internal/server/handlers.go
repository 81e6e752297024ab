package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/manabu/internal/extract"
	"github.com/hyperjump/manabu/internal/models"
	"github.com/hyperjump/manabu/internal/retrieval"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sources, chunks, err := s.catalog.Counts(r.Context())
	if err != nil {
		s.logger.Error("status: catalog counts failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sources":     sources,
		"chunks":      chunks,
		"index_state": s.retrieval.State().String(),
		"index_size":  s.retrieval.Size(),
		"provider":    s.router.Provider().Name(),
		"uploads_dir": s.config.Storage.UploadsDir,
		"index_dir":   s.config.Storage.IndexDir,
	})
}

// handleUpload saves raw multipart file bytes into the uploads directory.
// Entries with empty names are skipped.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 32 << 20
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	if err := os.MkdirAll(s.config.Storage.UploadsDir, 0755); err != nil {
		s.logger.Error("upload: create uploads dir failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	saved := make([]string, 0)
	for _, headers := range r.MultipartForm.File {
		for _, h := range headers {
			name := filepath.Base(h.Filename)
			if name == "" || name == "." || name == string(filepath.Separator) {
				continue
			}
			f, err := h.Open()
			if err != nil {
				s.logger.Warn("upload: open part failed", zap.String("name", name), zap.Error(err))
				continue
			}
			outPath := filepath.Join(s.config.Storage.UploadsDir, name)
			out, err := os.Create(outPath)
			if err != nil {
				_ = f.Close()
				s.logger.Warn("upload: create file failed", zap.String("name", name), zap.Error(err))
				continue
			}
			_, err = io.Copy(out, f)
			_ = f.Close()
			_ = out.Close()
			if err != nil {
				s.logger.Warn("upload: write file failed", zap.String("name", name), zap.Error(err))
				continue
			}
			saved = append(saved, name)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"saved": saved})
}

// handleIngest indexes every supported file in the uploads directory.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	files, err := listIngestible(s.config.Storage.UploadsDir)
	if err != nil {
		s.logger.Error("ingest: list uploads failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(files) == 0 {
		s.respondError(w, http.StatusBadRequest, "no files to ingest")
		return
	}
	count, failures, err := s.indexer.BuildOrUpdateIndex(r.Context(), files)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{"ingested": count}
	if len(failures) > 0 {
		failed := make([]string, len(failures))
		for i, f := range failures {
			failed[i] = f.Error()
		}
		resp["failed"] = failed
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// listIngestible returns the supported regular files in dir. A missing
// directory means no files, not an error.
func listIngestible(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if extract.Supported(path) {
			files = append(files, path)
		}
	}
	return files, nil
}

type chatRequest struct {
	Message   string `json:"message"`
	Objective string `json:"objective,omitempty"`
	K         int    `json:"k,omitempty"`
}

type chatResponse struct {
	Answer     string             `json:"answer"`
	References []models.Reference `json:"references"`
}

// handleChat answers a study question with retrieved context. Retrieval and
// generation failures degrade: the response is always the success shape, with
// empty references or a sentinel answer.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message required")
		return
	}
	if req.K <= 0 {
		req.K = s.config.Retrieval.DefaultK
	}

	// Skip retrieval entirely on a cold, index-less deployment so the first
	// chat does not pay embedder initialization for nothing.
	var chunks []models.RetrievedChunk
	if s.retrieval.PairExists() {
		if s.retrieval.State() == retrieval.StateAbsent {
			if err := s.retrieval.Reload(); err != nil {
				s.logger.Warn("chat: index reload failed", zap.Error(err))
			}
		}
		chunks = s.retrieval.Retrieve(r.Context(), req.Message, req.K, req.Objective)
	}
	ctxBlock := retrieval.FormatContext(chunks, s.config.Retrieval.ContextBudget)

	prompt := s.router.BuildPrompt(req.Message, req.Objective, ctxBlock)
	answer := s.router.GenerateText(r.Context(), prompt)

	refs := make([]models.Reference, 0, len(chunks))
	for _, c := range chunks {
		refs = append(refs, models.Reference{Source: c.Chunk.Source, Text: c.Chunk.Text})
	}
	s.respondJSON(w, http.StatusOK, chatResponse{Answer: answer, References: refs})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
