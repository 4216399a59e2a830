package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/config"
	"github.com/academiaos/academiaos/internal/export"
	"github.com/academiaos/academiaos/internal/llm"
	"github.com/academiaos/academiaos/internal/models"
	"github.com/academiaos/academiaos/internal/pipeline"
	"github.com/academiaos/academiaos/internal/session"
)

const (
	maxDocumentBytes = 64 << 20
	maxUploadBytes   = 128 << 20
)

type phaseRequest struct {
	Remarks string `json:"remarks"`
	Restart bool   `json:"restart"`
}

type reportResponse struct {
	*pipeline.PhaseReport
	Message string `json:"error,omitempty"`
}

func toResponse(rep *pipeline.PhaseReport) reportResponse {
	return reportResponse{PhaseReport: rep, Message: rep.Error()}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.respondError(w, http.StatusNotFound, "telemetry is disabled")
		return
	}
	summary, err := s.usage.Summary(r.Context())
	if err != nil {
		s.logger.Error("usage summary failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"usage": summary})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	data := models.NewModelData("")
	if len(bytes.TrimSpace(body)) > 0 {
		if data, err = session.Decode(body); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	sess, err := s.store.Create(r.Context(), data)
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("session created", zap.String("id", sess.ID()), zap.Int("papers", len(data.Papers)))
	s.respondJSON(w, http.StatusCreated, map[string]any{"id": sess.ID(), "papers": len(data.Papers)})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found")
		} else {
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	doc, err := session.Encode(sess.Snapshot())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.dropPipeline(id)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleAddPapers accepts a JSON array of papers, {"papers": [...]}, or a
// multipart upload whose "file" parts are extracted.
func (s *Server) handleAddPapers(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var papers []models.Paper
	var warnings []string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid upload")
			return
		}
		for _, fh := range r.MultipartForm.File["file"] {
			paper, err := s.importUpload(fh.Filename, fh.Open)
			if err != nil {
				warnings = append(warnings, err.Error())
				continue
			}
			papers = append(papers, paper)
		}
	} else {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if papers, err = decodePapers(body); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if len(papers) == 0 {
		s.respondJSON(w, http.StatusBadRequest, map[string]any{"error": "no papers", "warnings": warnings})
		return
	}

	ids := sess.AddPapers(papers...)
	if err := s.store.Save(r.Context(), sess); err != nil {
		s.logger.Error("save session failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"ids": ids, "warnings": warnings})
}

func (s *Server) importUpload(name string, open func() (multipart.File, error)) (models.Paper, error) {
	f, err := open()
	if err != nil {
		return models.Paper{}, fmt.Errorf("%s: %w", name, err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return models.Paper{}, fmt.Errorf("%s: %w", name, err)
	}
	return s.importer.ImportBytes(name, content)
}

func decodePapers(body []byte) ([]models.Paper, error) {
	body = bytes.TrimSpace(body)
	var papers []models.Paper
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &papers); err != nil {
			return nil, fmt.Errorf("invalid papers: %w", err)
		}
		return papers, nil
	}
	var wrapped struct {
		Papers []models.Paper `json:"papers"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("invalid papers: %w", err)
	}
	return wrapped.Papers, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	p, err := s.pipelineFor(sess)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	m := sess.Snapshot()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"id":         sess.ID(),
		"updatedAt":  sess.UpdatedAt(),
		"papers":     len(m.Papers),
		"codes":      len(m.FirstOrderCodes),
		"themes":     len(m.SecondOrderCodes),
		"dimensions": len(m.AggregateDimensions),
		"modelName":  m.ModelName,
		"phases":     p.Status(),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, sess.Snapshot()); err != nil {
		s.logger.Error("export failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.ID()+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleRunPhase(w http.ResponseWriter, r *http.Request) {
	phase, err := pipeline.ParsePhase(chi.URLParam(r, "phase"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	var req phaseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	p, err := s.pipelineFor(sess)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}

	s.logger.Debug("run phase request", zap.String("session", sess.ID()), zap.String("phase", string(phase)), zap.Bool("restart", req.Restart))
	rep, _ := p.RunPhase(r.Context(), phase, req.Remarks, pipeline.RunOptions{Restart: req.Restart})
	s.respondJSON(w, statusFor(rep), toResponse(rep))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req phaseRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	p, err := s.pipelineFor(sess)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}

	reports, _ := p.Run(r.Context(), req.Remarks)
	out := make([]reportResponse, len(reports))
	status := http.StatusOK
	for i, rep := range reports {
		out[i] = toResponse(rep)
		if code := statusFor(rep); code != http.StatusOK {
			status = code
		}
	}
	s.respondJSON(w, status, map[string]any{"phases": out})
}

// statusFor maps a phase outcome to an HTTP status. Provider failures are
// upstream errors; other failures are reported as unprocessable.
func statusFor(rep *pipeline.PhaseReport) int {
	switch rep.State {
	case pipeline.StateCompleted, pipeline.StatePartiallyFailed:
		return http.StatusOK
	case pipeline.StateCanceled:
		return http.StatusConflict
	}
	if llm.IsProviderError(rep.Err) {
		return http.StatusBadGateway
	}
	return http.StatusUnprocessableEntity
}

func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	s.logger.Error("pipeline unavailable", zap.Error(err))
	if errors.Is(err, config.ErrConfigurationMissing) {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
