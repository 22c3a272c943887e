// File: internal/server/handlers.go
package server

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
	"github.com/xkilldash9x/diligence-cli/internal/transport"
)

// maxUploadMemory bounds the multipart parse buffer; larger file parts spill
// to temp files.
const maxUploadMemory = 32 << 20

// queryRequest is the body of the analysis and invoke endpoints.
type queryRequest struct {
	Query string `json:"query"`
}

// apiResponse is the standard envelope for every JSON response.
type apiResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// statusSnapshot is the first frame of the websocket stream and the body of
// GET /api/v1/status.
type statusSnapshot struct {
	RunID  string                         `json:"run_id,omitempty"`
	Agents map[string]schemas.AgentStatus `json:"agents"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	type agentInfo struct {
		Name        string          `json:"name"`
		ID          schemas.AgentID `json:"id"`
		Kind        string          `json:"kind"`
		DisplayName string          `json:"display_name"`
	}

	var agents []agentInfo
	for _, name := range s.registry.Names() {
		a, _ := s.registry.Lookup(name)
		agents = append(agents, agentInfo{
			Name:        a.Name,
			ID:          a.ID,
			Kind:        string(a.Kind),
			DisplayName: a.DisplayName,
		})
	}
	s.respondWithSuccess(w, http.StatusOK, agents)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondWithSuccess(w, http.StatusOK, s.statusSnapshot())
}

func (s *Server) statusSnapshot() statusSnapshot {
	tracker := s.orch.Tracker()
	return statusSnapshot{
		RunID:  tracker.RunID(),
		Agents: tracker.Snapshot(),
	}
}

// handleAnalysis runs a full coordinated analysis and returns the
// consolidated report. Failures inside the analysis arrive as a 200 with the
// error carried in the result, matching how the CLI renders them.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	agg, err := s.orch.RunCoordinatedAnalysis(r.Context(), req.Query)
	if err != nil {
		s.respondToOrchestratorError(w, err)
		return
	}
	s.respondWithSuccess(w, http.StatusOK, agg)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "agentName")
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	resp, err := s.orch.RunAgent(r.Context(), req.Query, agentName)
	if err != nil {
		s.respondToOrchestratorError(w, err)
		return
	}
	s.respondWithSuccess(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "agentName")
	if !s.orch.Cancel(agentName) {
		s.respondWithError(w, http.StatusNotFound, fmt.Sprintf("no in-flight invocation for agent %q", agentName))
		return
	}
	s.respondWithSuccess(w, http.StatusAccepted, map[string]string{"agent": agentName})
}

// handleUpload accepts a multipart batch under the "files" field and runs it
// through the upload coordinator.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "no files provided")
		return
	}

	files := make([]schemas.FileHandle, 0, len(parts))
	opened := make([]multipart.File, 0, len(parts))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, part := range parts {
		f, err := part.Open()
		if err != nil {
			s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("failed to read part %s: %v", part.Filename, err))
			return
		}
		opened = append(opened, f)
		files = append(files, schemas.FileHandle{
			Name:    part.Filename,
			Size:    part.Size,
			Content: f,
		})
	}

	res := s.uploads.UploadAll(r.Context(), files)
	s.respondWithSuccess(w, http.StatusOK, res)
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return queryRequest{}, false
	}
	return req, true
}

// respondToOrchestratorError maps caller mistakes to 400 and anything else,
// which should not happen, to 500.
func (s *Server) respondToOrchestratorError(w http.ResponseWriter, err error) {
	if errors.Is(err, transport.ErrInvalidRequest) {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("Unexpected orchestrator error", zap.Error(err))
	s.respondWithError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, apiResponse{Status: "error", Error: message})
}

func (s *Server) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	s.writeJSON(w, statusCode, apiResponse{Status: "success", Data: data})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
