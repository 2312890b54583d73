package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gocdr/domain/core"
	"gocdr/internal/cdr"
	"gocdr/internal/errors"
)

// QueryRequest is the body of every model query
type QueryRequest struct {
	Batch        cdr.Batch `json:"batch"`
	Standardized bool      `json:"standardized"`
}

// SettingsResponse describes the served model
type SettingsResponse struct {
	ModelID     core.ModelID           `json:"model_id"`
	Fingerprint core.Hash              `json:"fingerprint"`
	Step        int64                  `json:"step"`
	Output      string                 `json:"output"`
	Data        cdr.DataSummary        `json:"data"`
	Hyperparams map[string]interface{} `json:"hyperparams"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (QueryRequest, bool) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.InvalidInput(fmt.Sprintf("invalid request body: %v", err)))
		return req, false
	}
	return req, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	packed := s.model.Hyperparams().Pack()
	fp, err := core.Fingerprint(packed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SettingsResponse{
		ModelID:     s.model.ID(),
		Fingerprint: fp,
		Step:        s.model.Step(),
		Output:      s.model.Output().State().String(),
		Data:        s.model.Data(),
		Hyperparams: packed,
	})
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"parameters": s.model.ParameterSummary()})
}

func (s *Server) handleTrackers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"trackers": s.model.TrackerSummary()})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	preds, err := s.model.Predict(req.Batch, req.Standardized)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"predictions": preds})
}

func (s *Server) handleLogLik(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	ll, err := s.model.LogLik(req.Batch, req.Standardized)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"loglik": ll})
}

func (s *Server) handleLoss(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	rep, err := s.model.Loss(req.Batch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	rep, err := s.model.ErrorDiagnostics(req.Batch, req.Standardized)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, errors.NotFound("run registry"))
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.writeError(w, err)
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]map[string]interface{}, len(runs))
	for i, run := range runs {
		out[i] = run.GetStatus()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": out})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, errors.NotFound("run registry"))
		return
	}
	id, err := core.ParseRunID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, errors.InvalidInput(err.Error()))
		return
	}
	run, err := s.runs.GetRun(r.Context(), id.UUID())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run.GetStatus())
}
