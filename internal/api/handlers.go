package api

import (
	"net/http"

	"github.com/sprite-ai/fixrev/internal/cost"
	"github.com/sprite-ai/fixrev/internal/group"
	"github.com/sprite-ai/fixrev/internal/model"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Group ---

type findingsRequest struct {
	Findings []model.Finding `json:"findings"`
}

type groupResponse struct {
	Total    int                 `json:"total"`
	Groups   []*model.PatchGroup `json:"groups"`
	Deferred []*model.PatchGroup `json:"deferred,omitempty"`
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	var req findingsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if len(req.Findings) == 0 {
		writeError(w, http.StatusBadRequest, "findings are required")
		return
	}

	kept, deferred := s.newEngine().Plan(req.Findings)
	writeJSON(w, http.StatusOK, groupResponse{
		Total:    group.Count(kept) + group.Count(deferred),
		Groups:   kept,
		Deferred: deferred,
	})
}

// --- Summary ---

type summaryResponse struct {
	Summary *model.Summary `json:"summary"`
	Cost    *cost.Totals   `json:"cost,omitempty"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var req findingsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if len(req.Findings) == 0 {
		writeError(w, http.StatusBadRequest, "findings are required")
		return
	}

	e := s.newEngine()
	if !e.Available() {
		writeError(w, http.StatusServiceUnavailable, e.Health.Notice())
		return
	}

	sum, err := e.Composer().Pre(r.Context(), req.Findings)
	if err != nil {
		writeError(w, http.StatusBadGateway, "summarizing findings: "+err.Error())
		return
	}

	resp := summaryResponse{Summary: sum}
	if e.Config.AI.ShowCostEstimate {
		totals := e.Ledger.Snapshot()
		resp.Cost = &totals
	}
	writeJSON(w, http.StatusOK, resp)
}
