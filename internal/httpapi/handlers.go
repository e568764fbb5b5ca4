package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/rendis/recipe-engine/internal/engine"
	"github.com/rendis/recipe-engine/internal/logging"
	"github.com/rendis/recipe-engine/internal/providers"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	pool := s.engine.Pool()
	body := map[string]any{
		"status":      "ok",
		"active_runs": pool.Active,
		"queued_runs": pool.Queued,
	}
	if s.circuits != nil {
		circuits := s.circuits()
		for _, c := range circuits {
			if c.State == providers.BreakerOpen {
				body["status"] = "degraded"
			}
		}
		body["providers"] = circuits
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	lib, err := s.engine.Library(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

func (s *Server) handleRecipe(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.Recipe(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type inputsBody struct {
	Inputs map[string]any `json:"inputs"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var body inputsBody
	if err := decodeBody(r, &body); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	est, err := s.engine.EstimateCost(r.Context(), r.PathValue("slug"), body.Inputs)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

type submitBody struct {
	BrandID   string         `json:"brand_id"`
	PersonaID string         `json:"persona_id"`
	Inputs    map[string]any `json:"inputs"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := decodeBody(r, &body); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	p := caller(r)
	ctx := logging.WithUserID(r.Context(), p.UserID)
	run, err := s.engine.Submit(ctx, engine.SubmitRequest{
		Recipe:    r.PathValue("slug"),
		UserID:    p.UserID,
		BrandID:   body.BrandID,
		PersonaID: body.PersonaID,
		Inputs:    body.Inputs,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":      run.ID,
		"status":      run.Status,
		"total_steps": run.TotalSteps,
		"poll_url":    "/api/runs/" + run.ID,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p := caller(r)
	q := r.URL.Query()
	page, err := s.engine.History(r.Context(), engine.HistoryQuery{
		UserID:   p.UserID,
		Recipe:   q.Get("recipe"),
		Status:   q.Get("status"),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", engine.DefaultPageSize),
		Admin:    p.Admin,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p := caller(r)
	view, err := s.engine.Status(r.Context(), r.PathValue("id"), engine.StatusOptions{
		UserID: p.scope(),
		Admin:  p.Admin,
		Select: r.URL.Query().Get("select"),
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type approveBody struct {
	Scenes []schema.Scene `json:"scenes" validate:"required"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body approveBody
	if err := decodeBody(r, &body); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	p := caller(r)
	run, err := s.engine.Approve(r.Context(), engine.ApproveRequest{
		RunID:  r.PathValue("id"),
		UserID: p.scope(),
		Scenes: body.Scenes,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	p := caller(r)
	run, err := s.engine.Cancel(r.Context(), r.PathValue("id"), p.scope())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	})
}

func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	if !caller(r).Admin {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "admin only")
		return
	}
	minutes := queryInt(r, "minutes", 0)
	reaped, err := s.engine.Reap(r.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	ids := make([]string, 0, len(reaped))
	for _, run := range reaped {
		ids = append(ids, run.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reaped":  len(ids),
		"run_ids": ids,
	})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotFound, schema.ErrCodeNotFound, "schedules are not enabled")
		return
	}
	jobs, err := s.schedules.List(r.Context(), caller(r).scope())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*store.ScheduledRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": jobs})
}

type scheduleBody struct {
	Recipe         string         `json:"recipe" validate:"required"`
	CronExpression string         `json:"cron_expression" validate:"required"`
	BrandID        string         `json:"brand_id"`
	PersonaID      string         `json:"persona_id"`
	Inputs         map[string]any `json:"inputs"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusNotFound, schema.ErrCodeNotFound, "schedules are not enabled")
		return
	}
	var body scheduleBody
	if err := decodeBody(r, &body); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	job := &store.ScheduledRun{
		RecipeSlug:     strings.TrimSpace(body.Recipe),
		UserID:         caller(r).UserID,
		BrandID:        body.BrandID,
		PersonaID:      body.PersonaID,
		Inputs:         body.Inputs,
		CronExpression: strings.TrimSpace(body.CronExpression),
		Enabled:        true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.schedules.Add(r.Context(), job); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}
