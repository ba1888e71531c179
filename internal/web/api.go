package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/softcrew/crewd/internal/agent"
	"github.com/softcrew/crewd/internal/collab"
	"github.com/softcrew/crewd/internal/config"
	"github.com/softcrew/crewd/internal/schedule"
	"github.com/softcrew/crewd/internal/store"
	"github.com/softcrew/crewd/internal/workflow"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Workflows
	mux.HandleFunc("GET /api/workflows", s.listWorkflows)
	mux.HandleFunc("POST /api/workflows", s.createWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.getWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.deleteWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/execute", s.executeWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/runs", s.listWorkflowRuns)

	// Workflow runs
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/runs/{id}/status", s.getRunStatus)
	mux.HandleFunc("POST /api/runs/{id}/pause", s.pauseRun)
	mux.HandleFunc("POST /api/runs/{id}/resume", s.resumeRun)
	mux.HandleFunc("POST /api/runs/{id}/stop", s.stopRun)

	// Agents
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("POST /api/agents", s.createAgent)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.deleteAgent)
	mux.HandleFunc("GET /api/agents/{id}/state", s.getAgentState)

	// Collaboration
	mux.HandleFunc("POST /api/collab", s.startCollab)
	mux.HandleFunc("GET /api/collab", s.listCollabRuns)
	mux.HandleFunc("GET /api/collab/active", s.listActiveSessions)
	mux.HandleFunc("GET /api/collab/{id}", s.getCollabRun)

	// Pre-created collaboration sessions
	mux.HandleFunc("POST /api/sessions", s.createSession)
	mux.HandleFunc("GET /api/sessions", s.listActiveSessions)
	mux.HandleFunc("POST /api/sessions/{id}/execute", s.executeSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.endSession)

	// Routed single-agent instruction
	mux.HandleFunc("POST /api/instruct", s.instruct)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/pause", s.pauseSchedule)
	mux.HandleFunc("POST /api/schedules/{id}/resume", s.resumeSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("DELETE /api/secrets/{id}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.ListWorkflows()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if workflows == nil {
		workflows = []store.Workflow{}
	}
	jsonResponse(w, workflows)
}

func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Definition json.RawMessage `json:"definition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || len(body.Definition) == 0 {
		jsonError(w, "name and definition are required", http.StatusBadRequest)
		return
	}
	if body.ID == "" {
		body.ID = uuid.New().String()
	}

	var wf workflow.Workflow
	if err := json.Unmarshal(body.Definition, &wf); err != nil {
		jsonError(w, "definition does not decode: "+err.Error(), http.StatusBadRequest)
		return
	}
	wf.ID = body.ID
	if err := wf.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	stored := &store.Workflow{ID: body.ID, Name: body.Name, Definition: body.Definition}
	if err := s.store.SaveWorkflow(stored); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, stored)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.store.GetWorkflow(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if wf == nil {
		jsonError(w, "workflow not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, wf)
}

func (s *Server) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWorkflow(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) listWorkflowRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListWorkflowRuns(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.WorkflowRun{}
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetWorkflowRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

// getRunStatus prefers the live engine snapshot; a finished run falls back
// to the persisted record.
func (s *Server) getRunStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if st, err := s.runner.Status(id); err == nil {
		jsonResponse(w, st)
		return
	}

	run, err := s.store.GetWorkflowRun(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]any{
		"workflow_id":   run.WorkflowID,
		"status":        run.Status,
		"current_stage": run.CurrentStage,
		"progress":      run.Progress,
	})
}

func (s *Server) pauseRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Pause(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "paused"})
}

func (s *Server) resumeRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Resume(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "resumed"})
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Stop(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "stopping"})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.roster.List()
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, map[string]any{
			"id":           a.ID,
			"name":         a.Name,
			"role":         a.Role,
			"capabilities": a.Capabilities,
			"status":       a.Status(),
		})
	}
	jsonResponse(w, out)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.roster.Get(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]any{
		"id":           a.ID,
		"name":         a.Name,
		"role":         a.Role,
		"capabilities": a.Capabilities,
		"status":       a.Status(),
	})
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		Role         string   `json:"role"`
		Description  string   `json:"description"`
		Model        string   `json:"model"`
		Capabilities []string `json:"capabilities"`
		SystemPrompt string   `json:"system_prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.ID == "" || body.Role == "" {
		jsonError(w, "id and role are required", http.StatusBadRequest)
		return
	}
	if _, err := s.roster.Get(body.ID); err == nil {
		jsonError(w, "agent already exists", http.StatusConflict)
		return
	}

	a, err := s.roster.Create(body.ID, config.AgentDefinition{
		Name:         body.Name,
		Role:         body.Role,
		Description:  body.Description,
		Model:        body.Model,
		Capabilities: body.Capabilities,
		SystemPrompt: body.SystemPrompt,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.Initialize(r.Context()); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]any{
		"id":     a.ID,
		"name":   a.Name,
		"role":   a.Role,
		"status": a.Status(),
	})
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.roster.Remove(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "removed"})
}

func (s *Server) getAgentState(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.ListAgentState(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, state)
}

func (s *Server) startCollab(w http.ResponseWriter, r *http.Request) {
	var req collab.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := collab.ParseProtocol(string(req.Protocol)); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Prompt == "" || len(req.Participants) == 0 {
		jsonError(w, "prompt and participants are required", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	} else if _, ok := s.collab.Session(req.ID); ok {
		jsonError(w, "session already exists", http.StatusConflict)
		return
	}

	// The round outlives the HTTP request; progress lands in the run record
	// and on the event stream.
	go func() {
		// Failures are recorded on the run and the event stream.
		_, _ = s.collab.Run(context.WithoutCancel(r.Context()), req)
	}()

	jsonResponse(w, map[string]string{"session_id": req.ID, "status": "running"})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req collab.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID != "" {
		if _, ok := s.collab.Session(req.ID); ok {
			jsonError(w, "session already exists", http.StatusConflict)
			return
		}
	}

	sess, err := s.collab.CreateSession(req)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]any{
		"session_id":   sess.ID,
		"protocol":     sess.Protocol,
		"participants": sess.Participants,
	})
}

func (s *Server) executeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Prompt  string `json:"prompt"`
		Context string `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Prompt == "" {
		jsonError(w, "prompt is required", http.StatusBadRequest)
		return
	}

	sess, ok := s.collab.Session(id)
	if !ok {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}
	if sess.Running {
		jsonError(w, "session is already executing", http.StatusConflict)
		return
	}

	// The round outlives the HTTP request; progress lands in the run record
	// and on the event stream.
	go func() {
		_, _ = s.collab.Execute(context.WithoutCancel(r.Context()), id, body.Prompt, body.Context)
	}()

	jsonResponse(w, map[string]string{"session_id": id, "status": "running"})
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.collab.EndSession(id); err != nil {
		if _, ok := s.collab.Session(id); ok {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "ended"})
}

func (s *Server) listCollabRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListCollabRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.CollabRun{}
	}
	jsonResponse(w, runs)
}

func (s *Server) listActiveSessions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.collab.ActiveSessions())
}

func (s *Server) getCollabRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetCollabRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "collaboration not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) instruct(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Message == "" {
		jsonError(w, "message is required", http.StatusBadRequest)
		return
	}

	agentID, cleaned, err := s.router.Route(r.Context(), body.Message)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	a, err := s.roster.Get(agentID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	out, err := a.Process(r.Context(), agent.Input{Prompt: cleaned})
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]any{
		"agent_id": agentID,
		"response": out.Response,
		"actions":  out.ExecutedActions,
	})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListScheduledRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(runs))
	for _, sr := range runs {
		out = append(out, map[string]any{
			"id":          sr.ID,
			"workflow_id": sr.WorkflowID,
			"name":        sr.Name,
			"schedule":    schedule.Describe(sr.Schedule),
			"status":      sr.Status,
			"next_run_at": sr.NextRunAt,
			"last_run_at": sr.LastRunAt,
			"last_status": sr.LastStatus,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkflowID string `json:"workflow_id"`
		Name       string `json:"name"`
		Schedule   string `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.WorkflowID == "" || body.Schedule == "" {
		jsonError(w, "workflow_id and schedule are required", http.StatusBadRequest)
		return
	}

	wf, err := s.store.GetWorkflow(body.WorkflowID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if wf == nil {
		jsonError(w, "workflow not found", http.StatusNotFound)
		return
	}

	run, err := s.scheduler.Create(body.WorkflowID, body.Name, body.Schedule)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.UpdateScheduledRunStatus(r.PathValue("id"), "paused"); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "paused"})
}

func (s *Server) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.UpdateScheduledRunStatus(r.PathValue("id"), "active"); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "active"})
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScheduledRun(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := s.store.ListSecrets()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(secrets))
	for _, sec := range secrets {
		out = append(out, map[string]any{
			"id":          sec.ID,
			"name":        sec.Name,
			"description": sec.Description,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	ciphertext, nonce, err := s.vault.Seal([]byte(body.Value))
	if err != nil {
		jsonError(w, "encryption failed", http.StatusInternalServerError)
		return
	}

	sec := &store.Secret{
		ID:          body.Name,
		Name:        body.Name,
		Description: body.Description,
		Value:       ciphertext,
		Nonce:       nonce,
	}
	if err := s.store.SaveSecret(sec); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]string{"id": sec.ID, "name": sec.Name})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSecret(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"version": s.version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"agents":  len(s.roster.List()),
	}
	if s.collab != nil {
		status["active_sessions"] = len(s.collab.ActiveSessions())
	}
	if s.bus != nil {
		status["nats_clients"] = s.bus.NumClients()
	}
	jsonResponse(w, status)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
