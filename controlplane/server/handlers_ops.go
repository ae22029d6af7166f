// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"maestro/platform/controlplane/capacity"
	"maestro/platform/controlplane/routine"
	"maestro/platform/controlplane/secrets"
	"maestro/platform/controlplane/tenant"
	"maestro/platform/controlplane/workflow"
)

// ---- Capacity ----

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources := s.svc.Broker.ListSources()
	out := make([]map[string]interface{}, 0, len(sources))
	for _, src := range sources {
		entry := map[string]interface{}{"source": src}
		if state, err := s.svc.Broker.State(src.ID); err == nil {
			entry["state"] = state
		}
		out = append(out, entry)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sources": out})
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var src capacity.Source
	if !s.decode(w, r, &src) {
		return
	}
	if err := s.svc.Broker.AddSource(src); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("capacity", "source_added", r, map[string]interface{}{"source_id": src.ID})
	s.respondJSON(w, http.StatusCreated, src)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	src, err := s.svc.Broker.GetSource(id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	body := map[string]interface{}{"source": src}
	if state, err := s.svc.Broker.State(id); err == nil {
		body["state"] = state
	}
	s.respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Broker.RemoveSource(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("capacity", "source_removed", r, map[string]interface{}{"source_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "source removed"})
}

func (s *Server) handleCapacityUsage(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"usage":        s.svc.Broker.UsageRecords(),
		"queue_length": s.svc.Broker.QueueLen(),
	})
}

func (s *Server) handleCapacityCost(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	body := map[string]interface{}{
		"total_cost": s.svc.Broker.TotalCost(sourceID),
	}
	if sourceID != "" {
		body["source_id"] = sourceID
	}
	s.respondJSON(w, http.StatusOK, body)
}

// ---- Routines ----

type createRoutineRequest struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Schedule routine.Schedule `json:"schedule"`
	Workflow workflow.Spec    `json:"workflow"`
	Enabled  bool             `json:"enabled"`
}

func (s *Server) handleListRoutines(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"routines": s.svc.Routines.List()})
}

func (s *Server) handleCreateRoutine(w http.ResponseWriter, r *http.Request) {
	var req createRoutineRequest
	if !s.decode(w, r, &req) {
		return
	}
	created, err := s.svc.Routines.Create(req.ID, req.Name, req.Schedule, req.Workflow, req.Enabled)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("workflow", "routine_created", r, map[string]interface{}{"routine_id": created.ID})
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRoutine(w http.ResponseWriter, r *http.Request) {
	rt, err := s.svc.Routines.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rt)
}

func (s *Server) handleDeleteRoutine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Routines.Delete(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("workflow", "routine_deleted", r, map[string]interface{}{"routine_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "routine deleted"})
}

func (s *Server) handleEnableRoutine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Routines.Enable(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "routine enabled"})
}

func (s *Server) handleDisableRoutine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Routines.Disable(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "routine disabled"})
}

func (s *Server) handleRoutineExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := s.svc.Routines.Executions(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"executions": executions})
}

// ---- Metrics and analytics ----

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	counters, gauges, histograms := s.svc.Metrics.Snapshot()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	})
}

func (s *Server) handleAnalyticsWorkflows(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Analytics.WorkflowStats())
}

func (s *Server) handleAnalyticsSteps(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"steps": s.svc.Analytics.AllStepStats()})
}

func (s *Server) handleAnalyticsTraces(w http.ResponseWriter, r *http.Request) {
	runs, err := s.svc.Index.ListRuns()
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	traces := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		spans := make([]map[string]interface{}, 0, len(run.Steps))
		for _, step := range run.Steps {
			span := map[string]interface{}{
				"step_id": step.ID,
				"status":  string(step.Status),
			}
			if step.StartedAt != nil {
				span["started_at"] = step.StartedAt
			}
			if step.CompletedAt != nil {
				span["completed_at"] = step.CompletedAt
				if step.StartedAt != nil {
					span["duration_ms"] = step.CompletedAt.Sub(*step.StartedAt).Milliseconds()
				}
			}
			spans = append(spans, span)
		}
		traces = append(traces, map[string]interface{}{
			"run_id":     run.ID,
			"status":     string(run.Status),
			"started_at": run.StartedAt,
			"spans":      spans,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"traces": traces})
}

func (s *Server) handleAnalyticsBottlenecks(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"bottlenecks": s.svc.Analytics.Bottlenecks()})
}

func (s *Server) handleWorkflowBottlenecks(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["workflow"]
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflow_id": workflowID,
		"bottlenecks": s.svc.Analytics.BottlenecksFor(workflowID),
	})
}

// ---- Secrets ----

type secretRequest struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description,omitempty"`
	Value       string                 `json:"value"`
	Rotation    secrets.RotationPolicy `json:"rotation"`
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"secrets": s.svc.Secrets.List()})
}

func (s *Server) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Value == "" {
		s.respondError(w, http.StatusBadRequest, "secret value is required", "")
		return
	}
	secret, err := s.svc.Secrets.Create(req.ID, req.Description, []byte(req.Value), req.Rotation, tenantID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("secrets", "secret_created", r, map[string]interface{}{"secret_id": secret.ID})
	s.respondJSON(w, http.StatusCreated, secret)
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := s.svc.Secrets.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, secret)
}

func (s *Server) handleUpdateSecret(w http.ResponseWriter, r *http.Request) {
	var req secretRequest
	if !s.decode(w, r, &req) {
		return
	}
	secret, err := s.svc.Secrets.Update(mux.Vars(r)["id"], req.Description, req.Rotation)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("secrets", "secret_updated", r, map[string]interface{}{"secret_id": secret.ID})
	s.respondJSON(w, http.StatusOK, secret)
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Secrets.Delete(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("secrets", "secret_deleted", r, map[string]interface{}{"secret_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "secret deleted"})
}

type rotateSecretRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleRotateSecret(w http.ResponseWriter, r *http.Request) {
	var req rotateSecretRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Value == "" {
		s.respondError(w, http.StatusBadRequest, "new secret value is required", "")
		return
	}
	secret, err := s.svc.Secrets.Rotate(mux.Vars(r)["id"], []byte(req.Value))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("secrets", "secret_rotated", r, map[string]interface{}{
		"secret_id": secret.ID,
		"version":   secret.Version,
	})
	s.respondJSON(w, http.StatusOK, secret)
}

func (s *Server) handleSecretValue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var value []byte
	var err error
	if versionParam := r.URL.Query().Get("version"); versionParam != "" {
		version, perr := strconv.Atoi(versionParam)
		if perr != nil {
			s.respondError(w, http.StatusBadRequest, "invalid version", perr.Error())
			return
		}
		value, err = s.svc.Secrets.GetValueVersion(id, version)
	} else {
		value, err = s.svc.Secrets.GetValue(id)
	}
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	// Reading a secret value is always worth an audit trail entry.
	s.audit("secrets", "secret_value_read", r, map[string]interface{}{"secret_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "value": string(value)})
}

func (s *Server) handleSecretVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.svc.Secrets.Versions(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

func (s *Server) handleSecretsNeedingRotation(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"secrets": s.svc.Secrets.NeedingRotation(time.Now().UTC()),
	})
}

// ---- Tenants ----

type tenantRequest struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Quota    tenant.Quota      `json:"quota"`
	Settings map[string]string `json:"settings,omitempty"`
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"tenants": s.svc.Tenants.List()})
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenantRequest
	if !s.decode(w, r, &req) {
		return
	}
	t := &tenant.Tenant{
		ID:       req.ID,
		Name:     req.Name,
		Quota:    req.Quota,
		Settings: req.Settings,
	}
	if err := s.svc.Tenants.Register(t); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("tenant", "tenant_created", r, map[string]interface{}{"tenant_id": t.ID})
	s.respondJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Tenants.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	body := map[string]interface{}{"tenant": t}
	if usage, err := s.svc.Tenants.GetUsage(t.ID); err == nil {
		body["usage"] = usage
	}
	s.respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenantRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.svc.Tenants.Update(mux.Vars(r)["id"], req.Name, req.Quota, req.Settings)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("tenant", "tenant_updated", r, map[string]interface{}{"tenant_id": t.ID})
	s.respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Tenants.Delete(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("tenant", "tenant_deleted", r, map[string]interface{}{"tenant_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "tenant deleted"})
}

func (s *Server) handleSuspendTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Tenants.Suspend(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("tenant", "tenant_suspended", r, map[string]interface{}{"tenant_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "tenant suspended"})
}

func (s *Server) handleActivateTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Tenants.Activate(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("tenant", "tenant_activated", r, map[string]interface{}{"tenant_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "tenant activated"})
}

func (s *Server) handleTenantStorageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Tenants.StorageStats(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// ---- Cluster ----

type registerNodeRequest struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"nodes": s.svc.Cluster.List()})
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	node, err := s.svc.Cluster.Register(req.ID, req.Address)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("cluster", "node_registered", r, map[string]interface{}{"node_id": node.ID})
	s.respondJSON(w, http.StatusCreated, node)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.svc.Cluster.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Cluster.Remove(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("cluster", "node_removed", r, map[string]interface{}{"node_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "node removed"})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Cluster.Heartbeat(mux.Vars(r)["id"]); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "heartbeat recorded"})
}

func (s *Server) handleLeader(w http.ResponseWriter, r *http.Request) {
	if s.svc.Elector == nil {
		s.respondError(w, http.StatusNotFound, "no leader election configured", "")
		return
	}
	leader, ok := s.svc.Elector.Leader()
	if !ok {
		s.respondError(w, http.StatusNotFound, "no leader elected", "")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"leader_id": leader})
}

func (s *Server) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Cluster.Health())
}

// ---- Audit ----

func (s *Server) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		limit = n
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"entries": s.svc.Audit.Entries(limit)})
}

func (s *Server) handleAuditStatistics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Audit.Statistics())
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	failures := s.svc.Audit.VerifyChain()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    len(failures) == 0,
		"failures": failures,
	})
}

// ---- Compliance and security ----

type complianceRequest struct {
	WindowHours int `json:"window_hours,omitempty"`
}

func (s *Server) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	var req complianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	window := 24 * time.Hour
	if req.WindowHours > 0 {
		window = time.Duration(req.WindowHours) * time.Hour
	}
	report := s.svc.Compliance.Evaluate(window)
	s.audit("compliance", "report_generated", r, map[string]interface{}{
		"window_hours": int(window.Hours()),
	})
	s.respondJSON(w, http.StatusOK, report)
}

// handleSecurityScan composes a point-in-time posture report from the
// stores that carry security-relevant state.
func (s *Server) handleSecurityScan(w http.ResponseWriter, r *http.Request) {
	findings := make([]map[string]interface{}, 0)

	for _, secret := range s.svc.Secrets.NeedingRotation(time.Now().UTC()) {
		findings = append(findings, map[string]interface{}{
			"kind":      "secret_rotation_due",
			"secret_id": secret.ID,
		})
	}
	for _, nodeID := range s.svc.Cluster.CheckStaleNodes() {
		findings = append(findings, map[string]interface{}{
			"kind":    "stale_node",
			"node_id": nodeID,
		})
	}
	for _, t := range s.svc.Tenants.List() {
		if t.Status == tenant.StatusSuspended {
			findings = append(findings, map[string]interface{}{
				"kind":      "suspended_tenant",
				"tenant_id": t.ID,
			})
		}
	}
	chainFailures := s.svc.Audit.VerifyChain()
	for _, failure := range chainFailures {
		findings = append(findings, map[string]interface{}{
			"kind":     "audit_chain_break",
			"entry_id": failure.EntryID,
			"reason":   failure.Reason,
		})
	}

	s.audit("compliance", "security_scan", r, map[string]interface{}{
		"findings": len(findings),
	})
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"scanned_at":  time.Now().UTC(),
		"findings":    findings,
		"chain_valid": len(chainFailures) == 0,
	})
}
