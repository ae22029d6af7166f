// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"maestro/platform/controlplane/eventlog"
	"maestro/platform/controlplane/workflow"
)

// handleHealth reports process liveness plus cluster detail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	subsystems := map[string]bool{}
	if s.svc.Audit != nil {
		subsystems["audit_chain"] = len(s.svc.Audit.VerifyChain()) == 0
	}
	body := map[string]interface{}{
		"status":     "ok",
		"subsystems": subsystems,
	}
	if s.svc.Broker != nil {
		body["queue_length"] = s.svc.Broker.QueueLen()
	}
	if s.svc.Cluster != nil {
		body["cluster"] = s.svc.Cluster.Health()
	}
	if s.svc.Elector != nil {
		if leader, ok := s.svc.Elector.Leader(); ok {
			body["leader"] = leader
		}
	}
	s.respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.svc.Index.ListRuns()
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	// Tenant scope filters when the header is present.
	if scope := tenantID(r); scope != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if run.TenantID == scope {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.Index.GetRun(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	var events []eventlog.Event
	var err error
	startParam := r.URL.Query().Get("start")
	endParam := r.URL.Query().Get("end")
	if startParam != "" && endParam != "" {
		start, perr := time.Parse(time.RFC3339, startParam)
		if perr != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start time", perr.Error())
			return
		}
		end, perr := time.Parse(time.RFC3339, endParam)
		if perr != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end time", perr.Error())
			return
		}
		events, err = s.svc.Events.GetRunEventsRange(runID, start, end)
	} else {
		events, err = s.svc.Events.GetRunEvents(runID)
	}
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	if !s.svc.Executor.Cancel(runID) {
		s.respondError(w, http.StatusNotFound, "run not found or not running", "")
		return
	}
	s.audit("workflow", "run_cancelled", r, map[string]interface{}{"run_id": runID})
	s.respondJSON(w, http.StatusAccepted, map[string]string{"message": "cancellation requested"})
}

func (s *Server) handleRunArtifacts(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.Index.GetRun(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	includeContent := r.URL.Query().Get("include") == "content"
	artifacts := make([]map[string]interface{}, 0)
	for _, step := range run.Steps {
		for _, hash := range step.Artifacts {
			entry := map[string]interface{}{
				"step_id":      step.ID,
				"content_hash": hash,
			}
			if includeContent {
				if data, err := s.svc.Blobs.Get(hash); err == nil {
					entry["content"] = string(data)
				}
			}
			artifacts = append(artifacts, entry)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"artifacts": artifacts})
}

// SubmitJobRequest is the POST /api/jobs body. The workflow document is
// accepted as JSON or, with a yaml content type, as YAML.
type SubmitJobRequest struct {
	WorkItemID string        `json:"work_item_id" yaml:"work_item_id"`
	Workflow   workflow.Spec `json:"workflow" yaml:"workflow"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "reading request body", err.Error())
		return
	}

	var req SubmitJobRequest
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "yaml") {
		err = yaml.Unmarshal(body, &req)
	} else {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.Workflow.Steps) == 0 {
		s.respondError(w, http.StatusBadRequest, "workflow has no steps", "")
		return
	}

	// Validate the DAG up front so submission errors are synchronous.
	if _, err := workflow.BuildDAG(req.Workflow); err != nil {
		s.respondServiceError(w, err)
		return
	}

	scope := tenantID(r)
	if scope != "" && s.svc.Tenants != nil {
		if err := s.svc.Tenants.CheckQuota(scope, tenantWorkflowUse()); err != nil {
			s.respondServiceError(w, err)
			return
		}
	}

	runID := s.svc.Executor.ExecuteAsync(req.WorkItemID, scope, req.Workflow)
	if scope != "" && s.svc.Tenants != nil {
		s.svc.Tenants.RecordUse(scope, tenantWorkflowUse())
	}
	s.audit("workflow", "job_submitted", r, map[string]interface{}{
		"work_item_id": req.WorkItemID,
		"run_id":       runID,
	})
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  req.WorkItemID,
		"run_id":  runID,
		"message": "run started",
	})
}
