// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the control plane over HTTP and WebSocket.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"maestro/platform/controlplane/analytics"
	"maestro/platform/controlplane/approval"
	"maestro/platform/controlplane/audit"
	"maestro/platform/controlplane/blobstore"
	"maestro/platform/controlplane/capacity"
	"maestro/platform/controlplane/cluster"
	"maestro/platform/controlplane/compliance"
	"maestro/platform/controlplane/configchange"
	"maestro/platform/controlplane/eventlog"
	"maestro/platform/controlplane/metrics"
	"maestro/platform/controlplane/org"
	"maestro/platform/controlplane/rbac"
	"maestro/platform/controlplane/routine"
	"maestro/platform/controlplane/runindex"
	"maestro/platform/controlplane/secrets"
	"maestro/platform/controlplane/template"
	"maestro/platform/controlplane/tenant"
	"maestro/platform/controlplane/workflow"
	"maestro/platform/shared/logger"
)

// Services bundles everything the API surfaces.
type Services struct {
	Blobs      *blobstore.Store
	Events     *eventlog.Log
	Index      *runindex.Store
	Audit      *audit.Log
	Metrics    *metrics.Registry
	Tenants    *tenant.Service
	Secrets    *secrets.Service
	Cluster    *cluster.Manager
	Elector    *cluster.LeaderElector
	RBAC       *rbac.Service
	Approvals  *approval.Engine
	Changes    *configchange.Gate
	Broker     *capacity.Broker
	Executor   *workflow.Executor
	Routines   *routine.Scheduler
	Analytics  *analytics.Service
	Compliance *compliance.Checker
	Templates  *template.Service
	Orgs       *org.Service
}

// Server is the HTTP/WebSocket front of the control plane.
type Server struct {
	svc          Services
	hub          *Hub
	authRequired bool
	log          *logger.Logger
}

// New creates a server over the given services. hub may be nil when no
// websocket fanout is wanted.
func New(svc Services, hub *Hub, authRequired bool) *Server {
	return &Server{
		svc:          svc,
		hub:          hub,
		authRequired: authRequired,
		log:          logger.New("api-server"),
	}
}

// Handler builds the full routed handler with CORS and auth middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.registerRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.authMiddleware(r))
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")

	// Runs and jobs
	r.HandleFunc("/api/runs", s.handleListRuns).Methods("GET")
	r.HandleFunc("/api/runs/{id}", s.handleGetRun).Methods("GET")
	r.HandleFunc("/api/runs/{id}/events", s.handleRunEvents).Methods("GET")
	r.HandleFunc("/api/runs/{id}/cancel", s.handleCancelRun).Methods("POST")
	r.HandleFunc("/api/runs/{id}/artifacts", s.handleRunArtifacts).Methods("GET")
	r.HandleFunc("/api/jobs", s.handleSubmitJob).Methods("POST")

	// RBAC roles, policies, assignments
	r.HandleFunc("/api/roles", s.handleListRoles).Methods("GET")
	r.HandleFunc("/api/roles", s.handleCreateRole).Methods("POST")
	r.HandleFunc("/api/roles/{id}", s.handleGetRole).Methods("GET")
	r.HandleFunc("/api/roles/{id}", s.handleDeleteRole).Methods("DELETE")
	r.HandleFunc("/api/rbac/roles", s.handleListRoles).Methods("GET")
	r.HandleFunc("/api/rbac/roles", s.handleCreateRole).Methods("POST")
	r.HandleFunc("/api/rbac/roles/{id}", s.handleGetRole).Methods("GET")
	r.HandleFunc("/api/rbac/assign-role", s.handleAssignRole).Methods("POST")
	r.HandleFunc("/api/rbac/check-permission", s.handleCheckPermission).Methods("POST")
	r.HandleFunc("/api/policies", s.handleListPolicies).Methods("GET")
	r.HandleFunc("/api/policies", s.handleCreatePolicy).Methods("POST")
	r.HandleFunc("/api/policies/{id}", s.handleGetPolicy).Methods("GET")
	r.HandleFunc("/api/policies/{id}", s.handleDeletePolicy).Methods("DELETE")

	// Organizations
	r.HandleFunc("/api/organizations", s.handleListOrgs).Methods("GET")
	r.HandleFunc("/api/organizations", s.handleCreateOrg).Methods("POST")
	r.HandleFunc("/api/organizations/{id}", s.handleGetOrg).Methods("GET")
	r.HandleFunc("/api/organizations/{id}", s.handleDeleteOrg).Methods("DELETE")

	// Templates
	r.HandleFunc("/api/templates", s.handleListTemplates).Methods("GET")
	r.HandleFunc("/api/templates", s.handleCreateTemplate).Methods("POST")
	r.HandleFunc("/api/templates/{id}", s.handleGetTemplate).Methods("GET")
	r.HandleFunc("/api/templates/{id}", s.handleDeleteTemplate).Methods("DELETE")
	r.HandleFunc("/api/templates/{id}/instantiate", s.handleInstantiateTemplate).Methods("POST")

	// Capacity
	r.HandleFunc("/api/capacity/sources", s.handleListSources).Methods("GET")
	r.HandleFunc("/api/capacity/sources", s.handleCreateSource).Methods("POST")
	r.HandleFunc("/api/capacity/sources/{id}", s.handleGetSource).Methods("GET")
	r.HandleFunc("/api/capacity/sources/{id}", s.handleDeleteSource).Methods("DELETE")
	r.HandleFunc("/api/capacity/usage", s.handleCapacityUsage).Methods("GET")
	r.HandleFunc("/api/capacity/cost", s.handleCapacityCost).Methods("GET")

	// Routines
	r.HandleFunc("/api/routines", s.handleListRoutines).Methods("GET")
	r.HandleFunc("/api/routines", s.handleCreateRoutine).Methods("POST")
	r.HandleFunc("/api/routines/{id}", s.handleGetRoutine).Methods("GET")
	r.HandleFunc("/api/routines/{id}", s.handleDeleteRoutine).Methods("DELETE")
	r.HandleFunc("/api/routines/{id}/enable", s.handleEnableRoutine).Methods("POST")
	r.HandleFunc("/api/routines/{id}/disable", s.handleDisableRoutine).Methods("POST")
	r.HandleFunc("/api/routines/{id}/executions", s.handleRoutineExecutions).Methods("GET")

	// Approvals
	r.HandleFunc("/api/approval-boards", s.handleListBoards).Methods("GET")
	r.HandleFunc("/api/approval-boards", s.handleCreateBoard).Methods("POST")
	r.HandleFunc("/api/approval-boards/{id}", s.handleGetBoard).Methods("GET")
	r.HandleFunc("/api/approval-boards/{id}", s.handleDeleteBoard).Methods("DELETE")
	r.HandleFunc("/api/approvals", s.handleListApprovals).Methods("GET")
	r.HandleFunc("/api/approvals", s.handleRequestApproval).Methods("POST")
	r.HandleFunc("/api/approvals/{id}", s.handleGetApproval).Methods("GET")
	r.HandleFunc("/api/approvals/{id}/vote", s.handleVote).Methods("POST")

	// Config changes
	r.HandleFunc("/api/config-changes", s.handleListChanges).Methods("GET")
	r.HandleFunc("/api/config-changes", s.handleProposeChange).Methods("POST")
	r.HandleFunc("/api/config-changes/{id}", s.handleGetChange).Methods("GET")
	r.HandleFunc("/api/config-changes/{id}/apply", s.handleApplyChange).Methods("POST")
	r.HandleFunc("/api/config-changes/{id}/reject", s.handleRejectChange).Methods("POST")

	// Metrics and analytics
	r.HandleFunc("/api/metrics", s.handleMetrics).Methods("GET")
	r.Handle("/prometheus", s.svc.Metrics.Handler()).Methods("GET")
	r.HandleFunc("/api/analytics/workflows", s.handleAnalyticsWorkflows).Methods("GET")
	r.HandleFunc("/api/analytics/steps", s.handleAnalyticsSteps).Methods("GET")
	r.HandleFunc("/api/analytics/traces", s.handleAnalyticsTraces).Methods("GET")
	r.HandleFunc("/api/analytics/bottlenecks", s.handleAnalyticsBottlenecks).Methods("GET")
	r.HandleFunc("/api/analytics/bottlenecks/{workflow}", s.handleWorkflowBottlenecks).Methods("GET")

	// Secrets
	r.HandleFunc("/api/secrets", s.handleListSecrets).Methods("GET")
	r.HandleFunc("/api/secrets", s.handleCreateSecret).Methods("POST")
	r.HandleFunc("/api/secrets/rotation/needed", s.handleSecretsNeedingRotation).Methods("GET")
	r.HandleFunc("/api/secrets/{id}", s.handleGetSecret).Methods("GET")
	r.HandleFunc("/api/secrets/{id}", s.handleUpdateSecret).Methods("PUT")
	r.HandleFunc("/api/secrets/{id}", s.handleDeleteSecret).Methods("DELETE")
	r.HandleFunc("/api/secrets/{id}/rotate", s.handleRotateSecret).Methods("POST")
	r.HandleFunc("/api/secrets/{id}/value", s.handleSecretValue).Methods("GET")
	r.HandleFunc("/api/secrets/{id}/versions", s.handleSecretVersions).Methods("GET")

	// Tenants
	r.HandleFunc("/api/tenants", s.handleListTenants).Methods("GET")
	r.HandleFunc("/api/tenants", s.handleCreateTenant).Methods("POST")
	r.HandleFunc("/api/tenants/{id}", s.handleGetTenant).Methods("GET")
	r.HandleFunc("/api/tenants/{id}", s.handleUpdateTenant).Methods("PUT")
	r.HandleFunc("/api/tenants/{id}", s.handleDeleteTenant).Methods("DELETE")
	r.HandleFunc("/api/tenants/{id}/suspend", s.handleSuspendTenant).Methods("POST")
	r.HandleFunc("/api/tenants/{id}/activate", s.handleActivateTenant).Methods("POST")
	r.HandleFunc("/api/tenants/{id}/storage-stats", s.handleTenantStorageStats).Methods("GET")

	// Cluster
	r.HandleFunc("/api/cluster/nodes", s.handleListNodes).Methods("GET")
	r.HandleFunc("/api/cluster/nodes", s.handleRegisterNode).Methods("POST")
	r.HandleFunc("/api/cluster/nodes/{id}", s.handleGetNode).Methods("GET")
	r.HandleFunc("/api/cluster/nodes/{id}", s.handleRemoveNode).Methods("DELETE")
	r.HandleFunc("/api/cluster/nodes/{id}/heartbeat", s.handleHeartbeat).Methods("POST")
	r.HandleFunc("/api/cluster/leader", s.handleLeader).Methods("GET")
	r.HandleFunc("/api/cluster/health", s.handleClusterHealth).Methods("GET")

	// Audit
	r.HandleFunc("/api/audit/entries", s.handleAuditEntries).Methods("GET")
	r.HandleFunc("/api/audit/statistics", s.handleAuditStatistics).Methods("GET")
	r.HandleFunc("/api/audit/verify-chain", s.handleVerifyChain).Methods("GET")

	// Compliance and security
	r.HandleFunc("/api/compliance/report", s.handleComplianceReport).Methods("POST")
	r.HandleFunc("/api/security/scan", s.handleSecurityScan).Methods("POST")

	// WebSocket
	if s.hub != nil {
		r.HandleFunc("/api/ws", s.hub.HandleWS)
	}
}

// respondJSON writes a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// respondError writes the API error shape {error, details?}.
func (s *Server) respondError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": message}
	if details != "" {
		body["details"] = details
	}
	_ = json.NewEncoder(w).Encode(body)
}

// respondServiceError maps domain errors onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case isNotFound(err):
		status = http.StatusNotFound
	case isConflict(err):
		status = http.StatusConflict
	case isValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, capacity.ErrNoCapacity):
		status = http.StatusServiceUnavailable
	case errors.Is(err, configchange.ErrNotApproved):
		status = http.StatusForbidden
	case errors.Is(err, tenant.ErrNotActive):
		status = http.StatusForbidden
	}
	s.respondError(w, status, err.Error(), "")
}

func isNotFound(err error) bool {
	for _, target := range []error{
		runindex.ErrNotFound,
		blobstore.ErrNotFound,
		tenant.ErrNotFound,
		secrets.ErrNotFound,
		secrets.ErrVersionNotFound,
		cluster.ErrNodeNotFound,
		rbac.ErrRoleNotFound,
		rbac.ErrUserNotFound,
		approval.ErrBoardNotFound,
		approval.ErrApprovalNotFound,
		configchange.ErrChangeNotFound,
		capacity.ErrSourceNotFound,
		routine.ErrRoutineNotFound,
		template.ErrTemplateNotFound,
		org.ErrOrgNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isConflict(err error) bool {
	for _, target := range []error{
		tenant.ErrExists,
		secrets.ErrExists,
		cluster.ErrNodeExists,
		cluster.ErrLockHeld,
		rbac.ErrRoleExists,
		rbac.ErrUserExists,
		approval.ErrBoardExists,
		approval.ErrBoardInUse,
		approval.ErrAlreadyResolved,
		approval.ErrDuplicateVote,
		capacity.ErrSourceExists,
		routine.ErrRoutineExists,
		template.ErrTemplateExists,
		org.ErrOrgExists,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isValidation(err error) bool {
	var unknownStep *workflow.UnknownStepError
	var missingParam *template.MissingParamError
	var invalidParam *template.InvalidParamError
	var orgInvalid *org.ValidationError
	var quota *tenant.QuotaExceededError
	if errors.As(err, &unknownStep) || errors.As(err, &missingParam) ||
		errors.As(err, &invalidParam) || errors.As(err, &orgInvalid) ||
		errors.As(err, &quota) {
		return true
	}
	for _, target := range []error{
		workflow.ErrCircularDependency,
		routine.ErrInvalidCron,
		approval.ErrNotAVoter,
		approval.ErrNoApprovers,
		configchange.ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// audit records an API-surface action against the audit chain, tagging
// it with the caller's identity from the request context.
func (s *Server) audit(category audit.Category, action string, r *http.Request, details map[string]interface{}) {
	if s.svc.Audit == nil {
		return
	}
	payload := map[string]interface{}{"action": action}
	for k, v := range details {
		payload[k] = v
	}
	if _, err := s.svc.Audit.Record(category, audit.SeverityInfo, payload, audit.RecordOptions{
		UserID:    userID(r),
		TenantID:  tenantID(r),
		IPAddress: r.RemoteAddr,
	}); err != nil {
		s.log.ErrorWithErr(tenantID(r), "", "audit record failed", err, map[string]interface{}{
			"category": string(category),
			"action":   action,
		})
	}
}

// tenantWorkflowUse is the quota increment charged per submitted job.
func tenantWorkflowUse() tenant.ResourceUse {
	return tenant.ResourceUse{Workflows: 1, Requests: 1, ConcurrentRuns: 1}
}

// decode parses a JSON request body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}
