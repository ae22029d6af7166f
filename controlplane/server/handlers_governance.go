// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"maestro/platform/controlplane/approval"
	"maestro/platform/controlplane/org"
	"maestro/platform/controlplane/rbac"
	"maestro/platform/controlplane/template"
)

// ---- RBAC roles ----

type createRoleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Permissions []rbac.Permission `json:"permissions"`
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"roles": s.svc.RBAC.ListRoles()})
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !s.decode(w, r, &req) {
		return
	}
	role, err := s.svc.RBAC.CreateRole(req.ID, req.Name, req.Description, req.Permissions)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("rbac", "role_created", r, map[string]interface{}{"role_id": role.ID})
	s.respondJSON(w, http.StatusCreated, role)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.svc.RBAC.GetRole(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.RBAC.DeleteRole(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("rbac", "role_deleted", r, map[string]interface{}{"role_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "role deleted"})
}

type assignRoleRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	RoleID   string `json:"role_id"`
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if !s.decode(w, r, &req) {
		return
	}
	// First assignment creates the user record.
	if _, err := s.svc.RBAC.GetUser(req.UserID); errors.Is(err, rbac.ErrUserNotFound) {
		name := req.UserName
		if name == "" {
			name = req.UserID
		}
		if _, err := s.svc.RBAC.CreateUser(req.UserID, name); err != nil {
			s.respondServiceError(w, err)
			return
		}
	}
	if err := s.svc.RBAC.AssignRole(req.UserID, req.RoleID); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("rbac", "role_assigned", r, map[string]interface{}{
		"user_id": req.UserID,
		"role_id": req.RoleID,
	})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "role assigned"})
}

type checkPermissionRequest struct {
	UserID     string `json:"user_id"`
	Resource   string `json:"resource"`
	Action     string `json:"action"`
	ResourceID string `json:"resource_id,omitempty"`
}

func (s *Server) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	var req checkPermissionRequest
	if !s.decode(w, r, &req) {
		return
	}
	allowed, err := s.svc.RBAC.CheckPermission(req.UserID, rbac.Permission{
		Resource:   rbac.Resource(req.Resource),
		Action:     rbac.Action(req.Action),
		ResourceID: req.ResourceID,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// ---- Policies ----
//
// A policy is the API-level bundle of a role plus the principals it is
// assigned to; it has no separate store underneath.

type policyRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Permissions []rbac.Permission `json:"permissions"`
	Assignees   []string          `json:"assignees,omitempty"`
}

type policyResponse struct {
	Role      rbac.Role `json:"role"`
	Assignees []string  `json:"assignees"`
}

func (s *Server) policyAssignees(roleID string) []string {
	assignees := make([]string, 0)
	for _, user := range s.svc.RBAC.ListUsers() {
		for _, id := range user.RoleIDs {
			if id == roleID {
				assignees = append(assignees, user.ID)
				break
			}
		}
	}
	return assignees
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := make([]policyResponse, 0)
	for _, role := range s.svc.RBAC.ListRoles() {
		policies = append(policies, policyResponse{
			Role:      *role,
			Assignees: s.policyAssignees(role.ID),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if !s.decode(w, r, &req) {
		return
	}
	role, err := s.svc.RBAC.CreateRole(req.ID, req.Name, req.Description, req.Permissions)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	for _, userID := range req.Assignees {
		if _, err := s.svc.RBAC.GetUser(userID); errors.Is(err, rbac.ErrUserNotFound) {
			if _, err := s.svc.RBAC.CreateUser(userID, userID); err != nil {
				s.respondServiceError(w, err)
				return
			}
		}
		if err := s.svc.RBAC.AssignRole(userID, role.ID); err != nil {
			s.respondServiceError(w, err)
			return
		}
	}
	s.audit("rbac", "policy_created", r, map[string]interface{}{"policy_id": role.ID})
	s.respondJSON(w, http.StatusCreated, policyResponse{
		Role:      *role,
		Assignees: s.policyAssignees(role.ID),
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	role, err := s.svc.RBAC.GetRole(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, policyResponse{
		Role:      *role,
		Assignees: s.policyAssignees(role.ID),
	})
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.RBAC.DeleteRole(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("rbac", "policy_deleted", r, map[string]interface{}{"policy_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "policy deleted"})
}

// ---- Organizations ----

func (s *Server) handleListOrgs(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"organizations": s.svc.Orgs.List()})
}

func (s *Server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	var o org.Organization
	if !s.decode(w, r, &o) {
		return
	}
	created, err := s.svc.Orgs.Create(o)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetOrg(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Orgs.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleDeleteOrg(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Orgs.Delete(mux.Vars(r)["id"]); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "organization deleted"})
}

// ---- Templates ----

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"templates": s.svc.Templates.List()})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t template.Template
	if !s.decode(w, r, &t) {
		return
	}
	created, err := s.svc.Templates.Create(t)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Templates.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Templates.Delete(mux.Vars(r)["id"]); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "template deleted"})
}

type instantiateRequest struct {
	Parameters map[string]string `json:"parameters"`
	// Submit starts a run from the instantiated workflow instead of
	// returning the document.
	Submit     bool   `json:"submit,omitempty"`
	WorkItemID string `json:"work_item_id,omitempty"`
}

func (s *Server) handleInstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.svc.Templates.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	var req instantiateRequest
	if !s.decode(w, r, &req) {
		return
	}
	spec, err := tmpl.Instantiate(req.Parameters)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if !req.Submit {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"workflow": spec})
		return
	}
	runID := s.svc.Executor.ExecuteAsync(req.WorkItemID, tenantID(r), *spec)
	s.audit("workflow", "template_instantiated", r, map[string]interface{}{
		"template_id": tmpl.ID,
		"run_id":      runID,
	})
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"workflow": spec,
		"run_id":   runID,
	})
}

// ---- Approval boards and approvals ----

type createBoardRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Approvers []string        `json:"approvers"`
	Quorum    approval.Quorum `json:"quorum"`
}

func (s *Server) handleListBoards(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"boards": s.svc.Approvals.ListBoards()})
}

func (s *Server) handleCreateBoard(w http.ResponseWriter, r *http.Request) {
	var req createBoardRequest
	if !s.decode(w, r, &req) {
		return
	}
	board, err := s.svc.Approvals.CreateBoard(req.ID, req.Name, req.Approvers, req.Quorum)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("approval", "board_created", r, map[string]interface{}{"board_id": board.ID})
	s.respondJSON(w, http.StatusCreated, board)
}

func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.svc.Approvals.GetBoard(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, board)
}

func (s *Server) handleDeleteBoard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.Approvals.DeleteBoard(id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("approval", "board_deleted", r, map[string]interface{}{"board_id": id})
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "board deleted"})
}

type requestApprovalRequest struct {
	BoardID     string `json:"board_id"`
	Subject     string `json:"subject"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"approvals": s.svc.Approvals.List()})
}

func (s *Server) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	var req requestApprovalRequest
	if !s.decode(w, r, &req) {
		return
	}
	a, err := s.svc.Approvals.Request(req.BoardID, req.Subject, req.Description, userID(r))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("approval", "approval_requested", r, map[string]interface{}{
		"approval_id": a.ID,
		"board_id":    a.BoardID,
	})
	s.respondJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Approvals.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, a)
}

type voteRequest struct {
	Voter    string            `json:"voter,omitempty"`
	Decision approval.Decision `json:"decision"`
	Comment  string            `json:"comment,omitempty"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !s.decode(w, r, &req) {
		return
	}
	voter := req.Voter
	if voter == "" {
		voter = userID(r)
	}
	a, err := s.svc.Approvals.CastVote(mux.Vars(r)["id"], voter, req.Decision, req.Comment)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("approval", "vote_cast", r, map[string]interface{}{
		"approval_id": a.ID,
		"voter":       voter,
		"decision":    string(req.Decision),
		"status":      string(a.Status),
	})
	s.respondJSON(w, http.StatusOK, a)
}

// ---- Config changes ----

type proposeChangeRequest struct {
	Target      string                 `json:"target"`
	Description string                 `json:"description,omitempty"`
	ApprovalID  string                 `json:"approval_id,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"changes": s.svc.Changes.List()})
}

func (s *Server) handleProposeChange(w http.ResponseWriter, r *http.Request) {
	var req proposeChangeRequest
	if !s.decode(w, r, &req) {
		return
	}
	change, err := s.svc.Changes.Propose(req.Target, req.Description, userID(r), req.ApprovalID, req.Payload)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("config", "change_proposed", r, map[string]interface{}{
		"change_id":   change.ID,
		"target":      change.Target,
		"approval_id": req.ApprovalID,
	})
	s.respondJSON(w, http.StatusCreated, change)
}

func (s *Server) handleGetChange(w http.ResponseWriter, r *http.Request) {
	change, err := s.svc.Changes.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, change)
}

func (s *Server) handleApplyChange(w http.ResponseWriter, r *http.Request) {
	change, err := s.svc.Changes.Apply(mux.Vars(r)["id"])
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("config", "change_applied", r, map[string]interface{}{
		"change_id":   change.ID,
		"target":      change.Target,
		"approval_id": change.ApprovalID,
	})
	s.respondJSON(w, http.StatusOK, change)
}

type rejectChangeRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleRejectChange(w http.ResponseWriter, r *http.Request) {
	var req rejectChangeRequest
	if !s.decode(w, r, &req) {
		return
	}
	change, err := s.svc.Changes.Reject(mux.Vars(r)["id"], req.Reason)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.audit("config", "change_rejected", r, map[string]interface{}{
		"change_id": change.ID,
		"reason":    req.Reason,
	})
	s.respondJSON(w, http.StatusOK, change)
}
