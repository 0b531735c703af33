package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/policy"
	"github.com/metalease/metalease/pkg/types"
)

type ownerChangeCreateRequest struct {
	FromOwnerID  string     `json:"from_owner_id" validate:"required"`
	ToOwnerID    string     `json:"to_owner_id" validate:"required"`
	ResourceType string     `json:"resource_type"`
	ResourceUUID string     `json:"resource_uuid" validate:"required,uuid"`
	StartTime    *time.Time `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
}

func (s *Server) handleOwnerChangeCreate(w http.ResponseWriter, r *http.Request) {
	var req ownerChangeCreateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), "metalease:owner_change:create", nil); err != nil {
		s.writeError(w, r, err)
		return
	}

	fromID, toID := req.FromOwnerID, req.ToOwnerID
	if s.identity != nil {
		var err error
		if fromID, err = s.identity.ResolveProject(r.Context(), fromID); err != nil {
			s.writeError(w, r, err)
			return
		}
		if toID, err = s.identity.ResolveProject(r.Context(), toID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	oc := &types.OwnerChange{
		FromOwnerID:  fromID,
		ToOwnerID:    toID,
		ResourceType: req.ResourceType,
		ResourceUUID: req.ResourceUUID,
	}
	if req.StartTime != nil {
		oc.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		oc.EndTime = *req.EndTime
	}

	created, err := s.engine.OwnerChangeCreate(r.Context(), oc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleOwnerChangeList(w http.ResponseWriter, r *http.Request) {
	// The listing is scoped to transfers the caller is a party to, so the
	// party rule is checked against the caller itself.
	self := credentialsFrom(r.Context()).ProjectID
	if err := s.authorize(r.Context(), "metalease:owner_change:get",
		policy.Target{"from_owner_id": self, "to_owner_id": self}); err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	filters := engine.OwnerChangeFilters{
		ResourceType: q.Get("resource_type"),
		ResourceUUID: q.Get("resource_uuid"),
	}
	if status := q.Get("status"); status != "" {
		filters.Statuses = []types.OwnerChangeStatus{types.OwnerChangeStatus(status)}
	}

	// Non-admins only see transfers they are a party to.
	creds := credentialsFrom(r.Context())
	if creds.IsAdmin() {
		filters.FromOwnerID = q.Get("from_owner_id")
		filters.ToOwnerID = q.Get("to_owner_id")
	} else {
		filters.AnyOwnerID = creds.ProjectID
	}

	changes, err := s.store.OwnerChangeGetAll(r.Context(), filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleOwnerChangeGet(w http.ResponseWriter, r *http.Request) {
	oc, err := s.store.OwnerChangeGetByUUID(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), "metalease:owner_change:get", ownerChangeTarget(oc)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, oc)
}

func (s *Server) handleOwnerChangeDelete(w http.ResponseWriter, r *http.Request) {
	oc, err := s.store.OwnerChangeGetByUUID(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), "metalease:owner_change:delete", ownerChangeTarget(oc)); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.OwnerChangeCancel(r.Context(), oc.UUID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"uuid": oc.UUID})
}

func ownerChangeTarget(oc *types.OwnerChange) policy.Target {
	return policy.Target{
		"from_owner_id": oc.FromOwnerID,
		"to_owner_id":   oc.ToOwnerID,
	}
}
