package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/policy"
	"github.com/metalease/metalease/pkg/types"
)

type leaseCreateRequest struct {
	Name            string           `json:"name" validate:"omitempty,max=255"`
	ResourceType    string           `json:"resource_type"`
	ResourceUUID    string           `json:"resource_uuid" validate:"omitempty,uuid"`
	StartTime       *time.Time       `json:"start_time"`
	EndTime         *time.Time       `json:"end_time"`
	OfferUUID       string           `json:"offer_uuid" validate:"omitempty,uuid"`
	ParentLeaseUUID string           `json:"parent_lease_uuid" validate:"omitempty,uuid"`
	Purpose         string           `json:"purpose"`
	Properties      types.Properties `json:"properties"`
}

func (s *Server) handleLeaseCreate(w http.ResponseWriter, r *http.Request) {
	var req leaseCreateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), "metalease:lease:create", nil); err != nil {
		s.writeError(w, r, err)
		return
	}

	lease := &types.Lease{
		Name:            req.Name,
		ProjectID:       credentialsFrom(r.Context()).ProjectID,
		ResourceType:    req.ResourceType,
		ResourceUUID:    req.ResourceUUID,
		OfferUUID:       req.OfferUUID,
		ParentLeaseUUID: req.ParentLeaseUUID,
		Purpose:         req.Purpose,
		Properties:      req.Properties,
	}
	if req.StartTime != nil {
		lease.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		lease.EndTime = *req.EndTime
	}

	created, err := s.engine.LeaseCreate(r.Context(), lease)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleLeaseList(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r.Context(), "metalease:lease:get",
		policy.Target{"project_id": credentialsFrom(r.Context()).ProjectID}); err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	filters := engine.LeaseFilters{
		ResourceType:    q.Get("resource_type"),
		ResourceUUID:    q.Get("resource_uuid"),
		OfferUUID:       q.Get("offer_uuid"),
		ParentLeaseUUID: q.Get("parent_lease_uuid"),
		Name:            q.Get("name"),
	}
	if status := q.Get("status"); status != "" {
		filters.Statuses = []types.LeaseStatus{types.LeaseStatus(status)}
	}
	var err error
	if filters.StartTime, err = parseTimeParam(r, "start_time"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if filters.EndTime, err = parseTimeParam(r, "end_time"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if q.Get("time_filter") == string(engine.TimeFilterWithin) {
		filters.TimeFilter = engine.TimeFilterWithin
	}

	// Non-admins see leases they are party to, as lessee or owner. Admins
	// scope the same way unless they ask for view=all or filter explicitly.
	creds := credentialsFrom(r.Context())
	if creds.IsAdmin() {
		filters.ProjectID = q.Get("project_id")
		filters.OwnerID = q.Get("owner_id")
		if q.Get("view") != "all" && filters.ProjectID == "" && filters.OwnerID == "" {
			filters.ProjectOrOwnerID = creds.ProjectID
		}
	} else {
		filters.ProjectOrOwnerID = creds.ProjectID
	}

	leases, err := s.store.LeaseGetAll(r.Context(), filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, leases)
}

func (s *Server) handleLeaseGet(w http.ResponseWriter, r *http.Request) {
	lease, err := s.leaseByIdent(r.Context(), chi.URLParam(r, "ident"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), "metalease:lease:get", leaseTarget(lease)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lease)
}

func (s *Server) handleLeaseDelete(w http.ResponseWriter, r *http.Request) {
	lease, err := s.leaseByIdent(r.Context(), chi.URLParam(r, "ident"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), "metalease:lease:delete", leaseTarget(lease)); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.LeaseCancel(r.Context(), lease.UUID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"uuid": lease.UUID})
}

// leaseByIdent resolves a path identifier the same way offers do: uuid
// first, unambiguous name otherwise.
func (s *Server) leaseByIdent(ctx context.Context, ident string) (*types.Lease, error) {
	if _, err := uuid.Parse(ident); err == nil {
		return s.store.LeaseGetByUUID(ctx, ident)
	}
	leases, err := s.store.LeaseGetByName(ctx, ident)
	if err != nil {
		return nil, err
	}
	if len(leases) > 1 {
		own := leases[:0:0]
		for _, l := range leases {
			if l.ProjectID == credentialsFrom(ctx).ProjectID {
				own = append(own, l)
			}
		}
		if len(own) > 0 {
			leases = own
		}
	}
	switch len(leases) {
	case 0:
		return nil, engine.NewNotFound(fmt.Sprintf("lease %s not found", ident))
	case 1:
		return leases[0], nil
	default:
		return nil, engine.NewConflict(engine.CodeDuplicateName,
			fmt.Sprintf("lease name %s matches %d leases, use the uuid", ident, len(leases)))
	}
}

func leaseTarget(lease *types.Lease) policy.Target {
	return policy.Target{
		"project_id": lease.ProjectID,
		"owner_id":   lease.OwnerID,
	}
}
