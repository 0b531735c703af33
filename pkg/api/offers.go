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

type offerCreateRequest struct {
	Name            string           `json:"name" validate:"omitempty,max=255"`
	ResourceType    string           `json:"resource_type"`
	ResourceUUID    string           `json:"resource_uuid" validate:"omitempty,uuid"`
	StartTime       *time.Time       `json:"start_time"`
	EndTime         *time.Time       `json:"end_time"`
	LesseeID        string           `json:"lessee_id"`
	ParentLeaseUUID string           `json:"parent_lease_uuid" validate:"omitempty,uuid"`
	Properties      types.Properties `json:"properties"`
}

// offerResponse is an offer as served to clients, optionally carrying the
// computed free segments.
type offerResponse struct {
	*types.Offer
	Availabilities []types.Window `json:"availabilities,omitempty"`
}

func (s *Server) handleOfferCreate(w http.ResponseWriter, r *http.Request) {
	var req offerCreateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	creds := credentialsFrom(r.Context())
	if err := s.authorize(r.Context(), "metalease:offer:create", nil); err != nil {
		s.writeError(w, r, err)
		return
	}

	lesseeID := req.LesseeID
	if lesseeID != "" && s.identity != nil {
		resolved, err := s.identity.ResolveProject(r.Context(), lesseeID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		lesseeID = resolved
	}

	offer := &types.Offer{
		Name:            req.Name,
		ProjectID:       creds.ProjectID,
		ResourceType:    req.ResourceType,
		ResourceUUID:    req.ResourceUUID,
		LesseeID:        lesseeID,
		ParentLeaseUUID: req.ParentLeaseUUID,
		Properties:      req.Properties,
	}
	if req.StartTime != nil {
		offer.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		offer.EndTime = *req.EndTime
	}

	created, err := s.engine.OfferCreate(r.Context(), offer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, offerResponse{Offer: created})
}

func (s *Server) handleOfferList(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r.Context(), "metalease:offer:get", nil); err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	filters := engine.OfferFilters{
		ProjectID:       q.Get("project_id"),
		ResourceType:    q.Get("resource_type"),
		ResourceUUID:    q.Get("resource_uuid"),
		ParentLeaseUUID: q.Get("parent_lease_uuid"),
		Name:            q.Get("name"),
	}
	if status := q.Get("status"); status != "" {
		filters.Statuses = []types.OfferStatus{types.OfferStatus(status)}
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
	if q.Get("availability_time_filter") == string(engine.TimeFilterWithin) {
		filters.TimeFilter = engine.TimeFilterWithin
	}

	// Non-admins see offers open to everyone, offers restricted to a
	// project in their parent chain, and their own offers.
	creds := credentialsFrom(r.Context())
	if !creds.IsAdmin() {
		filters.OwnProjectID = creds.ProjectID
		chain := []string{creds.ProjectID}
		if s.identity != nil {
			resolved, err := s.identity.ProjectParentChain(r.Context(), creds.ProjectID)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			chain = resolved
		}
		filters.LesseeIDs = chain
	}

	offers, err := s.store.OfferGetAll(r.Context(), filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, offers)
}

func (s *Server) handleOfferGet(w http.ResponseWriter, r *http.Request) {
	offer, err := s.offerByIdent(r.Context(), chi.URLParam(r, "ident"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), "metalease:offer:get", offerTarget(offer)); err != nil {
		s.writeError(w, r, err)
		return
	}

	availabilities, err := s.store.OfferGetAvailabilities(r.Context(), offer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, offerResponse{Offer: offer, Availabilities: availabilities})
}

func (s *Server) handleOfferDelete(w http.ResponseWriter, r *http.Request) {
	offer, err := s.offerByIdent(r.Context(), chi.URLParam(r, "ident"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), "metalease:offer:delete", offerTarget(offer)); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.OfferCancel(r.Context(), offer.UUID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"uuid": offer.UUID})
}

type offerClaimRequest struct {
	Name       string           `json:"name" validate:"omitempty,max=255"`
	StartTime  *time.Time       `json:"start_time"`
	EndTime    *time.Time       `json:"end_time"`
	Purpose    string           `json:"purpose"`
	Properties types.Properties `json:"properties"`
}

func (s *Server) handleOfferClaim(w http.ResponseWriter, r *http.Request) {
	offer, err := s.offerByIdent(r.Context(), chi.URLParam(r, "ident"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req offerClaimRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), "metalease:offer:claim", offerTarget(offer)); err != nil {
		s.writeError(w, r, err)
		return
	}

	lease := &types.Lease{
		Name:       req.Name,
		ProjectID:  credentialsFrom(r.Context()).ProjectID,
		OfferUUID:  offer.UUID,
		Purpose:    req.Purpose,
		Properties: req.Properties,
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

// offerByIdent resolves a path identifier: a uuid looks itself up directly,
// anything else is treated as an offer name. An ambiguous name narrows to
// the caller's own offers before giving up.
func (s *Server) offerByIdent(ctx context.Context, ident string) (*types.Offer, error) {
	if _, err := uuid.Parse(ident); err == nil {
		return s.store.OfferGetByUUID(ctx, ident)
	}
	offers, err := s.store.OfferGetByName(ctx, ident)
	if err != nil {
		return nil, err
	}
	if len(offers) > 1 {
		own := offers[:0:0]
		for _, o := range offers {
			if o.ProjectID == credentialsFrom(ctx).ProjectID {
				own = append(own, o)
			}
		}
		if len(own) > 0 {
			offers = own
		}
	}
	switch len(offers) {
	case 0:
		return nil, engine.NewNotFound(fmt.Sprintf("offer %s not found", ident))
	case 1:
		return offers[0], nil
	default:
		return nil, engine.NewConflict(engine.CodeDuplicateName,
			fmt.Sprintf("offer name %s matches %d offers, use the uuid", ident, len(offers)))
	}
}

func offerTarget(offer *types.Offer) policy.Target {
	return policy.Target{
		"project_id": offer.ProjectID,
		"lessee_id":  offer.LesseeID,
	}
}
