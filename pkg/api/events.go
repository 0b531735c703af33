package api

import (
	"net/http"
	"strconv"

	"github.com/metalease/metalease/pkg/engine"
)

func (s *Server) handleEventList(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r.Context(), "metalease:event:get", nil); err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	filters := engine.EventFilters{
		EventType:    q.Get("event_type"),
		ResourceType: q.Get("resource_type"),
		ResourceUUID: q.Get("resource_uuid"),
	}
	if raw := q.Get("last_event_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, engine.NewValidation("", "parameter last_event_id must be an integer"))
			return
		}
		filters.LastEventID = id
	}
	var err error
	if filters.LastEventTime, err = parseTimeParam(r, "last_event_time"); err != nil {
		s.writeError(w, r, err)
		return
	}

	// Non-admins only see events on records they are a party to.
	creds := credentialsFrom(r.Context())
	if creds.IsAdmin() {
		if party := q.Get("lessee_or_owner_id"); party != "" {
			filters.LesseeOrOwnerIDs = []string{party}
		}
	} else {
		filters.LesseeOrOwnerIDs = []string{creds.ProjectID}
	}

	events, err := s.store.EventGetAll(r.Context(), filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}
