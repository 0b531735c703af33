package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/metalease/metalease/pkg/engine"
)

type consoleTokenCreateRequest struct {
	Node string `json:"node_uuid" validate:"required"`
}

func (s *Server) handleConsoleTokenCreate(w http.ResponseWriter, r *http.Request) {
	var req consoleTokenCreateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), "metalease:console:create", nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	nodeUUID, err := s.nodeByIdent(r.Context(), req.Node)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	issued, err := s.console.Issue(r.Context(), nodeUUID, credentialsFrom(r.Context()).ProjectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, issued)
}

func (s *Server) handleConsoleTokenDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r.Context(), "metalease:console:delete", nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	nodeUUID, err := s.nodeByIdent(r.Context(), chi.URLParam(r, "node_uuid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.console.Invalidate(r.Context(), nodeUUID, credentialsFrom(r.Context()).ProjectID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"node_uuid": nodeUUID})
}

// nodeByIdent accepts a node uuid verbatim; anything else is matched
// against driver node names.
func (s *Server) nodeByIdent(ctx context.Context, ident string) (string, error) {
	if _, err := uuid.Parse(ident); err == nil {
		return ident, nil
	}
	byType, err := s.drivers.ListAllNodes(ctx)
	if err != nil {
		return "", err
	}
	var found string
	for _, nodes := range byType {
		for _, node := range nodes {
			if node.Name != ident {
				continue
			}
			if found != "" && found != node.UUID {
				return "", engine.NewConflict(engine.CodeDuplicateName,
					fmt.Sprintf("node name %s matches several nodes, use the uuid", ident))
			}
			found = node.UUID
		}
	}
	if found == "" {
		return "", engine.NewNotFound(fmt.Sprintf("node %s not found", ident))
	}
	return found, nil
}
