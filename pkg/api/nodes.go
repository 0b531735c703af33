package api

import (
	"net/http"

	"github.com/metalease/metalease/pkg/engine"
)

// nodeEntry pairs a node snapshot with the driver that served it.
type nodeEntry struct {
	ResourceType string `json:"resource_type"`
	*engine.Node
}

func (s *Server) handleNodeList(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r.Context(), "metalease:node:get", nil); err != nil {
		s.writeError(w, r, err)
		return
	}

	resourceType := r.URL.Query().Get("resource_type")

	byType := make(map[string][]*engine.Node)
	if resourceType != "" {
		driver, err := s.drivers.Get(resourceType)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		nodes, err := driver.ListNodes(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		byType[resourceType] = nodes
	} else {
		var err error
		byType, err = s.drivers.ListAllNodes(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	entries := make([]nodeEntry, 0)
	for rt, nodes := range byType {
		for _, node := range nodes {
			entries = append(entries, nodeEntry{ResourceType: rt, Node: node})
		}
	}
	s.writeJSON(w, http.StatusOK, entries)
}
