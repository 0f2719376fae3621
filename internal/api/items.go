package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
)

type offerItemRequest struct {
	TaskID   string `json:"task_id"`
	Resource string `json:"resource"`
}

func itemIDs(items []*caselife.WorkItem) []string {
	ids := make([]string, len(items))
	for i, w := range items {
		ids[i] = w.ID.String()
	}
	return ids
}

// POST /cases/{id}/items — offer a work item directly (bypassing the
// pattern engine), for tests and manual operation of a case.
func (s *Server) handleItemOffer(w http.ResponseWriter, r *http.Request, caseID uuid.UUID) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req offerItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	item, err := s.cases.Offer(sessionFromRequest(r), caseID, req.TaskID, req.Resource)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]any{"item_id": item.ID.String(), "state": item.State.String()})
}

type itemOpRequest struct {
	Resource string                 `json:"resource,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Output   map[string]interface{} `json:"output,omitempty"`
}

// POST /cases/{id}/items/{itemID}/{op} — the full Interface-B work-item
// state machine, plus the pattern-engine-aware variants
// (complete/cancel/choose) that also step the item's governing pattern.
func (s *Server) handleItemOp(w http.ResponseWriter, r *http.Request, caseID, itemID uuid.UUID, op string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req itemOpRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess := sessionFromRequest(r)
	var err error

	switch op {
	case "allocate":
		_, err = s.cases.Allocate(sess, caseID, itemID, req.Resource)
	case "start":
		_, err = s.cases.Start(sess, caseID, itemID)
	case "complete":
		err = s.engine.CompleteItem(sess, caseID, itemID, req.Output)
	case "fail":
		_, err = s.cases.Fail(sess, caseID, itemID, req.Reason)
	case "cancel":
		err = s.engine.CancelItemExternal(sess, caseID, itemID)
	case "suspend":
		_, err = s.cases.Suspend(sess, caseID, itemID)
	case "unsuspend":
		_, err = s.cases.Unsuspend(sess, caseID, itemID)
	case "delegate":
		_, err = s.cases.Delegate(sess, caseID, itemID, req.Resource)
	case "deallocate":
		_, err = s.cases.Deallocate(sess, caseID, itemID)
	case "reoffer":
		_, err = s.cases.Reoffer(sess, caseID, itemID)
	case "reallocate-stateless":
		_, err = s.cases.ReallocateStateless(sess, caseID, itemID, req.Resource)
	case "reallocate-stateful":
		_, err = s.cases.ReallocateStateful(sess, caseID, itemID, req.Resource)
	case "choose":
		err = s.engine.Choose(sess, caseID, itemID)
	default:
		writeError(w, http.StatusNotFound, "unknown item operation")
		return
	}

	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]any{"op": op, "item_id": itemID.String()})
}

type triggerRequest struct {
	Inputs map[string]interface{} `json:"inputs,omitempty"`
}

// POST /cases/{id}/nodes/{nodeID} — pattern-engine node operations: a
// missing or "enable" body op enables the node, "trigger" requests one
// more runtime-spawned multi-instance, and "close" stops spawning further
// instances (the multi-instance-without-a-priori variant).
func (s *Server) handleNodeOp(w http.ResponseWriter, r *http.Request, caseID uuid.UUID, nodeID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	op := r.URL.Query().Get("op")
	if op == "" {
		op = "enable"
	}

	sess := sessionFromRequest(r)

	switch op {
	case "enable":
		var req triggerRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		items, err := s.engine.Enable(sess, caseID, nodeID, req.Inputs)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, map[string]any{"offered": itemIDs(items)})
	case "trigger":
		items, err := s.engine.Trigger(sess, caseID, nodeID)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, map[string]any{"offered": itemIDs(items)})
	case "close":
		if err := s.engine.CloseInstances(caseID, nodeID); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, map[string]any{"node_id": nodeID, "closed": true})
	default:
		writeError(w, http.StatusBadRequest, "unknown node operation")
	}
}

// POST /cases/{id}/regions/{region}/cancel — Cancel Region.
func (s *Server) handleRegionCancel(w http.ResponseWriter, r *http.Request, caseID uuid.UUID, region string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.engine.CancelRegion(sessionFromRequest(r), caseID, region); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]any{"region": region, "cancelled": true})
}
