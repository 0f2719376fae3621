package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
	"github.com/antigravity-dev/ontoflow/internal/eventlog"
)

func sessionFromRequest(r *http.Request) *caselife.SessionHandle {
	tenant := r.Header.Get("X-Ontoflow-Tenant")
	return caselife.NewSession(caselife.TenantID(tenant))
}

// createCaseRequest is the POST /cases body.
type createCaseRequest struct {
	SnapshotID string `json:"snapshot_id"`
	SpecURI    string `json:"spec_uri"`
}

func caseView(c caselife.Case) map[string]any {
	items := make(map[string]any, len(c.Items))
	for id, w := range c.Items {
		items[id.String()] = map[string]any{
			"task_id":  w.TaskID,
			"state":    w.State.String(),
			"resource": w.Resource,
		}
	}
	enabled := make([]string, 0, len(c.Enabled))
	for taskID := range c.Enabled {
		enabled = append(enabled, taskID)
	}
	return map[string]any{
		"id":      c.ID.String(),
		"state":   c.State.String(),
		"tenant":  string(c.Tenant),
		"enabled": enabled,
		"items":   items,
	}
}

// POST /cases — create a case.
func (s *Server) handleCases(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	spec := caselife.WorkflowSpecRef{
		SnapshotID: digest.Digest(req.SnapshotID),
		SpecURI:    req.SpecURI,
	}
	sess := sessionFromRequest(r)
	c, err := s.cases.CreateCase(sess, spec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, caseView(c.Snapshot()))
}

// routeCasePath dispatches every /cases/{id}[/...] sub-resource: case
// detail/state, work-item lifecycle transitions, pattern-engine node
// operations, region cancellation, and event-log export.
func (s *Server) routeCasePath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/cases/")
	segs := strings.Split(path, "/")
	if segs[0] == "" {
		writeError(w, http.StatusBadRequest, "case id required")
		return
	}

	caseID, err := uuid.Parse(segs[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid case id")
		return
	}

	switch {
	case len(segs) == 1:
		s.handleCaseDetail(w, r, caseID)
	case len(segs) == 2 && segs[1] == "state":
		s.handleCaseState(w, r, caseID)
	case len(segs) == 2 && segs[1] == "eventlog":
		s.handleCaseEventlog(w, r, caseID)
	case len(segs) == 3 && segs[1] == "items":
		s.handleItemOffer(w, r, caseID)
	case len(segs) >= 4 && segs[1] == "items":
		itemID, err := uuid.Parse(segs[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid item id")
			return
		}
		s.handleItemOp(w, r, caseID, itemID, segs[3])
	case len(segs) == 3 && segs[1] == "nodes":
		s.handleNodeOp(w, r, caseID, segs[2])
	case len(segs) == 4 && segs[1] == "regions" && segs[3] == "cancel":
		s.handleRegionCancel(w, r, caseID, segs[2])
	default:
		writeError(w, http.StatusNotFound, "unknown case route")
	}
}

// GET /cases/{id}
func (s *Server) handleCaseDetail(w http.ResponseWriter, r *http.Request, caseID uuid.UUID) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	c, err := s.cases.Case(caseID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, caseView(c))
}

type caseStateRequest struct {
	Action string `json:"action"` // cancel|suspend|resume|complete|fail
	Reason string `json:"reason,omitempty"`
}

// POST /cases/{id}/state — whole-case lifecycle transitions.
func (s *Server) handleCaseState(w http.ResponseWriter, r *http.Request, caseID uuid.UUID) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req caseStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := sessionFromRequest(r)
	var err error
	switch req.Action {
	case "cancel":
		err = s.engine.CancelCase(sess, caseID)
	case "suspend":
		err = s.cases.SuspendCase(sess, caseID)
	case "resume":
		err = s.cases.ResumeCase(sess, caseID)
	case "complete":
		err = s.cases.CompleteCase(sess, caseID)
	case "fail":
		err = s.cases.FailCase(sess, caseID)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]any{"action": req.Action, "case_id": caseID.String()})
}

// GET /cases/{id}/eventlog?up_to=N — XES-equivalent export.
func (s *Server) handleCaseEventlog(w http.ResponseWriter, r *http.Request, caseID uuid.UUID) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	c, err := s.cases.Case(caseID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	upTo := len(c.History)
	if v := r.URL.Query().Get("up_to"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil && n >= 0 {
			upTo = n
		}
	}
	data, err := eventlog.Export(c, upTo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(data)
}
