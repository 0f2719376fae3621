package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/antigravity-dev/ontoflow/internal/receipt"
)

func receiptView(r *receipt.Receipt, id receipt.ID) map[string]any {
	v := map[string]any{
		"id":          int64(id),
		"snapshot_id": r.SnapshotID.String(),
		"action_hash": r.ActionHash.String(),
		"mu_hash":     r.MuHash.String(),
		"tier":        r.Tier.String(),
		"ticks":       int64(r.TickCount),
		"degraded":    r.Degraded,
		"prev_hash":   r.PrevHash.String(),
		"timestamp":   r.Timestamp,
	}
	if r.Static != nil {
		v["static_passed"] = r.Static.Passed
	}
	if r.Dynamic != nil {
		v["dynamic_passed"] = r.Dynamic.Passed
	}
	if r.Perf != nil {
		v["perf_compliant"] = r.Perf.Compliant
	}
	return v
}

// GET /receipts/{id} — single receipt lookup. GET /receipts/?from=&to=
// (empty id segment) iterates the chain and verifies it across the range
// of the append-only, hash-chained execution receipt log.
func (s *Server) handleReceiptDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/receipts/")
	if idStr == "" {
		s.handleReceiptRange(w, r)
		return
	}

	n, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid receipt id")
		return
	}
	id := receipt.ID(n)
	rec, err := s.receipts.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, receiptView(rec, id))
}

func (s *Server) handleReceiptRange(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}
	to, err := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}

	entries, err := s.receipts.Iter(receipt.ID(from), receipt.ID(to))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	verifyErr := s.receipts.Verify(receipt.ID(from), receipt.ID(to))

	views := make([]map[string]any, len(entries))
	for i, rec := range entries {
		views[i] = receiptView(rec, receipt.ID(from)+receipt.ID(i))
	}

	resp := map[string]any{"receipts": views, "chain_intact": verifyErr == nil}
	if verifyErr != nil {
		resp["chain_error"] = verifyErr.Error()
	}
	writeJSON(w, resp)
}
