// Package api provides the HTTP management surface for ontoflow:
// workflow-spec registration, snapshot promotion/rollback, case CRUD, the
// full Interface-B work-item lifecycle, pattern-engine operations, and
// receipt/event-log enumeration. This HTTP rendering is internal-facing;
// it is not the product's external protocol.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	tclient "go.temporal.io/sdk/client"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/antigravity-dev/ontoflow/internal/caselife"
	"github.com/antigravity-dev/ontoflow/internal/coldengine"
	"github.com/antigravity-dev/ontoflow/internal/config"
	"github.com/antigravity-dev/ontoflow/internal/invariant"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
	"github.com/antigravity-dev/ontoflow/internal/pattern"
	"github.com/antigravity-dev/ontoflow/internal/receipt"
	"github.com/antigravity-dev/ontoflow/internal/workflowspec"
)

// Server is the HTTP API server.
type Server struct {
	cfg            *config.Config
	store          ontology.Store
	invariant      *invariant.Engine
	cases          *caselife.Manager
	engine         *pattern.Engine
	receipts       receipt.Log
	temporal       tclient.Client
	logger         *slog.Logger
	startTime      time.Time
	httpServer     *http.Server
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server. tc may be nil — in that case
// register/promote handlers run the Cold transform loop in-process
// instead of dispatching it as a durable workflow, which keeps the server
// usable in tests and single-process deployments without a Temporal
// cluster nearby.
func NewServer(cfg *config.Config, store ontology.Store, inv *invariant.Engine, cases *caselife.Manager, eng *pattern.Engine, receipts receipt.Log, tc tclient.Client, logger *slog.Logger) (*Server, error) {
	authMiddleware, err := NewAuthMiddleware(&cfg.API.Security, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth middleware: %w", err)
	}

	return &Server{
		cfg:            cfg,
		store:          store,
		invariant:      inv,
		cases:          cases,
		engine:         eng,
		receipts:       receipts,
		temporal:       tc,
		logger:         logger,
		startTime:      time.Now(),
		authMiddleware: authMiddleware,
	}, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.authMiddleware != nil {
		return s.authMiddleware.Close()
	}
	return nil
}

// Start begins listening on the configured bind address. Blocks until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	mux.HandleFunc("/snapshot/current", s.handleSnapshotCurrent)
	mux.HandleFunc("/snapshot/rollback", s.authMiddleware.RequireAuth(s.handleSnapshotRollback))
	mux.HandleFunc("/workflows", s.authMiddleware.RequireAuth(s.handleRegisterWorkflow))

	mux.HandleFunc("/cases", s.authMiddleware.RequireAuth(s.handleCases))
	mux.HandleFunc("/cases/", s.authMiddleware.RequireAuth(s.routeCasePath))

	mux.HandleFunc("/receipts", s.handleReceiptRange)
	mux.HandleFunc("/receipts/", s.handleReceiptDetail)

	handler := otelhttp.NewHandler(mux, "ontoflow.api")

	s.httpServer = &http.Server{
		Addr:        s.cfg.API.Bind,
		Handler:     handler,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "bind", s.cfg.API.Bind)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"healthy":     true,
		"current":     s.store.Current().String(),
		"uptime_s":    time.Since(s.startTime).Seconds(),
	})
}

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"uptime_s":          time.Since(s.startTime).Seconds(),
		"receipts_head":     s.receipts.Head().String(),
		"temporal_attached": s.temporal != nil,
	})
}

// GET /snapshot/current
func (s *Server) handleSnapshotCurrent(w http.ResponseWriter, r *http.Request) {
	id := s.store.Current()
	snap, err := s.store.Load(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "no current snapshot")
		return
	}
	writeJSON(w, map[string]any{
		"id":      snap.ID.String(),
		"parent":  snap.ParentID.String(),
		"version": snap.Meta.Version,
		"sector":  snap.Meta.Sector,
		"triples": len(snap.Triples),
	})
}

// POST /snapshot/rollback
func (s *Server) handleSnapshotRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, err := s.store.Rollback()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]any{"current": id.String()})
}

// registerWorkflowRequest is the POST /workflows body: a raw workflow-spec
// document (YAML front matter + Turtle-subset body) plus whether the
// resulting candidate snapshot should be promoted immediately.
type registerWorkflowRequest struct {
	Document    string `json:"document"`
	AutoPromote bool   `json:"auto_promote"`
}

// POST /workflows — parse, validate, and (optionally) promote a workflow
// spec document, staged through the Cold-tier plan->validate->promote
// workflow so registration never blocks a Hot/Warm caller.
func (s *Server) handleRegisterWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req registerWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := workflowspec.Parse([]byte(req.Document))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse workflow document: %v", err))
		return
	}

	base := s.store.Current()
	ov, err := workflowspec.Register(base, doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.runColdTransform(r.Context(), coldengine.TransformRequest{
		Overlay:     ov,
		AutoPromote: req.AutoPromote,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, map[string]any{
		"workflow_id":  doc.Meta.WorkflowID,
		"candidate_id": result.CandidateID.String(),
		"promoted":     result.Promoted,
		"passed":       result.Report.Passed,
		"violations":   result.Report.Violations,
	})
}

// runColdTransform dispatches the Cold plan->validate->promote loop as a
// durable Temporal workflow when a client is attached, and blocks on its
// result — appropriate for this internal-facing HTTP surface. Without a
// Temporal client (tests, single-process deployments without a cluster
// nearby) the same activities run in-process instead.
func (s *Server) runColdTransform(ctx context.Context, req coldengine.TransformRequest) (coldengine.TransformResult, error) {
	if s.temporal != nil {
		workflowID := fmt.Sprintf("ontoflow-transform-%s", req.Overlay.Base)
		run, err := s.temporal.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
			ID:        workflowID,
			TaskQueue: coldengine.TaskQueue,
		}, coldengine.ColdTransformWorkflow, req)
		if err != nil {
			return coldengine.TransformResult{}, fmt.Errorf("api: start cold transform workflow: %w", err)
		}
		var result coldengine.TransformResult
		if err := run.Get(ctx, &result); err != nil {
			return coldengine.TransformResult{}, fmt.Errorf("api: cold transform workflow: %w", err)
		}
		return result, nil
	}
	return s.runColdTransformInProcess(req)
}

// runColdTransformInProcess runs the same apply->evaluate->promote steps
// ColdTransformWorkflow's activities perform, directly, for callers with
// no Temporal cluster attached.
func (s *Server) runColdTransformInProcess(req coldengine.TransformRequest) (coldengine.TransformResult, error) {
	started := time.Now()
	acts := &coldengine.Activities{Store: s.store, Invariant: s.invariant}

	applied, err := acts.ApplyOverlayActivity(context.Background(), req.Overlay)
	if err != nil {
		return coldengine.TransformResult{}, err
	}

	validated, err := acts.EvaluateActivity(context.Background(), coldengine.EvaluateRequest{
		Base:    applied.BaseID,
		Overlay: req.Overlay,
	})
	if err != nil {
		return coldengine.TransformResult{}, err
	}

	result := coldengine.TransformResult{
		CandidateID: applied.CandidateID,
		Report:      validated.Report,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}

	if !validated.Report.Passed {
		return result, nil
	}

	if req.AutoPromote {
		if err := acts.MarkValidatedAndPromoteActivity(context.Background(), applied.CandidateID); err != nil {
			return result, err
		}
		result.Promoted = true
	}

	return result, nil
}
