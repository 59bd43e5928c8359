package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prismlabs/prism/internal/approval"
	"github.com/prismlabs/prism/internal/audit"
	"github.com/prismlabs/prism/internal/config"
	"github.com/prismlabs/prism/internal/diffapply"
	"github.com/prismlabs/prism/internal/policy"
	"github.com/prismlabs/prism/internal/runner"
	"github.com/prismlabs/prism/internal/version"
)

// Core bundles the components the gateway fronts. Audit may be nil.
type Core struct {
	Engine *policy.Engine
	Queue  *approval.Queue
	Runner *runner.Runner
	Audit  *audit.Writer
}

type Server struct {
	cfg        config.GatewayConfig
	core       Core
	httpServer *http.Server
}

func New(cfg config.GatewayConfig, core Core) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18890
	}

	cfg.Host = host
	cfg.Port = port
	return &Server{
		cfg:  cfg,
		core: core,
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Start() error {
	mux := NewHandler(s.cfg.Token, s.core)
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// NewHandler builds the HTTP surface over the policy/approval/run core.
func NewHandler(token string, core Core) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"request_id": requestID,
		})
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"version":    version.Version,
			"request_id": requestID,
		})
	})

	mux.HandleFunc("/policy", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if !authorize(w, r, token, requestID) {
			return
		}
		switch r.Method {
		case http.MethodGet:
			snap := core.Engine.Snapshot()
			writeJSON(w, http.StatusOK, map[string]any{
				"mode":       snap.Mode,
				"approvals":  snap.Approvals,
				"request_id": requestID,
			})
		case http.MethodPut:
			var req struct {
				Approvals map[string]string `json:"approvals"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
				return
			}
			partial := make(map[policy.Capability]policy.Decision, len(req.Approvals))
			for rawCap, rawDecision := range req.Approvals {
				cap, capOK := policy.ParseCapability(rawCap)
				decision, decisionOK := policy.ParseDecision(rawDecision)
				if !capOK {
					writeError(w, requestID, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown capability %q", rawCap))
					return
				}
				if !decisionOK {
					writeError(w, requestID, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown decision %q", rawDecision))
					return
				}
				partial[cap] = decision
			}
			core.Engine.UpdateApprovals(partial)
			for cap, decision := range partial {
				auditPolicyChange(core, "policy.override", string(cap), string(decision))
			}
			snap := core.Engine.Snapshot()
			writeJSON(w, http.StatusOK, map[string]any{
				"mode":       snap.Mode,
				"approvals":  snap.Approvals,
				"request_id": requestID,
			})
		default:
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		}
	})

	mux.HandleFunc("/mode", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodPut {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if !authorize(w, r, token, requestID) {
			return
		}
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
			return
		}
		mode, ok := policy.ParseMode(req.Mode)
		if !ok {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown mode %q", req.Mode))
			return
		}
		core.Engine.SetMode(mode)
		auditPolicyChange(core, "policy.mode_change", "", "")
		snap := core.Engine.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"mode":       snap.Mode,
			"approvals":  snap.Approvals,
			"request_id": requestID,
		})
	})

	mux.HandleFunc("/diffs/apply", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodPost {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if !authorize(w, r, token, requestID) {
			return
		}
		var req struct {
			Diffs   []diffapply.Diff `json:"diffs"`
			Message string           `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
			return
		}
		if len(req.Diffs) == 0 {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "diffs are required")
			return
		}

		result, err := core.Queue.Submit(req.Diffs, req.Message)
		if err != nil {
			if errors.Is(err, approval.ErrForbidden) {
				writeError(w, requestID, http.StatusForbidden, "policy_forbidden", "write capability is forbidden under current policy")
				return
			}
			slog.Error("diff submit failed", "request_id", requestID, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "apply_failed", err.Error())
			return
		}

		resp := map[string]any{
			"status":     result.Status,
			"request_id": requestID,
		}
		if result.Status == approval.StatusPending {
			resp["approval_id"] = result.ID
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/approvals", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if !authorize(w, r, token, requestID) {
			return
		}
		status := approval.RequestStatus(strings.TrimSpace(r.URL.Query().Get("status")))
		requests, err := core.Queue.List(status)
		if err != nil {
			slog.Error("approval list failed", "request_id", requestID, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to list approvals")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"approvals":  requests,
			"request_id": requestID,
		})
	})

	mux.HandleFunc("POST /approvals/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if !authorize(w, r, token, requestID) {
			return
		}
		decision := decodeDecision(r)
		result, err := core.Queue.Approve(r.PathValue("id"), decision)
		if err != nil {
			writeApprovalError(w, requestID, result, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"approval":   result,
			"request_id": requestID,
		})
	})

	mux.HandleFunc("POST /approvals/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if !authorize(w, r, token, requestID) {
			return
		}
		decision := decodeDecision(r)
		result, err := core.Queue.Reject(r.PathValue("id"), decision)
		if err != nil {
			writeApprovalError(w, requestID, result, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"approval":   result,
			"request_id": requestID,
		})
	})

	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodPost {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if !authorize(w, r, token, requestID) {
			return
		}
		var req runner.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
			return
		}
		if strings.TrimSpace(req.Cmd) == "" {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "cmd is required")
			return
		}

		switch core.Engine.Check(policy.CapabilityExec) {
		case policy.DecisionForbid:
			writeError(w, requestID, http.StatusForbidden, "policy_forbidden", "exec capability is forbidden under current policy")
			return
		case policy.DecisionReview:
			writeError(w, requestID, http.StatusForbidden, "approval_required", "exec capability requires approval under current policy")
			return
		}

		runID := core.Runner.Run(req)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"run_id":     runID,
			"status":     "accepted",
			"request_id": requestID,
		})
	})

	mux.HandleFunc("POST /runs/{id}/kill", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if !authorize(w, r, token, requestID) {
			return
		}
		if !core.Runner.Kill(r.PathValue("id")) {
			writeError(w, requestID, http.StatusNotFound, "not_found", "no in-flight run with that id")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "killed",
			"request_id": requestID,
		})
	})

	return mux
}

func auditPolicyChange(core Core, eventType, capability, decision string) {
	if core.Audit == nil {
		return
	}
	if err := core.Audit.Append(audit.Event{
		Type:       eventType,
		Mode:       string(core.Engine.Mode()),
		Capability: capability,
		Decision:   decision,
	}); err != nil {
		slog.Warn("audit append failed", "type", eventType, "error", err)
	}
}

func decodeDecision(r *http.Request) approval.DecisionInput {
	var req struct {
		By     string `json:"by"`
		Note   string `json:"note"`
		Reason string `json:"reason"`
	}
	// Empty or absent bodies are fine; decisions default to "unknown".
	_ = json.NewDecoder(r.Body).Decode(&req)
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = strings.TrimSpace(req.Reason)
	}
	return approval.DecisionInput{DecidedBy: req.By, Note: note}
}

func writeApprovalError(w http.ResponseWriter, requestID string, result approval.Request, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		writeError(w, requestID, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, approval.ErrNotPending):
		writeError(w, requestID, http.StatusConflict, "approval_conflict", err.Error())
	case result.Status == approval.StatusFailed:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"code":       "apply_failed",
			"message":    err.Error(),
			"approval":   result,
			"request_id": requestID,
		})
	default:
		slog.Error("approval decision failed", "request_id", requestID, "error", err)
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func authorize(w http.ResponseWriter, r *http.Request, token, requestID string) bool {
	if strings.TrimSpace(token) == "" {
		return true
	}
	if !isAuthorized(r, token) {
		writeError(w, requestID, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return false
	}
	return true
}

func isAuthorized(r *http.Request, expected string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	if got == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(got, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(got, prefix))
	return token == expected
}

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
