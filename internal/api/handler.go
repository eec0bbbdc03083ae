package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/gates"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo         domain.Repository
	cache        domain.Cache
	bus          domain.EventBus
	orchestrator *scoring.Orchestrator
	custom       *gates.CustomEngine
	detectors    []domain.Detector
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, orchestrator *scoring.Orchestrator, custom *gates.CustomEngine, detectors []domain.Detector, version string) *Handler {
	return &Handler{
		repo:         repo,
		cache:        cache,
		bus:          bus,
		orchestrator: orchestrator,
		custom:       custom,
		detectors:    detectors,
		version:      version,
	}
}

// Score handles POST /api/v1/score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	tx := req.ToTransaction(time.Now())
	result := h.orchestrator.Score(ctx, tx)

	writeJSON(w, http.StatusOK, result)
}

// Health returns server health status, per-detector model state, and
// the review queue depth.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			status = "degraded"
		}
	}

	detectors := make(map[string]bool, len(h.detectors))
	for _, d := range h.detectors {
		detectors[d.Name()] = d.Loaded()
	}

	var queueDepth int64
	if h.repo != nil {
		if depth, err := h.repo.PendingReviewCount(ctx); err == nil {
			queueDepth = depth
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"version":          h.version,
		"detectors":        detectors,
		"reviewQueueDepth": queueDepth,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluation id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, evalID)
	if err != nil {
		slog.Error("failed to get evaluation", "id", evalID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, eval)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListReviewQueue returns pending review items, highest priority first.
func (h *Handler) ListReviewQueue(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	items, err := h.repo.ListPendingReviews(r.Context())
	if err != nil {
		slog.Error("failed to list review queue", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list review queue",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// SubmitReviewRequest is the request body for POST /api/v1/review.
type SubmitReviewRequest struct {
	TransactionID string `json:"transactionId"`
	AnalystID     string `json:"analystId"`
	Decision      string `json:"decision"`
}

// SubmitReview records an analyst decision on a pending review item.
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	var req SubmitReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Decision != string(domain.ActionAllow) && req.Decision != string(domain.ActionBlock) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision must be ALLOW or BLOCK",
		})
		return
	}

	err := h.repo.SubmitReview(ctx, req.TransactionID, req.AnalystID, req.Decision)
	if errors.Is(err, domain.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no pending review for transaction",
		})
		return
	}
	if err != nil {
		slog.Error("failed to submit review", "tx_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to submit review",
		})
		return
	}

	slog.Info("review submitted",
		"tx_id", req.TransactionID,
		"analyst_id", req.AnalystID,
		"decision", req.Decision,
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "review recorded",
	})
}

// ListRules returns all custom gate rules loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /api/v1/rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.custom == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "custom gate engine not available",
		})
		return
	}

	loaded := h.custom.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// CreateRule validates a new custom gate rule, saves it, and loads it
// into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.custom == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "custom gate engine not available",
		})
		return
	}

	var rule domain.GateRuleConfig
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID == "" || rule.Name == "" || rule.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	// Validate the CEL expression and rule bounds before persisting.
	if err := h.custom.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid gate rule: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveGateRule(ctx, &rule); err != nil {
			slog.Error("failed to save gate rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	if rule.Enabled {
		if err := h.custom.LoadRule(&rule); err != nil {
			slog.Error("failed to load gate rule", "id", rule.ID, "error", err)
		}
	}

	slog.Info("gate rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created and loaded.",
	})
}

// ReloadRules reloads all custom gate rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if h.custom == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "custom gate engine not available",
		})
		return
	}

	dbRules, err := h.repo.ListGateRules(ctx)
	if err != nil {
		slog.Error("failed to list gate rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.custom.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload gate rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("gate rules reloaded from database", "count", h.custom.RuleCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.custom.RuleCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
