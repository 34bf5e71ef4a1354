package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fuelops/sentinel/internal/accuracy"
	"github.com/fuelops/sentinel/internal/cases"
	"github.com/fuelops/sentinel/internal/domain"
	"github.com/fuelops/sentinel/internal/engine"
	"github.com/fuelops/sentinel/internal/feature"
	"github.com/fuelops/sentinel/internal/provider"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *engine.Engine
	cases    *cases.Manager
	registry *provider.Registry
	tracker  *accuracy.Tracker
	rules    *provider.RuleProvider
	patterns *provider.PatternProvider
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	eng *engine.Engine,
	caseMgr *cases.Manager,
	registry *provider.Registry,
	tracker *accuracy.Tracker,
	rules *provider.RuleProvider,
	patterns *provider.PatternProvider,
	version string,
) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   eng,
		cases:    caseMgr,
		registry: registry,
		tracker:  tracker,
		rules:    rules,
		patterns: patterns,
		version:  version,
	}
}

// Detect handles POST /detect/{domain}: it decodes the domain event from
// the request body, runs the full evaluation pipeline, and returns the
// confidence plus any case created.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	d := domain.DomainType(chi.URLParam(r, "domain"))
	if !domain.ValidDomain(d) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown detection domain: " + string(d),
		})
		return
	}

	event, err := decodeEvent(d, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	result, err := h.engine.Evaluate(r.Context(), d, event)
	if err != nil {
		if errors.Is(err, cases.ErrInvalidInput) || errors.Is(err, feature.ErrInvalidEvent) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("evaluation failed", "domain", d, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// decodeEvent unmarshals the request body into the domain's event type.
func decodeEvent(d domain.DomainType, r *http.Request) (any, error) {
	decode := func(v any) (any, error) {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			return nil, errors.New("invalid JSON request body")
		}
		return v, nil
	}

	switch d {
	case domain.DomainPumpTampering:
		return decode(&domain.PumpTransaction{})
	case domain.DomainDriverDiversion:
		return decode(&domain.DriverTelemetry{})
	case domain.DomainInventoryTheft:
		return decode(&domain.InventorySnapshot{})
	case domain.DomainTransactionFraud:
		return decode(&domain.FinancialTransaction{})
	case domain.DomainPriceManipulation:
		return decode(&domain.PriceChange{})
	case domain.DomainDocumentForgery:
		return decode(&domain.ScannedDocument{})
	}
	return nil, errors.New("unknown detection domain")
}

// GetCase handles GET /cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "case id is required",
		})
		return
	}

	c, err := h.cases.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "case not found",
			})
			return
		}
		slog.Error("failed to get case", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get case",
		})
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// ListCases handles GET /cases with optional status and since filters.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	status := domain.CaseStatus(r.URL.Query().Get("status"))

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC 3339",
			})
			return
		}
		since = t
	}

	list, err := h.cases.List(r.Context(), status, since)
	if err != nil {
		slog.Error("failed to list cases", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list cases",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cases": list,
		"count": len(list),
	})
}

// StatusRequest is the request body for POST /cases/{id}/status.
type StatusRequest struct {
	Status domain.CaseStatus `json:"status"`
}

// UpdateCaseStatus handles POST /cases/{id}/status.
func (h *Handler) UpdateCaseStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	c, err := h.cases.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "case not found",
			})
		case errors.Is(err, domain.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
		default:
			slog.Error("failed to update case status", "id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to update case status",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// Accuracy handles GET /accuracy.
func (h *Handler) Accuracy(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tracker.Current(r.Context())
	if err != nil {
		slog.Error("failed to compute accuracy", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute accuracy",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Providers handles GET /providers: health of every registered provider.
func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	status := h.registry.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": status,
		"count":     len(status),
	})
}

// ListRules returns all rules currently loaded in the rule provider.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	d := domain.DomainType(r.URL.Query().Get("domain"))

	rules, err := h.repo.ListRules(r.Context(), d)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rules,
		"count":  len(rules),
		"loaded": h.rules.RulesCount(),
	})
}

// CreateRule validates and persists a rule.
// After saving, call POST /rules/reload to hot-reload into the provider.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var cfg domain.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if cfg.ID == "" || cfg.Name == "" || cfg.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if !domain.ValidDomain(cfg.Domain) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown domain: " + string(cfg.Domain),
		})
		return
	}

	if err := h.rules.ValidateRule(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(r.Context(), &cfg); err != nil {
		slog.Error("failed to save rule", "id", cfg.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", cfg.ID, "domain", cfg.Domain, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    cfg,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the rule provider.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	dbRules, err := h.repo.ListRules(r.Context(), "")
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.rules.LoadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into provider", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// ListPatterns returns persisted patterns, optionally filtered by domain.
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	d := domain.DomainType(r.URL.Query().Get("domain"))

	patterns, err := h.repo.ListPatterns(r.Context(), d)
	if err != nil {
		slog.Error("failed to list patterns", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list patterns",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": patterns,
		"count":    len(patterns),
		"loaded":   h.patterns.PatternCount(),
	})
}

// CreatePattern persists a known fraud pattern.
// After saving, call POST /patterns/reload to apply it.
func (h *Handler) CreatePattern(w http.ResponseWriter, r *http.Request) {
	var p domain.KnownPattern
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if p.ID == "" || p.Name == "" || len(p.Indicators) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and indicators are required",
		})
		return
	}
	if !domain.ValidDomain(p.Domain) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown domain: " + string(p.Domain),
		})
		return
	}

	if err := h.repo.SavePattern(r.Context(), &p); err != nil {
		slog.Error("failed to save pattern", "id", p.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save pattern",
		})
		return
	}

	slog.Info("pattern created", "id", p.ID, "domain", p.Domain, "name", p.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"pattern": p,
		"message": "Pattern created. Call POST /patterns/reload to apply changes.",
	})
}

// ReloadPatterns reloads all patterns from the database into the pattern
// provider.
func (h *Handler) ReloadPatterns(w http.ResponseWriter, r *http.Request) {
	dbPatterns, err := h.repo.ListPatterns(r.Context(), "")
	if err != nil {
		slog.Error("failed to list patterns from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load patterns from database",
		})
		return
	}

	h.patterns.LoadPatterns(dbPatterns)

	slog.Info("patterns reloaded from database", "count", len(dbPatterns))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "patterns reloaded successfully",
		"count":   len(dbPatterns),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
