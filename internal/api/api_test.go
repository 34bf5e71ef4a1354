package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fuelops/sentinel/internal/accuracy"
	"github.com/fuelops/sentinel/internal/alert"
	"github.com/fuelops/sentinel/internal/bus"
	"github.com/fuelops/sentinel/internal/cache"
	"github.com/fuelops/sentinel/internal/cases"
	"github.com/fuelops/sentinel/internal/combiner"
	"github.com/fuelops/sentinel/internal/domain"
	"github.com/fuelops/sentinel/internal/engine"
	"github.com/fuelops/sentinel/internal/feature"
	"github.com/fuelops/sentinel/internal/provider"
	"github.com/fuelops/sentinel/internal/repository"
)

// scoreProvider returns a fixed score so tests can steer the pipeline
// above or below the case threshold.
type scoreProvider struct {
	score float64
}

func (p *scoreProvider) Name() string { return "rules" }
func (p *scoreProvider) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	return p.score, []domain.Evidence{{
		Type:        "rules",
		Description: "test signal",
		Source:      "rules:test",
		Reliability: 0.9,
	}}, nil
}

func newTestServer(t *testing.T, score float64) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cacheImpl := cache.NewLRUCache(100)
	busImpl := bus.NewChannelBus(10)
	t.Cleanup(func() { busImpl.Close() })

	ruleProvider, err := provider.NewRuleProvider(nil)
	if err != nil {
		t.Fatalf("failed to create rule provider: %v", err)
	}
	patternProvider := provider.NewPatternProvider()

	registry := provider.NewRegistry()
	registry.Register(domain.DomainPumpTampering, &scoreProvider{score: score})

	caseMgr := cases.NewManager(repo, nil, nil)
	eng := engine.New(
		feature.NewExtractor(),
		registry,
		combiner.New(),
		caseMgr,
		alert.NewDispatcher(busImpl, nil),
		0,
		nil,
	)
	tracker := accuracy.NewTracker(repo, 0, nil)

	return NewServer(domain.ServerConfig{}, repo, cacheImpl, busImpl, eng, caseMgr,
		registry, tracker, ruleProvider, patternProvider, "test")
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var decoded map[string]json.RawMessage
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func pumpBody() map[string]any {
	return map[string]any{
		"id":             "TX-1",
		"stationId":      "ST-001",
		"pumpId":         "P-1",
		"quantityLitres": 40.0,
		"amount":         600.0,
		"unitPrice":      15.0,
		"flowRateLpm":    35.0,
		"timestamp":      time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 0.1)

	rec, body := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if string(body["status"]) != `"healthy"` {
		t.Errorf("health status = %s", body["status"])
	}
	if string(body["version"]) != `"test"` {
		t.Errorf("version = %s", body["version"])
	}
}

func TestDetectUnknownDomain(t *testing.T) {
	srv := newTestServer(t, 0.1)

	rec, _ := doJSON(t, srv, http.MethodPost, "/detect/loyalty_fraud", pumpBody())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDetectMalformedBody(t *testing.T) {
	srv := newTestServer(t, 0.1)

	req := httptest.NewRequest(http.MethodPost, "/detect/pump_tampering", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDetectInvalidEvent(t *testing.T) {
	srv := newTestServer(t, 0.9)

	body := pumpBody()
	body["stationId"] = ""
	rec, _ := doJSON(t, srv, http.MethodPost, "/detect/pump_tampering", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDetectBelowThreshold(t *testing.T) {
	srv := newTestServer(t, 0.1)

	rec, _ := doJSON(t, srv, http.MethodPost, "/detect/pump_tampering", pumpBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var result engine.Result
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result.Case != nil {
		t.Errorf("low score produced case %s", result.Case.ID)
	}
	if result.Confidence != 0.1 {
		t.Errorf("confidence = %v", result.Confidence)
	}
}

func TestDetectCreatesAndServesCase(t *testing.T) {
	srv := newTestServer(t, 0.95)

	rec, _ := doJSON(t, srv, http.MethodPost, "/detect/pump_tampering", pumpBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var result engine.Result
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result.Case == nil {
		t.Fatal("expected a case in the detect response")
	}

	rec, _ = doJSON(t, srv, http.MethodGet, "/cases/"+result.Case.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get case status = %d", rec.Code)
	}

	var c domain.FraudCase
	json.Unmarshal(rec.Body.Bytes(), &c)
	if c.ID != result.Case.ID || c.Status != domain.StatusDetected {
		t.Errorf("served case = %+v", c)
	}

	rec, body := doJSON(t, srv, http.MethodGet, "/cases", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if string(body["count"]) != "1" {
		t.Errorf("case count = %s", body["count"])
	}
}

func TestGetCaseNotFound(t *testing.T) {
	srv := newTestServer(t, 0.1)

	rec, _ := doJSON(t, srv, http.MethodGet, "/cases/FC-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListCasesBadSince(t *testing.T) {
	srv := newTestServer(t, 0.1)

	rec, _ := doJSON(t, srv, http.MethodGet, "/cases?since=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateCaseStatus(t *testing.T) {
	srv := newTestServer(t, 0.95)

	rec, _ := doJSON(t, srv, http.MethodPost, "/detect/pump_tampering", pumpBody())
	var result engine.Result
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result.Case == nil {
		t.Fatal("expected a case")
	}
	id := result.Case.ID

	rec, _ = doJSON(t, srv, http.MethodPost, "/cases/"+id+"/status",
		StatusRequest{Status: domain.StatusInvestigating})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	// detected and investigating cannot close directly.
	rec, _ = doJSON(t, srv, http.MethodPost, "/cases/"+id+"/status",
		StatusRequest{Status: domain.StatusClosed})
	if rec.Code != http.StatusConflict {
		t.Errorf("invalid transition status = %d, want 409", rec.Code)
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/cases/FC-missing/status",
		StatusRequest{Status: domain.StatusInvestigating})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown case status = %d, want 404", rec.Code)
	}
}

func TestAccuracyColdStart(t *testing.T) {
	srv := newTestServer(t, 0.1)

	rec, _ := doJSON(t, srv, http.MethodGet, "/accuracy", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stats accuracy.Stats
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.Accuracy != accuracy.ColdStartAccuracy {
		t.Errorf("accuracy = %v, want cold start", stats.Accuracy)
	}
}

func TestProviders(t *testing.T) {
	srv := newTestServer(t, 0.95)

	// One evaluation so the provider has recorded health.
	doJSON(t, srv, http.MethodPost, "/detect/pump_tampering", pumpBody())

	rec, body := doJSON(t, srv, http.MethodGet, "/providers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if string(body["count"]) != "1" {
		t.Errorf("provider count = %s", body["count"])
	}
}

func TestRuleLifecycle(t *testing.T) {
	srv := newTestServer(t, 0.1)

	rule := domain.RuleConfig{
		ID:         "RULE-1",
		Domain:     domain.DomainPumpTampering,
		Name:       "excess flow",
		Expression: `f["flow_rate"] > 100.0 ? 1.0 : 0.0`,
		Weight:     1,
		Enabled:    true,
	}

	rec, _ := doJSON(t, srv, http.MethodPost, "/rules", rule)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	// Saved but not yet loaded into the provider.
	rec, body := doJSON(t, srv, http.MethodGet, "/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatal(rec.Code)
	}
	if string(body["count"]) != "1" || string(body["loaded"]) != "0" {
		t.Errorf("count = %s, loaded = %s", body["count"], body["loaded"])
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/rules/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload status = %d", rec.Code)
	}

	_, body = doJSON(t, srv, http.MethodGet, "/rules", nil)
	if string(body["loaded"]) != "1" {
		t.Errorf("loaded = %s after reload", body["loaded"])
	}
}

func TestCreateRuleRejectsBadExpression(t *testing.T) {
	srv := newTestServer(t, 0.1)

	rule := domain.RuleConfig{
		ID:         "RULE-bad",
		Domain:     domain.DomainPumpTampering,
		Name:       "broken",
		Expression: `f["flow_rate" >`,
		Enabled:    true,
	}

	rec, _ := doJSON(t, srv, http.MethodPost, "/rules", rule)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRuleRequiresFields(t *testing.T) {
	srv := newTestServer(t, 0.1)

	rec, _ := doJSON(t, srv, http.MethodPost, "/rules", domain.RuleConfig{ID: "RULE-1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPatternLifecycle(t *testing.T) {
	srv := newTestServer(t, 0.1)

	p := domain.KnownPattern{
		ID:         "PAT-1",
		Domain:     domain.DomainPumpTampering,
		Name:       "after-hours flow",
		Indicators: map[string]float64{"flow_rate": 80, "hour_of_day": 3},
		Enabled:    true,
	}

	rec, _ := doJSON(t, srv, http.MethodPost, "/patterns", p)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/patterns/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload status = %d", rec.Code)
	}

	_, body := doJSON(t, srv, http.MethodGet, "/patterns", nil)
	if string(body["count"]) != "1" || string(body["loaded"]) != "1" {
		t.Errorf("count = %s, loaded = %s", body["count"], body["loaded"])
	}

	rec, _ = doJSON(t, srv, http.MethodPost, "/patterns", domain.KnownPattern{ID: "PAT-2"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("pattern without indicators accepted: %d", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	srv := newTestServer(t, 0.1)

	rec, _ := doJSON(t, srv, http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}
