//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Sentinel fraud
// detection engine.
//
// These tests verify the COMPLETE detection pipeline:
//
//	Event → Features → Providers → Combined Confidence → Case → Alerts
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. EVENT: An operational record from one of six monitored domains
//    (pump transactions, driver telemetry, inventory snapshots, ...).
//
// 2. PROVIDER: An independent signal source scoring the event 0.0 to 1.0:
//    rules (CEL expressions), anomaly (statistical), pattern (known
//    schemes), behavior (domain analyzers), ml (model ensemble).
//
// 3. CONFIDENCE: The weighted mean of all provider signals. Each domain
//    carries its own weight table.
//
// 4. CASE: Created when confidence crosses the domain threshold
//    (0.70 for pump tampering). At most one open case exists per
//    (domain, location, source) triple; repeat detections append evidence.
//
// 5. LIFECYCLE: detected → investigating → confirmed/false_positive →
//    closed. Adjudications feed the /accuracy metric.
//
// The tests seed their own rules through POST /rules, so a fresh server
// with an empty database works. Point SENTINEL_TEST_URL at the server
// under test (default http://localhost:8080).
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"
)

// TestConfig holds test environment configuration.
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("SENTINEL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Sentinel's API contract)
// ============================================================================

// PumpEvent is the pump transaction sent to POST /detect/pump_tampering.
type PumpEvent struct {
	ID        string    `json:"id"`
	StationID string    `json:"stationId"`
	PumpID    string    `json:"pumpId"`
	CashierID string    `json:"cashierId,omitempty"`
	FuelType  string    `json:"fuelType"`
	QuantityL float64   `json:"quantityLitres"`
	Amount    float64   `json:"amount"`
	UnitPrice float64   `json:"unitPrice"`
	FlowRateL float64   `json:"flowRateLpm"`
	Duration  float64   `json:"durationSecs"`
	Timestamp time.Time `json:"timestamp"`
}

// DetectResponse is what POST /detect/{domain} returns.
type DetectResponse struct {
	Domain     string   `json:"domain"`
	SourceRef  string   `json:"sourceRef"`
	Confidence float64  `json:"confidence"`
	Signals    []Signal `json:"signals"`
	Case       *Case    `json:"case,omitempty"`
}

type Signal struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type Case struct {
	ID        string     `json:"id"`
	Domain    string     `json:"domain"`
	Severity  string     `json:"severity"`
	Status    string     `json:"status"`
	Location  string     `json:"location"`
	SourceRef string     `json:"sourceRef"`
	Evidence  []Evidence `json:"evidence"`
}

type Evidence struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

type Rule struct {
	ID         string  `json:"id"`
	Domain     string  `json:"domain"`
	Name       string  `json:"name"`
	Expression string  `json:"expression"`
	Weight     float64 `json:"weight"`
	Enabled    bool    `json:"enabled"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func postJSON(t *testing.T, config TestConfig, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
	}

	req, err := http.NewRequest("POST", config.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, respBody
}

func detect(t *testing.T, config TestConfig, event PumpEvent) DetectResponse {
	t.Helper()

	resp, body := postJSON(t, config, "/detect/pump_tampering", event)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(body))
	}

	var result DetectResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

var seedOnce sync.Once

// seedRules loads the pump tampering rules every scenario relies on. The
// rule provider contributes 20% of pump confidence, which pushes clearly
// fraudulent transactions over the 0.70 case threshold.
func seedRules(t *testing.T, config TestConfig) {
	t.Helper()

	seedOnce.Do(func() {
		rules := []Rule{
			{
				ID:         "it-excess-flow",
				Domain:     "pump_tampering",
				Name:       "flow beyond pump capability",
				Expression: `f["flow_rate"] > 100.0 ? 1.0 : 0.0`,
				Weight:     2,
				Enabled:    true,
			},
			{
				ID:         "it-after-hours",
				Domain:     "pump_tampering",
				Name:       "night activation",
				Expression: `f["hour_of_day"] < 5.0 ? 1.0 : 0.0`,
				Weight:     1,
				Enabled:    true,
			},
			{
				ID:         "it-price-mismatch",
				Domain:     "pump_tampering",
				Name:       "amount diverges from metered quantity",
				Expression: `f["price_variance"] > 50.0 ? 1.0 : 0.0`,
				Weight:     2,
				Enabled:    true,
			},
		}

		for _, r := range rules {
			resp, body := postJSON(t, config, "/rules", r)
			if resp.StatusCode != http.StatusCreated {
				t.Fatalf("Failed to seed rule %s: %d %s", r.ID, resp.StatusCode, string(body))
			}
		}

		resp, body := postJSON(t, config, "/rules/reload", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Failed to reload rules: %d %s", resp.StatusCode, string(body))
		}
	})
}

func normalPump(id string) PumpEvent {
	return PumpEvent{
		ID:        id,
		StationID: "ST-INT-001",
		PumpID:    "P-3",
		CashierID: "EMP-12",
		FuelType:  "diesel",
		QuantityL: 42,
		Amount:    630,
		UnitPrice: 15,
		FlowRateL: 36,
		Duration:  70,
		Timestamp: time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC),
	}
}

// tamperedPump is a 3 AM dispense at an impossible flow rate where the
// charged amount is far above quantity times unit price.
func tamperedPump(id string) PumpEvent {
	return PumpEvent{
		ID:        id,
		StationID: "ST-INT-002",
		PumpID:    "P-1",
		CashierID: "EMP-7",
		FuelType:  "diesel",
		QuantityL: 900,
		Amount:    18000,
		UnitPrice: 15,
		FlowRateL: 160,
		Duration:  340,
		Timestamp: time.Date(2025, 6, 15, 3, 10, 0, 0, time.UTC),
	}
}

// ============================================================================
// SCENARIO 1: Normal Transaction (No Case)
// ============================================================================

func TestNormalTransaction_NoCase(t *testing.T) {
	/*
	   SCENARIO: A routine daytime diesel sale at expected flow and price.

	   EXPECTED BEHAVIOR:
	   - All rules score 0.0 (flow 36 lpm, 14:30, price matches quantity)
	   - Statistical and behavior providers stay near baseline
	   - Combined confidence well below the 0.70 pump threshold

	   FINAL DECISION: No case is opened.
	*/
	config := getTestConfig()
	seedRules(t, config)

	result := detect(t, config, normalPump("TX-INT-NORMAL-001"))

	if result.Case != nil {
		t.Errorf("Expected no case for a normal transaction, got %s", result.Case.ID)
	}
	if result.Confidence > 0.5 {
		t.Errorf("Expected low confidence (< 0.5), got %.2f", result.Confidence)
	}
	if len(result.Signals) == 0 {
		t.Error("Expected per-provider signals in the response")
	}

	t.Logf("✓ Normal transaction passed: confidence=%.2f, signals=%d",
		result.Confidence, len(result.Signals))
}

// ============================================================================
// SCENARIO 2: Tampered Pump (Case Created)
// ============================================================================

func TestTamperedPump_CaseCreated(t *testing.T) {
	/*
	   SCENARIO: Night-time dispense at 160 lpm with a charged amount
	   4,500 above the metered quantity.

	   EXPECTED BEHAVIOR:
	   - All three seeded rules fire → rules signal 1.0
	   - Anomaly provider: flow and amount are many sigmas from baseline
	   - Behavior analyzer flags flow, price variance, and after-hours use
	   - Combined confidence crosses 0.70 → case created in "detected"
	*/
	config := getTestConfig()
	seedRules(t, config)

	result := detect(t, config, tamperedPump("TX-INT-FRAUD-001"))

	if result.Confidence < 0.70 {
		t.Fatalf("Expected confidence >= 0.70, got %.2f (signals: %+v)",
			result.Confidence, result.Signals)
	}
	if result.Case == nil {
		t.Fatal("Expected a case for a tampered pump transaction")
	}
	if result.Case.Status != "detected" {
		t.Errorf("Expected status detected, got %s", result.Case.Status)
	}
	if result.Case.Location != "ST-INT-002" || result.Case.SourceRef != "TX-INT-FRAUD-001" {
		t.Errorf("Case keyed to wrong source: %s at %s",
			result.Case.SourceRef, result.Case.Location)
	}
	if result.Case.Severity == "" {
		t.Error("Case missing severity")
	}
	if len(result.Case.Evidence) == 0 {
		t.Error("Case missing evidence")
	}

	t.Logf("✓ Tampered pump alerted: case=%s, severity=%s, confidence=%.2f",
		result.Case.ID, result.Case.Severity, result.Confidence)
}

// ============================================================================
// SCENARIO 3: Repeat Detection (Evidence Appended, No Second Case)
// ============================================================================

func TestRepeatDetection_AppendsToOpenCase(t *testing.T) {
	/*
	   SCENARIO: The same fraudulent source is evaluated twice.

	   EXPECTED BEHAVIOR:
	   - First evaluation opens a case
	   - Second evaluation finds the open case for the same
	     (domain, location, source) triple and appends evidence
	   - No duplicate case is created
	*/
	config := getTestConfig()
	seedRules(t, config)

	first := detect(t, config, tamperedPump("TX-INT-REPEAT-001"))
	if first.Case == nil {
		t.Fatal("Expected a case on first detection")
	}

	second := detect(t, config, tamperedPump("TX-INT-REPEAT-001"))
	if second.Case == nil {
		t.Fatal("Expected the open case on repeat detection")
	}

	if second.Case.ID != first.Case.ID {
		t.Errorf("Repeat detection opened a second case: %s then %s",
			first.Case.ID, second.Case.ID)
	}
	if len(second.Case.Evidence) <= len(first.Case.Evidence) {
		t.Errorf("Expected appended evidence: %d then %d entries",
			len(first.Case.Evidence), len(second.Case.Evidence))
	}

	t.Logf("✓ Repeat detection merged: case=%s, evidence %d → %d",
		first.Case.ID, len(first.Case.Evidence), len(second.Case.Evidence))
}

// ============================================================================
// SCENARIO 4: Case Lifecycle
// ============================================================================

func TestCaseLifecycle(t *testing.T) {
	/*
	   SCENARIO: Walk a case through detected → investigating → confirmed
	   → closed, and verify the guarded transitions.

	   EXPECTED BEHAVIOR:
	   - detected → investigating: allowed
	   - investigating → closed: rejected with 409 (must adjudicate first)
	   - investigating → confirmed → closed: allowed
	*/
	config := getTestConfig()
	seedRules(t, config)

	result := detect(t, config, tamperedPump("TX-INT-LIFECYCLE-001"))
	if result.Case == nil {
		t.Fatal("Expected a case")
	}
	id := result.Case.ID

	setStatus := func(status string) (*http.Response, []byte) {
		return postJSON(t, config, "/cases/"+id+"/status",
			map[string]string{"status": status})
	}

	resp, body := setStatus("investigating")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detected → investigating failed: %d %s", resp.StatusCode, string(body))
	}

	resp, _ = setStatus("closed")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("investigating → closed should be rejected, got %d", resp.StatusCode)
	}

	resp, body = setStatus("confirmed")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("investigating → confirmed failed: %d %s", resp.StatusCode, string(body))
	}

	resp, body = setStatus("closed")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirmed → closed failed: %d %s", resp.StatusCode, string(body))
	}

	var closed Case
	json.Unmarshal(body, &closed)
	if closed.Status != "closed" {
		t.Errorf("Final status = %s", closed.Status)
	}

	t.Logf("✓ Lifecycle complete: %s detected → investigating → confirmed → closed", id)
}

// ============================================================================
// SCENARIO 5: Input Validation
// ============================================================================

func TestMissingStation_Error(t *testing.T) {
	/*
	   SCENARIO: Pump event without a station ID.

	   EXPECTED: HTTP 400 Bad Request from feature extraction validation.
	*/
	config := getTestConfig()

	event := normalPump("TX-INT-INVALID-001")
	event.StationID = ""

	resp, _ := postJSON(t, config, "/detect/pump_tampering", event)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing station, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing station → HTTP %d", resp.StatusCode)
}

func TestUnknownDomain_Error(t *testing.T) {
	/*
	   SCENARIO: Detection request against a domain Sentinel does not monitor.

	   EXPECTED: HTTP 400 Bad Request.
	*/
	config := getTestConfig()

	resp, _ := postJSON(t, config, "/detect/loyalty_fraud", normalPump("TX-INT-UNKNOWN-001"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown domain, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: unknown domain → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 6: Accuracy Reporting
// ============================================================================

func TestAccuracyEndpoint(t *testing.T) {
	/*
	   SCENARIO: The accuracy endpoint is always available. After the
	   lifecycle scenario adjudicated a case, the figure reflects real
	   outcomes; on a fresh server it reports the cold-start value.
	*/
	config := getTestConfig()

	req, _ := http.NewRequest("GET", config.BaseURL+"/accuracy", nil)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var stats struct {
		Accuracy float64 `json:"accuracy"`
		Window   string  `json:"window"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}

	if stats.Accuracy < 0 || stats.Accuracy > 100 {
		t.Errorf("Accuracy out of range: %.2f", stats.Accuracy)
	}
	if stats.Window == "" {
		t.Error("Missing accuracy window")
	}

	t.Logf("✓ Accuracy reported: %.1f%% over %s", stats.Accuracy, stats.Window)
}

// ============================================================================
// SCENARIO 7: Health Check
// ============================================================================

func TestHealthEndpoint(t *testing.T) {
	config := getTestConfig()

	resp, err := http.Get(config.BaseURL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if health.Status != "healthy" {
		t.Errorf("Expected healthy, got %s", health.Status)
	}

	t.Logf("✓ Health check passed: status=%s, version=%s", health.Status, health.Version)
}
