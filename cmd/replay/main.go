// Replay tool for testing Sentinel against labeled pump transaction data.
//
// Usage:
//   go run cmd/replay/main.go -csv /path/to/pump_transactions.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled pump transactions (fraud column 0/1)
//   2. Sends each transaction to Sentinel for evaluation
//   3. Compares Sentinel's verdict (case opened vs not) with the labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction is one CSV row of a pump dispensing event with its
// ground-truth fraud label.
type LabeledTransaction struct {
	ID        string
	StationID string
	PumpID    string
	CashierID string
	FuelType  string
	QuantityL float64
	Amount    float64
	UnitPrice float64
	FlowRateL float64
	Duration  float64
	Timestamp time.Time
	IsFraud   bool
}

// PumpEvent is the Sentinel API request format for pump transactions.
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

// DetectResponse is the Sentinel API response format.
type DetectResponse struct {
	Domain     string  `json:"domain"`
	SourceRef  string  `json:"sourceRef"`
	Confidence float64 `json:"confidence"`
	Case       *struct {
		ID       string `json:"id"`
		Severity string `json:"severity"`
	} `json:"case"`
}

// Metrics tracks replay results
type Metrics struct {
	TruePositives  int64 // Fraud that opened a case
	FalsePositives int64 // Non-fraud that opened a case
	TrueNegatives  int64 // Non-fraud with no case
	FalseNegatives int64 // Fraud with no case (missed!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled pump transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Sentinel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud transactions")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/pump_transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         SENTINEL REPLAY - Pump Transaction Detection          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Sentinel URL: %s\n", *baseURL)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Limit:        %d\n", *limit)
	fmt.Printf("Fraud Only:   %v\n", *fraudOnly)
	fmt.Println()

	// Check Sentinel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Sentinel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Sentinel is running:")
		fmt.Println("  go run cmd/sentinel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Sentinel is healthy")

	// Read labeled data
	fmt.Printf("\nReading transactions from %s...\n", *csvPath)
	transactions, err := readLabeledCSV(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	// Run replay
	fmt.Printf("\nRunning replay with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runReplay(transactions, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Expected columns: id, station_id, pump_id, cashier_id, fuel_type,
// quantity_litres, amount, unit_price, flow_rate_lpm, duration_secs,
// timestamp (RFC 3339), is_fraud (0/1).
func readLabeledCSV(path string, limit int, fraudOnly bool) ([]LabeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var transactions []LabeledTransaction

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := record[colIndex["is_fraud"]] == "1"
		if fraudOnly && !isFraud {
			continue
		}

		quantity, _ := strconv.ParseFloat(record[colIndex["quantity_litres"]], 64)
		amount, _ := strconv.ParseFloat(record[colIndex["amount"]], 64)
		unitPrice, _ := strconv.ParseFloat(record[colIndex["unit_price"]], 64)
		flowRate, _ := strconv.ParseFloat(record[colIndex["flow_rate_lpm"]], 64)
		durationSecs, _ := strconv.ParseFloat(record[colIndex["duration_secs"]], 64)
		ts, err := time.Parse(time.RFC3339, record[colIndex["timestamp"]])
		if err != nil {
			ts = time.Now().UTC()
		}

		tx := LabeledTransaction{
			ID:        record[colIndex["id"]],
			StationID: record[colIndex["station_id"]],
			PumpID:    record[colIndex["pump_id"]],
			CashierID: record[colIndex["cashier_id"]],
			FuelType:  record[colIndex["fuel_type"]],
			QuantityL: quantity,
			Amount:    amount,
			UnitPrice: unitPrice,
			FlowRateL: flowRate,
			Duration:  durationSecs,
			Timestamp: ts,
			IsFraud:   isFraud,
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runReplay(transactions []LabeledTransaction, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := detectTransaction(client, baseURL, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.ID, err)
					}
					continue
				}

				// Track actual labels
				if tx.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				// Calculate confusion matrix
				predicted := result.Case != nil
				actual := tx.IsFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					verdict := "PASS"
					if result.Case != nil {
						verdict = "CASE"
					}
					fmt.Printf("%s %-14s | Pump: %-8s | Qty: %8.1fL | Fraud: %-5v | Sentinel: %-4s (%.2f)\n",
						status,
						tx.ID,
						tx.PumpID,
						tx.QuantityL,
						tx.IsFraud,
						verdict,
						result.Confidence,
					)
				}
			}
		}()
	}

	// Send work
	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func detectTransaction(client *http.Client, baseURL string, tx LabeledTransaction) (*DetectResponse, error) {
	event := PumpEvent{
		ID:        tx.ID,
		StationID: tx.StationID,
		PumpID:    tx.PumpID,
		CashierID: tx.CashierID,
		FuelType:  tx.FuelType,
		QuantityL: tx.QuantityL,
		Amount:    tx.Amount,
		UnitPrice: tx.UnitPrice,
		FlowRateL: tx.FlowRateL,
		Duration:  tx.Duration,
		Timestamp: tx.Timestamp,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/detect/pump_tampering", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        REPLAY RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    CASE        PASS")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of cases, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n⏱  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
