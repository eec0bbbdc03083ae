// Benchmark tool for testing Kestrel against synthetic payment traffic.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -count 10000
//
// This tool:
//   1. Generates synthetic transactions with known fraud labels
//   2. Sends each transaction to Kestrel for scoring
//   3. Compares Kestrel's verdict (restrictive vs ALLOW) with the labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction is one synthetic transaction with its fraud label.
type LabeledTransaction struct {
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	PayerID       string  `json:"payerId"`
	PayeeID       string  `json:"payeeId"`
	Message       *string `json:"message"`
	Type          string  `json:"transactionType"`
	PayeeIsNew    bool    `json:"payeeIsNew"`
	Device        any     `json:"device,omitempty"`

	IsFraud bool `json:"-"`
	Pattern string `json:"-"`
}

// ScoreResponse is the Kestrel API response format.
type ScoreResponse struct {
	TransactionID string   `json:"transactionId"`
	TrustScore    int      `json:"trustScore"`
	Action        string   `json:"action"`
	Reasons       []string `json:"reasons"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud flagged (WARN/BLOCK/HUMAN_REVIEW)
	FalsePositives int64 // Legit flagged
	TrueNegatives  int64 // Legit allowed
	FalseNegatives int64 // Fraud allowed (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalLegit     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

var benignMessages = []string{
	"dinner split from last night",
	"rent for march",
	"happy birthday!",
	"grocery share",
	"cab fare",
	"monthly maid payment",
	"thanks for the coffee",
	"movie tickets",
	"gift for mom",
	"electricity bill share",
}

var phishingMessages = []string{
	"URGENT your account will be suspended, verify OTP at http://bit.ly/kyc-verify",
	"Bank security alert: share your PIN immediately or account blocked",
	"Final notice: unauthorized access detected, confirm password at www.secure-verify.com",
	"Action required: account deactivated, send one time password to reactivate",
}

var quishingMessages = []string{
	"scan this QR code to receive your cashback reward",
	"you won a prize! scan to claim your refund now",
	"parking fine payment - scan code to avoid penalty",
}

var collectMessages = []string{
	"approve this collect request to receive your refund",
	"pay 1 rupee to verify and receive 5000 cashback",
	"accept request to claim your lottery winnings",
}

var malwareMessages = []string{
	"install this app update to continue payments",
	"download apk from link for bonus rewards",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	count := flag.Int("count", 10000, "Number of transactions to generate")
	fraudRate := flag.Float64("fraud-rate", 0.1, "Fraction of transactions that are fraud (0.0-1.0)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "Random seed for reproducible runs")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - Synthetic Fraud Detection         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Count:       %d\n", *count)
	fmt.Printf("Fraud Rate:  %.2f\n", *fraudRate)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Generate synthetic traffic
	fmt.Printf("\nGenerating %d synthetic transactions...\n", *count)
	transactions := generateTraffic(*count, *fraudRate, *seed)

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("✓ Generated %d transactions\n", len(transactions))
	fmt.Printf("  - Fraud: %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Legit: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

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

func generateTraffic(count int, fraudRate float64, seed int64) []LabeledTransaction {
	rng := rand.New(rand.NewSource(seed))
	transactions := make([]LabeledTransaction, 0, count)

	for i := 0; i < count; i++ {
		isFraud := rng.Float64() < fraudRate

		tx := LabeledTransaction{
			TransactionID: fmt.Sprintf("bench-%06d", i),
			PayerID:       fmt.Sprintf("payer-%04d", rng.Intn(500)),
			PayeeID:       fmt.Sprintf("payee-%04d", rng.Intn(500)),
			Type:          "pay",
			IsFraud:       isFraud,
		}

		if !isFraud {
			msg := benignMessages[rng.Intn(len(benignMessages))]
			tx.Message = &msg
			tx.Amount = 50 + rng.Float64()*4950
			tx.Pattern = "benign"
			transactions = append(transactions, tx)
			continue
		}

		// Pick a fraud pattern
		var msg string
		switch rng.Intn(4) {
		case 0:
			msg = phishingMessages[rng.Intn(len(phishingMessages))]
			tx.Pattern = "phishing"
			tx.Amount = 5000 + rng.Float64()*95000
			tx.PayeeIsNew = true
		case 1:
			msg = quishingMessages[rng.Intn(len(quishingMessages))]
			tx.Pattern = "quishing"
			tx.Type = "qr_pay"
			tx.Amount = 1000 + rng.Float64()*20000
			tx.PayeeIsNew = true
		case 2:
			msg = collectMessages[rng.Intn(len(collectMessages))]
			tx.Pattern = "collect"
			tx.Type = "collect"
			tx.Amount = 500 + rng.Float64()*10000
			tx.PayeeIsNew = true
		default:
			msg = malwareMessages[rng.Intn(len(malwareMessages))]
			tx.Pattern = "malware"
			tx.Amount = 2000 + rng.Float64()*30000
			tx.Device = map[string]any{
				"sideloaded":      true,
				"permissionCount": 40 + rng.Intn(20),
			}
		}
		tx.Message = &msg
		transactions = append(transactions, tx)
	}

	return transactions
}

func runBenchmark(transactions []LabeledTransaction, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := scoreTransaction(client, baseURL, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.TransactionID, err)
					}
					continue
				}

				if tx.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalLegit, 1)
				}

				// Any restrictive action counts as flagged
				predicted := result.Action != "ALLOW"
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
					fmt.Printf("%s %-12s | Pattern: %-8s | Amount: %10.2f | Fraud: %-5v | Kestrel: %-12s (trust %3d)\n",
						status,
						tx.TransactionID,
						tx.Pattern,
						tx.Amount,
						tx.IsFraud,
						result.Action,
						result.TrustScore,
					)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func scoreTransaction(client *http.Client, baseURL string, tx LabeledTransaction) (*ScoreResponse, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/score", bytes.NewReader(body))
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

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Legit:      %d\n", m.TotalLegit)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                 Flagged      Allowed")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           L  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

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
	fmt.Printf("   Precision:  %.4f  (of flags, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalLegit > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalLegit) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalLegit, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
