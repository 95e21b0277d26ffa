package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/sentify/internal/domain"
)

const fallbackHeader = "X-Risk-Fallback"

var (
	csvFlag = &cli.StringFlag{
		Name:     "csv",
		Usage:    "Path to a labelled customer CSV",
		Required: true,
	}

	urlFlag = &cli.StringFlag{
		Name:    "url",
		Usage:   "Sentify base URL",
		Value:   "http://localhost:8000",
		Sources: cli.EnvVars("SENTIFY_URL"),
	}

	labelFlag = &cli.StringFlag{
		Name:  "label",
		Usage: "Column holding the actual outcome",
		Value: "Churn",
	}

	positiveFlag = &cli.StringFlag{
		Name:  "positive",
		Usage: "Lowest risk level counted as a positive prediction [Moderate, High]",
		Value: string(domain.RiskHigh),
	}

	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum rows to replay (0 = all)",
		Value: 0,
	}

	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Number of concurrent workers",
		Value: 10,
	}

	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Print each customer result",
	}

	replayCmd = &cli.Command{
		Name:  "replay",
		Usage: "Replay a labelled CSV against a running /predict and report detection metrics",
		Flags: []cli.Flag{
			csvFlag,
			urlFlag,
			labelFlag,
			positiveFlag,
			limitFlag,
			workersFlag,
			verboseFlag,
		},
		Action: cmdReplay,
	}
)

// Customer is one labelled CSV row.
type Customer struct {
	Line     int
	Features map[string]any
	Actual   bool
}

// Metrics tracks replay results.
type Metrics struct {
	TruePositives  int64 // Churner scored at or above the positive level
	FalsePositives int64 // Retained customer scored at or above it
	TrueNegatives  int64 // Retained customer scored below it
	FalseNegatives int64 // Churner scored below it (missed!)

	TotalProcessed int64
	TotalPositive  int64
	TotalNegative  int64
	TotalErrors    int64
	TotalFallbacks int64

	ProcessingTimeMs int64
}

// Add records one prediction against its label.
func (m *Metrics) Add(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&m.TotalPositive, 1)
	} else {
		atomic.AddInt64(&m.TotalNegative, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func (m *Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

func (m *Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func (m *Metrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	return ratio(m.TruePositives+m.TrueNegatives, total)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

var levelRank = map[domain.RiskLevel]int{
	domain.RiskLow:      0,
	domain.RiskModerate: 1,
	domain.RiskHigh:     2,
}

// parseLevel accepts a risk level name in any case.
func parseLevel(s string) (domain.RiskLevel, error) {
	for level := range levelRank {
		if strings.EqualFold(s, string(level)) {
			return level, nil
		}
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// atOrAbove reports whether level is floor or riskier.
func atOrAbove(level, floor domain.RiskLevel) bool {
	rank, ok := levelRank[level]
	return ok && rank >= levelRank[floor]
}

// parseLabel reads the common churn label spellings.
func parseLabel(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "yes", "true", "y":
		return true, nil
	case "0", "no", "false", "n":
		return false, nil
	}
	return false, fmt.Errorf("unrecognised label %q", s)
}

// parseValue turns a CSV cell into a JSON feature value. Cells that are
// neither numeric nor boolean are left out of the request.
func parseValue(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b, true
	}
	return nil, false
}

// readCustomers reads a labelled CSV. Every column except label becomes a
// feature. Rows with an unreadable label are skipped.
func readCustomers(r io.Reader, label string, limit int) ([]Customer, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	labelIdx := -1
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), label) {
			labelIdx = i
		}
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("label column %q not found", label)
	}

	var customers []Customer
	line := 1
	for {
		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		actual, err := parseLabel(record[labelIdx])
		if err != nil {
			continue
		}

		features := make(map[string]any, len(header)-1)
		for i, col := range header {
			if i == labelIdx || i >= len(record) {
				continue
			}
			if v, ok := parseValue(record[i]); ok {
				features[col] = v
			}
		}

		customers = append(customers, Customer{Line: line, Features: features, Actual: actual})

		if limit > 0 && len(customers) >= limit {
			break
		}
	}

	return customers, nil
}

// prediction is one /predict response.
type prediction struct {
	domain.RiskAssessment
	Fallback string
}

func cmdReplay(ctx context.Context, cmd *cli.Command) error {
	positive, err := parseLevel(cmd.String(positiveFlag.Name))
	if err != nil {
		return err
	}

	path := cmd.String(csvFlag.Name)
	baseURL := strings.TrimRight(cmd.String(urlFlag.Name), "/")
	out := cmd.Root().Writer

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(ctx, client, baseURL); err != nil {
		return fmt.Errorf("sentify not reachable at %s: %w", baseURL, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	customers, err := readCustomers(f, cmd.String(labelFlag.Name), cmd.Int(limitFlag.Name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	fmt.Fprintf(out, "Loaded %d customers from %s\n", len(customers), path)

	start := time.Now()
	metrics := replay(ctx, client, baseURL, customers, positive, cmd.Int(workersFlag.Name), verboseWriter(cmd))
	printResults(out, metrics, positive, time.Since(start))
	return nil
}

func verboseWriter(cmd *cli.Command) io.Writer {
	if cmd.Bool(verboseFlag.Name) {
		return cmd.Root().Writer
	}
	return nil
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// replay posts every customer to /predict using numWorkers concurrent
// workers. verbose, when non-nil, receives one line per customer.
func replay(ctx context.Context, client *http.Client, baseURL string, customers []Customer, positive domain.RiskLevel, numWorkers int, verbose io.Writer) *Metrics {
	if numWorkers < 1 {
		numWorkers = 1
	}
	metrics := &Metrics{}

	var mu sync.Mutex
	logf := func(format string, args ...any) {
		if verbose == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(verbose, format, args...)
	}

	work := make(chan Customer, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range work {
				start := time.Now()
				res, err := predict(ctx, client, baseURL, c.Features)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					logf("ERROR line %d -> %v\n", c.Line, err)
					continue
				}
				if res.Fallback != "" {
					atomic.AddInt64(&metrics.TotalFallbacks, 1)
				}

				predicted := atOrAbove(res.RiskLevel, positive)
				metrics.Add(predicted, c.Actual)

				status := "ok  "
				if predicted != c.Actual {
					status = "miss"
				}
				logf("%s line %-6d | churned: %-5v | score: %3d %-8s | fallback: %s\n",
					status, c.Line, c.Actual, res.RiskScore, res.RiskLevel, res.Fallback)
			}
		}()
	}

	for _, c := range customers {
		work <- c
	}
	close(work)

	wg.Wait()
	return metrics
}

func predict(ctx context.Context, client *http.Client, baseURL string, features map[string]any) (*prediction, error) {
	body, err := json.Marshal(features)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	res := &prediction{Fallback: resp.Header.Get(fallbackHeader)}
	if err := json.NewDecoder(resp.Body).Decode(&res.RiskAssessment); err != nil {
		return nil, err
	}
	return res, nil
}

func printResults(w io.Writer, m *Metrics, positive domain.RiskLevel, duration time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "REPLAY RESULTS")
	fmt.Fprintf(w, "  Positive prediction: %s or above\n", positive)

	fmt.Fprintln(w, "\nDATASET")
	fmt.Fprintf(w, "  Total Processed:  %d\n", m.TotalProcessed)
	fmt.Fprintf(w, "  Churned:          %d\n", m.TotalPositive)
	fmt.Fprintf(w, "  Retained:         %d\n", m.TotalNegative)
	fmt.Fprintf(w, "  Errors:           %d\n", m.TotalErrors)
	fmt.Fprintf(w, "  Fallbacks:        %d\n", m.TotalFallbacks)

	fmt.Fprintln(w, "\nCONFUSION MATRIX")
	fmt.Fprintln(w, "                     Predicted")
	fmt.Fprintln(w, "                  risky    not risky")
	fmt.Fprintf(w, "  Actual churned  %8d  %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintf(w, "        retained  %8d  %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	fmt.Fprintln(w, "\nDETECTION METRICS")
	fmt.Fprintf(w, "  Precision:  %.4f\n", m.Precision())
	fmt.Fprintf(w, "  Recall:     %.4f\n", m.Recall())
	fmt.Fprintf(w, "  F1-Score:   %.4f\n", m.F1())
	fmt.Fprintf(w, "  Accuracy:   %.4f\n", m.Accuracy())

	fmt.Fprintln(w, "\nPERFORMANCE")
	fmt.Fprintf(w, "  Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Fprintf(w, "  Avg Latency:      %.2f ms\n", avgMs)
		fmt.Fprintf(w, "  Throughput:       %.2f req/sec\n", rps)
	}

	if m.TotalProcessed > 0 && m.TotalFallbacks == m.TotalProcessed {
		fmt.Fprintln(w, "\n  WARNING: every prediction used the fallback; is the model loaded?")
	}
	fmt.Fprintln(w)
}
