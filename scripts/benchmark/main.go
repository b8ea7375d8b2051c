package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/use-agent/pagelift/models"
)

// CLI flags
var (
	apiURL    = flag.String("api-url", "http://localhost:8080", "pagelift API base URL")
	apiKey    = flag.String("api-key", "", "API key for authenticated requests")
	runs      = flag.Int("runs", 3, "Number of runs per URL for averaging")
	fetchMode = flag.String("fetch-mode", models.FetchBrowser, "fetch_mode sent with every request")
	output    = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering 5 site types.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Static", "https://example.com"},
	{"Blog", "https://go.dev/blog/go1.21"},
	{"Docs", "https://go.dev/doc/effective_go"},
	{"News", "https://www.bbc.com/news"},
	{"Complex", "https://github.com/go-rod/rod"},
}

// --- Benchmark result types ---

type runResult struct {
	Run           int    `json:"run"`
	TotalMs       int64  `json:"total_ms"`
	FetchMs       int64  `json:"fetch_ms"`
	OptimizeMs    int64  `json:"optimize_ms"`
	Optimizations int64  `json:"optimizations"`
	OriginalBytes int    `json:"original_bytes"`
	OptimizedSize int    `json:"optimized_bytes"`
	Geometry      bool   `json:"geometry"`
	Engine        string `json:"engine"`
	StatusCode    int    `json:"status_code"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

type urlAverages struct {
	TotalMs       float64 `json:"total_ms"`
	FetchMs       float64 `json:"fetch_ms"`
	OptimizeMs    float64 `json:"optimize_ms"`
	Optimizations float64 `json:"optimizations"`
}

type urlResult struct {
	URL      string       `json:"url"`
	Label    string       `json:"label"`
	Runs     []runResult  `json:"runs"`
	Averages *urlAverages `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp  string      `json:"timestamp"`
	APIURL     string      `json:"api_url"`
	FetchMode  string      `json:"fetch_mode"`
	RunsPerURL int         `json:"runs_per_url"`
	Results    []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== pagelift Benchmark Suite ===")
	fmt.Printf("API URL:    %s\n", *apiURL)
	fmt.Printf("Fetch mode: %s\n", *fetchMode)
	fmt.Printf("Runs/URL:   %d\n", *runs)
	fmt.Printf("Output:     %s\n", *output)
	fmt.Println()

	// Quick connectivity check.
	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure pagelift is running (e.g. make run)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		FetchMode:  *fetchMode,
		RunsPerURL: *runs,
	}

	client := &http.Client{Timeout: 150 * time.Second}
	for _, t := range testURLs {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkURL(client, t.URL, i)
			if rr.Success {
				fmt.Printf("OK  %dms  %d optimizations (%s)\n", rr.TotalMs, rr.Optimizations, rr.Engine)
			} else {
				fmt.Printf("FAILED: %s\n", rr.Error)
			}
			ur.Runs = append(ur.Runs, rr)
		}

		ur.Averages = computeAverages(ur.Runs)
		report.Results = append(report.Results, ur)
		fmt.Println()
	}

	printTable(report.Results)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func benchmarkURL(client *http.Client, url string, run int) runResult {
	rr := runResult{Run: run}

	bodyBytes, err := json.Marshal(models.OptimizeRequest{
		URL:       url,
		Timeout:   90,
		FetchMode: *fetchMode,
	})
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/optimize", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var or models.OptimizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}
	return toRunResult(run, &or)
}

func toRunResult(run int, or *models.OptimizeResponse) runResult {
	rr := runResult{
		Run:           run,
		Success:       or.Success,
		StatusCode:    or.StatusCode,
		TotalMs:       or.Timing.TotalMs,
		FetchMs:       or.Timing.FetchMs,
		OptimizeMs:    or.Timing.OptimizeMs,
		Optimizations: or.Metrics.Total(),
		OriginalBytes: or.Size.OriginalBytes,
		OptimizedSize: or.Size.OptimizedBytes,
		Geometry:      or.GeometryCaptured,
		Engine:        or.EngineUsed,
	}
	if or.Error != nil {
		rr.Error = or.Error.Message
	}
	return rr
}

func computeAverages(runs []runResult) *urlAverages {
	var successCount int
	var avg urlAverages

	for _, r := range runs {
		if !r.Success {
			continue
		}
		successCount++
		avg.TotalMs += float64(r.TotalMs)
		avg.FetchMs += float64(r.FetchMs)
		avg.OptimizeMs += float64(r.OptimizeMs)
		avg.Optimizations += float64(r.Optimizations)
	}

	if successCount == 0 {
		return nil
	}

	n := float64(successCount)
	avg.TotalMs /= n
	avg.FetchMs /= n
	avg.OptimizeMs /= n
	avg.Optimizations /= n
	return &avg
}

func printTable(results []urlResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tAvg Total\tAvg Fetch\tAvg Optimize\tOptimizations\n")
	fmt.Fprintf(w, "───\t─────────\t─────────\t────────────\t─────────────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\n", truncateURL(r.URL, 40))
			continue
		}
		fmt.Fprintf(w, "%s\t%dms\t%dms\t%dms\t%.1f\n",
			truncateURL(r.URL, 40),
			int64(r.Averages.TotalMs),
			int64(r.Averages.FetchMs),
			int64(r.Averages.OptimizeMs),
			r.Averages.Optimizations,
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
