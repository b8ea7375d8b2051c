package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/pagelift/models"
	"github.com/use-agent/pagelift/settings"
)

func main() {
	apiURL := os.Getenv("PAGELIFT_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("PAGELIFT_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "PAGELIFT_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"pagelift",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	registerTools(s, apiURL, apiKey)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func registerTools(s *server.MCPServer, apiURL, apiKey string) {
	optimizeTool := mcp.NewTool("optimize_page",
		mcp.WithDescription("Fetch a web page, apply loading optimizations (lazy loading, image priority, resource hints, prefetching) and return the rewritten HTML with a summary of what changed."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the page to optimize"),
		),
		mcp.WithString("html",
			mcp.Description("Optional markup to optimize instead of fetching the URL"),
		),
		mcp.WithString("fetch_mode",
			mcp.Description("'auto' (default) races HTTP against the browser, 'browser' captures layout for geometry-driven optimizations, 'http' skips rendering"),
			mcp.Enum(models.FetchAuto, models.FetchBrowser, models.FetchHTTP),
		),
		mcp.WithBoolean("include_html",
			mcp.Description("Include the optimized HTML in the result (default: true)"),
		),
	)
	s.AddTool(optimizeTool, handleOptimize(apiURL, apiKey))

	batchTool := mcp.NewTool("batch_optimize",
		mcp.WithDescription("Optimize several pages in parallel and report what changed on each."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("List of URLs to optimize"),
		),
		mcp.WithString("fetch_mode",
			mcp.Description("'auto' (default), 'browser' or 'http'"),
			mcp.Enum(models.FetchAuto, models.FetchBrowser, models.FetchHTTP),
		),
	)
	s.AddTool(batchTool, handleBatchOptimize(apiURL, apiKey))

	settingsTool := mcp.NewTool("get_settings",
		mcp.WithDescription("Show which optimizations are currently enabled."),
	)
	s.AddTool(settingsTool, handleGetSettings(apiURL, apiKey))
}

// apiDo sends a request to the pagelift API and returns the response body.
func apiDo(ctx context.Context, client *http.Client, method, apiURL, apiKey, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls a job endpoint until status is no longer "processing" or context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, apiKey, endpoint string, every time.Duration) ([]byte, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			body, err := apiDo(ctx, client, http.MethodGet, apiURL, apiKey, endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("poll: %w", err)
			}

			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}
			if status.Status != models.BatchProcessing {
				return body, nil
			}
		}
	}
}

func handleOptimize(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 150 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		payload := models.OptimizeRequest{
			URL:       url,
			HTML:      request.GetString("html", ""),
			FetchMode: request.GetString("fetch_mode", ""),
		}
		respBody, err := apiDo(ctx, client, http.MethodPost, apiURL, apiKey, "/api/v1/optimize", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("optimize request failed: %v", err)), nil
		}

		var resp models.OptimizeResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(errorText(resp.Error, "optimize failed")), nil
		}

		result := summarize(&resp)
		if request.GetBool("include_html", true) {
			result += "\n" + resp.HTML
		}
		return mcp.NewToolResultText(result), nil
	}
}

func handleBatchOptimize(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil {
			return mcp.NewToolResultError("urls is required and must be an array of strings"), nil
		}

		payload := models.BatchRequest{
			URLs:    urls,
			Options: models.BatchOptions{FetchMode: request.GetString("fetch_mode", "")},
		}
		respBody, err := apiDo(ctx, client, http.MethodPost, apiURL, apiKey, "/api/v1/batch/optimize", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("batch request failed: %v", err)), nil
		}

		var batchResp models.BatchResponse
		if err := json.Unmarshal(respBody, &batchResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch response: %v", err)), nil
		}
		if batchResp.ID == "" {
			return mcp.NewToolResultError(errorText(batchResp.Error, "batch job creation failed")), nil
		}

		resultBody, err := pollJobCompletion(ctx, client, apiURL, apiKey, "/api/v1/batch/"+batchResp.ID, 2*time.Second)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling batch job failed: %v", err)), nil
		}

		var statusResp models.BatchStatusResponse
		if err := json.Unmarshal(resultBody, &statusResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch status: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Batch %s: %s (%d/%d completed)\n\n", statusResp.ID, statusResp.Status, statusResp.Completed, statusResp.Total)
		for i, r := range statusResp.Results {
			switch {
			case r == nil:
				fmt.Fprintf(&sb, "--- [%d] pending ---\n\n", i+1)
			case r.Success:
				fmt.Fprintf(&sb, "--- [%d] %s ---\n%s\n", i+1, r.FinalURL, summarize(r))
			default:
				fmt.Fprintf(&sb, "--- [%d] FAILED: %s ---\n\n", i+1, errorText(r.Error, "unknown error"))
			}
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleGetSettings(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiDo(ctx, client, http.MethodGet, apiURL, apiKey, "/api/v1/settings", nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("settings request failed: %v", err)), nil
		}

		var resp models.SettingsResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse settings: %v", err)), nil
		}
		if resp.Error != nil {
			return mcp.NewToolResultError(errorText(resp.Error, "")), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Optimizations enabled: %v (fingerprint %s)\n\n", resp.Settings.Enabled(), resp.Fingerprint)
		for _, f := range settings.All {
			mark := "off"
			if resp.Settings.Feature(f) {
				mark = "on"
			}
			fmt.Fprintf(&sb, "  %-20s %s\n", f, mark)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// summarize renders the non-HTML parts of a response.
func summarize(resp *models.OptimizeResponse) string {
	var sb strings.Builder
	if resp.Metadata.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", resp.Metadata.Title)
	}
	fmt.Fprintf(&sb, "Source: %s (engine %s, geometry %v)\n", resp.FinalURL, resp.EngineUsed, resp.GeometryCaptured)
	fmt.Fprintf(&sb, "Size: %d → %d bytes\n", resp.Size.OriginalBytes, resp.Size.OptimizedBytes)

	names := make([]string, 0, len(resp.Metrics.Counts))
	for name, n := range resp.Metrics.Counts {
		if n > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	if len(names) == 0 {
		sb.WriteString("Optimizations: none\n")
	} else {
		sb.WriteString("Optimizations:\n")
		for _, name := range names {
			fmt.Fprintf(&sb, "  %s: %d\n", name, resp.Metrics.Counts[name])
		}
	}
	return sb.String()
}

func errorText(detail *models.ErrorDetail, fallback string) string {
	if detail == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", detail.Code, detail.Message)
}
