package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagelift/api/handler"
	"github.com/use-agent/pagelift/cache"
	"github.com/use-agent/pagelift/config"
	"github.com/use-agent/pagelift/fetch"
	"github.com/use-agent/pagelift/models"
	"github.com/use-agent/pagelift/settings"
	"github.com/use-agent/pagelift/webhook"
)

const testPage = `<!doctype html><html><head><title>Fixture</title>
<meta name="description" content="A fixture page"></head>
<body><img id="hero" src="/hero.jpg"><a href="/next">next</a></body></html>`

type fakeFetcher struct {
	mu    sync.Mutex
	calls []*fetch.Request
	err   error
}

func (f *fakeFetcher) Dispatch(_ context.Context, req *fetch.Request) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.Result{
		HTML:       testPage,
		Title:      "Fixture",
		StatusCode: http.StatusOK,
		FinalURL:   req.URL,
		EngineName: "fake",
	}, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testServer struct {
	router  *gin.Engine
	fetcher *fakeFetcher
	store   *settings.MemorySource
	batches *handler.Batches
}

func newTestServer(t *testing.T, keys ...string) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Load()
	cfg.Server.Mode = gin.TestMode
	cfg.Auth.Enabled = len(keys) > 0
	cfg.Auth.APIKeys = keys
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 1000

	cc := cache.New(10)
	t.Cleanup(cc.Stop)

	ff := &fakeFetcher{}
	store := settings.NewMemorySource(settings.Defaults())
	p := &handler.Pipeline{
		Fetcher:   ff,
		Settings:  store,
		Cache:     cc,
		Optimizer: cfg.Optimizer,
		Scraper:   cfg.Scraper,
	}
	b := handler.NewBatches(ctx, p, webhook.NewNotifier(nil, []time.Duration{0}), 2)
	t.Cleanup(b.Wait)

	r := NewRouter(ctx, Deps{
		Config:    cfg,
		Pipeline:  p,
		Batches:   b,
		Settings:  store,
		StartTime: time.Now(),
	})
	return &testServer{router: r, fetcher: ff, store: store, batches: b}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestOptimizeFetchesAndOptimizes(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/optimize", map[string]any{
		"url":        "https://example.com/page",
		"fetch_mode": "http",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[models.OptimizeResponse](t, w)
	if !resp.Success || resp.EngineUsed != "fake" || resp.State != "applied" {
		t.Errorf("resp = success %v engine %q state %q", resp.Success, resp.EngineUsed, resp.State)
	}
	if !strings.Contains(resp.HTML, `loading="lazy"`) {
		t.Errorf("image not lazy-loaded: %s", resp.HTML)
	}
	if resp.Fingerprint != settings.Defaults().Fingerprint() {
		t.Errorf("fingerprint = %q", resp.Fingerprint)
	}
	if resp.Metadata.Title != "Fixture" {
		t.Errorf("title = %q", resp.Metadata.Title)
	}
	if resp.GeometryCaptured {
		t.Error("geometry reported without capture")
	}
	if resp.Size.OriginalBytes != len(testPage) || resp.Size.OptimizedBytes == 0 {
		t.Errorf("size = %+v", resp.Size)
	}
	if got := s.fetcher.calls[0]; !got.SkipRender || got.NeedGeometry {
		t.Errorf("fetch request = %+v, want SkipRender only", got)
	}
}

func TestOptimizeInlineHTMLSkipsFetch(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/optimize", map[string]any{
		"url":  "https://example.com/inline",
		"html": testPage,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if resp := decode[models.OptimizeResponse](t, w); resp.EngineUsed != "inline" {
		t.Errorf("engine = %q", resp.EngineUsed)
	}
	if n := s.fetcher.count(); n != 0 {
		t.Errorf("fetcher called %d times", n)
	}
}

func TestOptimizeSettingsOverride(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/optimize", map[string]any{
		"url":      "https://example.com/page",
		"settings": map[string]any{"features": map[string]bool{"lazyLoad": false}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[models.OptimizeResponse](t, w)
	if strings.Contains(resp.HTML, `loading="lazy"`) {
		t.Error("lazyLoad override ignored")
	}
	if resp.Fingerprint == settings.Defaults().Fingerprint() {
		t.Error("override should change the fingerprint")
	}

	w = s.do(t, http.MethodPost, "/api/v1/optimize", map[string]any{
		"url":      "https://example.com/page",
		"settings": map[string]any{"features": map[string]bool{"teleport": true}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown feature status = %d", w.Code)
	}
}

func TestOptimizeValidation(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []map[string]any{
		{},
		{"url": "not a url"},
		{"url": "https://example.com", "fetch_mode": "carrier-pigeon"},
		{"url": "https://example.com", "timeout": 500},
	} {
		w := s.do(t, http.MethodPost, "/api/v1/optimize", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%v: status = %d", body, w.Code)
			continue
		}
		resp := decode[models.OptimizeResponse](t, w)
		if resp.Success || resp.Error == nil || resp.Error.Code != models.ErrCodeInvalidInput {
			t.Errorf("%v: resp = %+v", body, resp)
		}
	}
}

func TestOptimizeFetchErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{context.DeadlineExceeded, http.StatusGatewayTimeout, models.ErrCodeTimeout},
		{errors.New("connection refused"), http.StatusBadGateway, models.ErrCodeNavigation},
		{models.NewOptimizeError(models.ErrCodeBrowserCrash, "gone", nil), http.StatusInternalServerError, models.ErrCodeBrowserCrash},
		{fetch.ErrNoEngine, http.StatusBadRequest, models.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		s := newTestServer(t)
		s.fetcher.err = tt.err
		w := s.do(t, http.MethodPost, "/api/v1/optimize", map[string]any{"url": "https://example.com"})
		if w.Code != tt.status {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.status)
		}
		if resp := decode[models.OptimizeResponse](t, w); resp.Error == nil || resp.Error.Code != tt.code {
			t.Errorf("%v: error = %+v, want %s", tt.err, resp.Error, tt.code)
		}
	}
}

func TestOptimizeCache(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"url": "https://example.com/cached", "max_age": 60000}

	first := decode[models.OptimizeResponse](t, s.do(t, http.MethodPost, "/api/v1/optimize", body))
	second := decode[models.OptimizeResponse](t, s.do(t, http.MethodPost, "/api/v1/optimize", body))
	if first.CacheStatus != "miss" || second.CacheStatus != "hit" {
		t.Errorf("cache status = %q then %q", first.CacheStatus, second.CacheStatus)
	}
	if n := s.fetcher.count(); n != 1 {
		t.Errorf("fetcher called %d times, want 1", n)
	}

	// A settings change produces a new fingerprint and therefore a miss.
	if err := s.store.Save(context.Background(), settings.Defaults().With(settings.LazyLoad, false)); err != nil {
		t.Fatal(err)
	}
	third := decode[models.OptimizeResponse](t, s.do(t, http.MethodPost, "/api/v1/optimize", body))
	if third.CacheStatus != "miss" {
		t.Errorf("after settings change cache status = %q", third.CacheStatus)
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, "secret")
	body := map[string]any{"url": "https://example.com", "html": testPage}

	if w := s.do(t, http.MethodPost, "/api/v1/optimize", body); w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/optimize", body, "X-API-Key", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/optimize", body, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("bearer: status = %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/health", nil); w.Code != http.StatusOK {
		t.Errorf("health behind auth: status = %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/health", nil)
	resp := decode[models.HealthResponse](t, w)
	if resp.Status != "healthy" || resp.Version != handler.Version {
		t.Errorf("health = %+v", resp)
	}
	if resp.Fingerprint != settings.Defaults().Fingerprint() {
		t.Errorf("fingerprint = %q", resp.Fingerprint)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPut, "/api/v1/settings", map[string]any{
		"enabled":  true,
		"features": map[string]bool{"linkPrefetch": false},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", w.Code, w.Body.String())
	}

	got := decode[models.SettingsResponse](t, s.do(t, http.MethodGet, "/api/v1/settings", nil))
	if got.Settings.Feature(settings.LinkPrefetch) || !got.Settings.Feature(settings.LazyLoad) {
		t.Errorf("settings = %+v", got.Settings.Features())
	}
	if want := settings.Defaults().With(settings.LinkPrefetch, false).Fingerprint(); got.Fingerprint != want {
		t.Errorf("fingerprint = %q, want %q", got.Fingerprint, want)
	}

	s.store.SetError(settings.ErrUnavailable)
	if w := s.do(t, http.MethodGet, "/api/v1/settings", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unavailable store: status = %d", w.Code)
	}
}

func TestBatchWithWebhook(t *testing.T) {
	var (
		mu     sync.Mutex
		events []webhook.Event
		done   = make(chan struct{})
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhook.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		close(done)
	}))
	defer hook.Close()

	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/batch/optimize", map[string]any{
		"urls":        []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"},
		"webhook_url": hook.URL,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	accepted := decode[models.BatchResponse](t, w)
	if accepted.Status != models.BatchProcessing || accepted.Total != 3 {
		t.Fatalf("accepted = %+v", accepted)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("webhook not delivered")
	}

	st := decode[models.BatchStatusResponse](t, s.do(t, http.MethodGet, "/api/v1/batch/"+accepted.ID, nil))
	if st.Status != models.BatchCompleted || st.Completed != 3 || len(st.Results) != 3 {
		t.Errorf("status = %+v", st)
	}
	for i, r := range st.Results {
		if r == nil || !r.Success {
			t.Errorf("result %d = %+v", i, r)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Type != webhook.EventBatchCompleted || events[0].JobID != accepted.ID {
		t.Errorf("events = %+v", events)
	}
}

func TestBatchUnknownAndPrune(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/api/v1/batch/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", w.Code)
	}

	s.fetcher.err = errors.New("down")
	w := s.do(t, http.MethodPost, "/api/v1/batch/optimize", map[string]any{"urls": []string{"https://example.com/x"}})
	id := decode[models.BatchResponse](t, w).ID
	s.batches.Wait()

	st := decode[models.BatchStatusResponse](t, s.do(t, http.MethodGet, "/api/v1/batch/"+id, nil))
	if st.Status != models.BatchFailed || st.Results[0].Error == nil {
		t.Errorf("status = %+v", st)
	}

	if n := s.batches.Prune(-time.Hour); n != 1 {
		t.Errorf("Prune = %d, want 1", n)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/batch/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("pruned job status = %d", w.Code)
	}
}
