package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vclip/server/internal/auth"
	"vclip/server/internal/events"
	"vclip/server/internal/job"
	"vclip/server/internal/model"
	"vclip/server/internal/provider"
	"vclip/server/internal/store"
	"vclip/server/internal/telemetry"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router http.Handler
	store  *store.MemoryStore
	auth   *auth.Service
}

func setupTestRouter(t *testing.T, authSvc *auth.Service, opts Options) testEnv {
	t.Helper()
	st := store.NewMemoryStore(nil, slog.Default())
	hub := events.NewHub()
	jobSvc := job.NewService(st, hub, provider.NewMockAdapter(t.TempDir(), 0).Set(), nil, slog.Default(), job.Options{ClipsDir: t.TempDir()})
	if authSvc == nil {
		authSvc = auth.NewService("test-secret", time.Hour, "")
	}
	s := NewServer(authSvc, st, jobSvc, hub, slog.Default(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = jobSvc.Wait(ctx)
	})
	return testEnv{router: s.Router(), store: st, auth: authSvc}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func submit(t *testing.T, env testEnv) string {
	t.Helper()
	rec := doJSON(t, env.router, http.MethodPost, "/process", map[string]string{"url": "https://example.com/watch?v=1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("process status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.JobID == "" {
		t.Fatalf("decode process response: %v %s", err, rec.Body.String())
	}
	return resp.JobID
}

func waitForTerminal(t *testing.T, env testEnv, jobID string) model.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, env.router, http.MethodGet, "/status/"+jobID, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status code=%d body=%s", rec.Code, rec.Body.String())
		}
		var j model.Job
		if err := json.Unmarshal(rec.Body.Bytes(), &j); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if j.Status.Terminal() {
			return j
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish before deadline", jobID)
	return model.Job{}
}

func TestProcessPollAndDownload(t *testing.T) {
	env := setupTestRouter(t, nil, Options{})
	jobID := submit(t, env)

	j := waitForTerminal(t, env, jobID)
	if j.Status != model.JobCompleted || j.Progress != 100 || len(j.Clips) == 0 {
		t.Fatalf("unexpected final job %+v", j)
	}

	rec := doJSON(t, env.router, http.MethodGet, "/clips/"+jobID, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clips status=%d", rec.Code)
	}
	var clips struct {
		Clips []clipView `json:"clips"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &clips); err != nil {
		t.Fatalf("decode clips: %v", err)
	}
	if len(clips.Clips) != len(j.Clips) || clips.Clips[0].DownloadURL == "" || clips.Clips[0].JobID != jobID {
		t.Fatalf("unexpected clips %+v", clips.Clips)
	}

	dl := doJSON(t, env.router, http.MethodGet, clips.Clips[0].DownloadURL, nil, nil)
	if dl.Code != http.StatusOK {
		t.Fatalf("download status=%d body=%s", dl.Code, dl.Body.String())
	}
	if !strings.HasPrefix(dl.Body.String(), "mock clip") {
		t.Fatalf("unexpected download body %q", dl.Body.String())
	}
	if !strings.Contains(dl.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("expected attachment disposition, got %q", dl.Header().Get("Content-Disposition"))
	}

	all := doJSON(t, env.router, http.MethodGet, "/clips", nil, nil)
	if all.Code != http.StatusOK || !strings.Contains(all.Body.String(), jobID) {
		t.Fatalf("list all clips status=%d body=%s", all.Code, all.Body.String())
	}
}

func TestFailedJobReportsError(t *testing.T) {
	env := setupTestRouter(t, nil, Options{})
	rec := doJSON(t, env.router, http.MethodPost, "/process", map[string]string{"url": "https://example.com/simulate-error"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("process status=%d", rec.Code)
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)

	j := waitForTerminal(t, env, resp.JobID)
	if j.Status != model.JobFailed || j.CurrentStep != model.StepDownloading || j.Error == "" {
		t.Fatalf("unexpected failed job %+v", j)
	}
}

func TestUnknownJobIs404(t *testing.T) {
	env := setupTestRouter(t, nil, Options{})
	for _, path := range []string{"/status/nope", "/clips/nope", "/status/nope/events"} {
		rec := doJSON(t, env.router, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status=%d", path, rec.Code)
			continue
		}
		var body struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s decode: %v", path, err)
		}
		if body.Error.Code != codeJobNotFound || body.Error.Details["job_id"] != "nope" {
			t.Errorf("%s unexpected error %+v", path, body.Error)
		}
	}
}

func TestProcessValidation(t *testing.T) {
	env := setupTestRouter(t, nil, Options{})
	cases := []struct {
		name string
		body any
		want int
		code string
	}{
		{name: "missing url", body: map[string]string{}, want: http.StatusUnprocessableEntity, code: codeInvalidURL},
		{name: "bad scheme", body: map[string]string{"url": "file:///etc/passwd"}, want: http.StatusUnprocessableEntity, code: codeInvalidURL},
		{name: "wrong type", body: map[string]int{"url": 3}, want: http.StatusUnprocessableEntity, code: codeInvalidBody},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, env.router, http.MethodPost, "/process", tc.body, nil)
			if rec.Code != tc.want || !strings.Contains(rec.Body.String(), tc.code) {
				t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader("url=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("form body status=%d", rec.Code)
	}
}

func TestProcessRequiresAPIKeyWhenConfigured(t *testing.T) {
	hash, err := auth.HashAPIKey("operator-key")
	if err != nil {
		t.Fatal(err)
	}
	env := setupTestRouter(t, auth.NewService("test-secret", time.Hour, hash), Options{})
	body := map[string]string{"url": "https://example.com/v"}

	if rec := doJSON(t, env.router, http.MethodPost, "/process", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key status=%d", rec.Code)
	}
	if rec := doJSON(t, env.router, http.MethodPost, "/process", body, map[string]string{"X-API-Key": "nope"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key status=%d", rec.Code)
	}
	if rec := doJSON(t, env.router, http.MethodPost, "/process", body, map[string]string{"X-API-Key": "operator-key"}); rec.Code != http.StatusOK {
		t.Fatalf("valid key status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestProcessRateLimited(t *testing.T) {
	env := setupTestRouter(t, nil, Options{RateLimitRPS: 0.01, RateLimitBurst: 1})
	body := map[string]string{"url": "https://example.com/v"}
	if rec := doJSON(t, env.router, http.MethodPost, "/process", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("first request status=%d", rec.Code)
	}
	rec := doJSON(t, env.router, http.MethodPost, "/process", body, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("second request status=%d", rec.Code)
	}
	if rec := doJSON(t, env.router, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("polling routes must not be limited, got %d", rec.Code)
	}
}

func TestDownloadRejectsBadTokens(t *testing.T) {
	env := setupTestRouter(t, nil, Options{})
	if rec := doJSON(t, env.router, http.MethodGet, "/download/not-a-token", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status=%d", rec.Code)
	}
	token, _ := env.auth.IssueDownloadToken("missing-job", "c1")
	if rec := doJSON(t, env.router, http.MethodGet, "/download/"+token, nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown clip status=%d", rec.Code)
	}
}

func TestStatusEventsForFinishedJob(t *testing.T) {
	env := setupTestRouter(t, nil, Options{})
	if _, err := env.store.Create("done", "https://example.com/v"); err != nil {
		t.Fatal(err)
	}
	if !env.store.MarkFailed("done", "download failed: 403") {
		t.Fatal("mark failed rejected")
	}

	rec := doJSON(t, env.router, http.MethodGet, "/status/done/events", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status=%d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: job_progress") || !strings.Contains(body, `"status":"failed"`) {
		t.Fatalf("unexpected stream:\n%s", body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	meter, handler, shutdown, err := telemetry.InitMetrics()
	if err != nil {
		t.Fatalf("init metrics: %v", err)
	}
	defer shutdown(context.Background())
	m, err := telemetry.NewMetrics(meter)
	if err != nil {
		t.Fatal(err)
	}
	m.JobSubmitted(context.Background())

	env := setupTestRouter(t, nil, Options{Metrics: handler})
	rec := doJSON(t, env.router, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("healthz status=%d", rec.Code)
	}
	rec = doJSON(t, env.router, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "vclip_jobs_submitted") {
		t.Fatalf("metrics status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, env.router, http.MethodGet, "/client/bootstrap", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "signed_downloads") {
		t.Fatalf("bootstrap status=%d", rec.Code)
	}
}
