package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/middleware"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/internal/store"
)

const testWebhookSecret = "test-webhook-secret"

type fakeBroadcaster struct {
	mu     sync.Mutex
	deltas []string
}

func (b *fakeBroadcaster) JobAccepted(string, time.Time) {}

func (b *fakeBroadcaster) push(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deltas = append(b.deltas, kind)
}

func (b *fakeBroadcaster) JobProgress(*model.Event) { b.push("progress") }
func (b *fakeBroadcaster) JobComplete(*model.Event) { b.push("complete") }
func (b *fakeBroadcaster) JobError(*model.Event)    { b.push("error") }

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deltas)
}

type testApp struct {
	app   *fiber.App
	store *store.MemoryStore
	bcast *fakeBroadcaster
	svc   *service.JobService
}

// setupApp builds the route surface of main.go on a memory store, with the
// asynq client nil so submission is disabled.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	st := store.NewMemoryStore()
	bcast := &fakeBroadcaster{}
	svc := service.NewJobService(st, nil, bcast, time.Hour)
	validate := validator.New()

	jobHandler := NewJobHandler(svc, validate)
	webhookHandler := NewWebhookHandler(svc, validate)

	app := fiber.New()
	app.Post("/api/webhooks/separator",
		middleware.WebhookAuth(testWebhookSecret),
		webhookHandler.HandleSeparatorEvent,
	)
	app.Post("/api/upload/complete", jobHandler.Create)
	app.Get("/api/job/:id", jobHandler.Snapshot)
	app.Post("/api/dev/advance", jobHandler.Advance)

	return &testApp{app: app, store: st, bcast: bcast, svc: svc}
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func doWebhook(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	return doRequest(t, app, http.MethodPost, "/api/webhooks/separator", body, map[string]string{
		"x-signature": sign(body),
	})
}

func assertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("parse body %q: %v", data, err)
	}
	return result
}

func createJob(t *testing.T, ta *testApp) string {
	t.Helper()
	resp := doRequest(t, ta.app, http.MethodPost, "/api/upload/complete", `{"fileKey":"uploads/test.wav"}`, nil)
	assertStatus(t, resp, http.StatusAccepted)
	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatal("expected jobId in create response")
	}
	return jobID
}
