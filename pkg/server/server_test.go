package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kacperjurak/linaccore/pkg/config"
	"github.com/kacperjurak/linaccore/pkg/models"
)

const study = `{
	"id": "s1",
	"failed": [1],
	"elements": [
		{"kind": "drift", "name": "d1", "length_m": 0.2},
		{"kind": "field_map", "name": "c1", "length_m": 0.1,
		 "samples": {"z": [0, 0.05, 0.1], "e": [0, 1, 0]},
		 "cavity": {"k_e": 1, "phase_rad": 0.3}}
	]
}`

func process(ctx context.Context, item models.WorkItem) models.WorkResult {
	return models.WorkResult{
		ID:        item.ID,
		RequestID: item.RequestID,
		BatchID:   item.BatchID,
		Result:    models.StudyResult{ID: item.Study.ID, Success: true},
		Success:   true,
	}
}

func newServer(t *testing.T) (*Server, <-chan models.WebhookResponse) {
	t.Helper()
	received := make(chan models.WebhookResponse, 8)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload models.WebhookResponse
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- payload
	}))
	t.Cleanup(hook.Close)

	cfg := config.DefaultConfig()
	cfg.Quiet = true
	srv := New(Options{
		Config: cfg,
		ServerConfig: &config.ServerConfig{
			Port:        "0",
			WorkerCount: 2,
			WebhookURL:  hook.URL,
		},
		Processor: process,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return srv, received
}

func wait(t *testing.T, received <-chan models.WebhookResponse) models.WebhookResponse {
	t.Helper()
	select {
	case r := <-received:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no webhook received")
	}
	return models.WebhookResponse{}
}

func TestSingleStudySendsWebhook(t *testing.T) {
	srv, received := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/studies", strings.NewReader(study)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	got := wait(t, received)
	if got.Result.ID != "s1" || !got.Success || got.ID == "" {
		t.Fatalf("webhook = %+v", got)
	}
}

func TestBatchSendsOneWebhookPerStudy(t *testing.T) {
	srv, received := newServer(t)

	body := `{"batch_id": "b1", "studies": [` + study + `,` + study + `]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/studies/batch", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	ids := map[string]bool{}
	for i := 0; i < 2; i++ {
		got := wait(t, received)
		if got.BatchID != "b1" {
			t.Fatalf("webhook %d batch = %q", i, got.BatchID)
		}
		ids[got.ID] = true
	}
	if !ids["b1_study_000"] || !ids["b1_study_001"] {
		t.Fatalf("request ids = %v", ids)
	}
}

func TestHealthAndDebugEndpoints(t *testing.T) {
	srv, _ := newServer(t)

	for _, path := range []string{"/health", "/debug/gc", "/debug/memory"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if len(body) == 0 {
			t.Fatalf("%s: empty body", path)
		}
	}
}
