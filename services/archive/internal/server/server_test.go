package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roomledger/services/archive/internal/app"
	"roomledger/services/archive/internal/config"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	appCore, err := app.New(app.Config{
		File: config.FileConfig{
			Port:              "0",
			NodeID:            "node-test",
			EncodeWorkers:     1,
			ModerationWorkers: 1,
			QueueBatchSize:    5,
			RetentionCron:     "*/15 * * * *",
		},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := appCore.Start(ctx); err != nil {
		t.Fatalf("start app: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		appCore.Stop()
	})
	srv := httptest.NewServer(New(Config{App: appCore}).Router())
	t.Cleanup(srv.Close)
	return srv, appCore
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestIngestAndFetchRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/messages", map[string]string{
		"roomId":   "room-1",
		"senderId": "user-1",
		"content":  "hello archive",
		"mimeType": "text/plain",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}
	var ingest struct {
		MessageID string `json:"messageId"`
		ContentID string `json:"contentId"`
		ChainHash string `json:"chainHash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ingest); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ingest.MessageID == "" || ingest.ContentID == "" || ingest.ChainHash == "" {
		t.Fatalf("incomplete ingest response: %+v", ingest)
	}

	// encoding happens on a background worker, poll until it lands
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := http.Get(srv.URL + "/content/" + ingest.ContentID)
		if err != nil {
			t.Fatalf("get content: %v", err)
		}
		if got.StatusCode == http.StatusOK {
			body, _ := io.ReadAll(got.Body)
			got.Body.Close()
			if string(body) != "hello archive" {
				t.Fatalf("content = %q", body)
			}
			break
		}
		got.Body.Close()
		if time.Now().After(deadline) {
			t.Fatalf("content never became fetchable, last status %d", got.StatusCode)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestVerifyReportsValidChain(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/messages", map[string]string{
		"roomId":   "room-1",
		"senderId": "user-1",
		"content":  "audited",
	})
	resp.Body.Close()

	got, err := http.Get(srv.URL + "/audit/verify?node=node-test")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", got.StatusCode)
	}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(got.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Valid {
		t.Fatal("chain reported invalid")
	}
}

func TestEvaluateFlagsMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/messages", map[string]string{
		"roomId":   "room-1",
		"senderId": "user-1",
		"content":  "suspicious",
	})
	var ingest struct {
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ingest); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	eval := postJSON(t, srv.URL+"/moderation/evaluate", map[string]any{
		"messageId": ingest.MessageID,
		"labels":    map[string]float64{"threat": 0.95},
	})
	defer eval.Body.Close()
	if eval.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status = %d", eval.StatusCode)
	}
	var out struct {
		Flagged     bool `json:"Flagged"`
		StrikeCount int  `json:"StrikeCount"`
	}
	if err := json.NewDecoder(eval.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Flagged || out.StrikeCount != 1 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestRetentionEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	run := postJSON(t, srv.URL+"/retention/run", map[string]string{})
	defer run.Body.Close()
	if run.StatusCode != http.StatusOK {
		t.Fatalf("retention run status = %d", run.StatusCode)
	}

	hold := postJSON(t, srv.URL+"/retention/holds", map[string]any{
		"resourceType": "compressed_content",
		"resourceId":   "c-1",
		"holdUntil":    time.Now().UTC().Add(time.Hour),
		"reason":       "litigation",
		"actor":        "legal",
	})
	defer hold.Body.Close()
	if hold.StatusCode != http.StatusCreated {
		t.Fatalf("hold status = %d", hold.StatusCode)
	}

	sched, err := http.Get(srv.URL + "/retention/schedule")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	defer sched.Body.Close()
	if sched.StatusCode != http.StatusOK {
		t.Fatalf("schedule status = %d", sched.StatusCode)
	}
}

func TestFetchUnknownContentReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	got, err := http.Get(srv.URL + "/content/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", got.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	got, err := http.Get(srv.URL + "/messages")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer got.Body.Close()
	if got.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", got.StatusCode)
	}
}
