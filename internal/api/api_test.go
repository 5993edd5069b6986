package api_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cleandir/leadengine/internal/analyzer"
	"github.com/cleandir/leadengine/internal/api"
	"github.com/cleandir/leadengine/internal/database"
	"github.com/cleandir/leadengine/internal/drip"
	"github.com/cleandir/leadengine/internal/lead"
	"github.com/cleandir/leadengine/internal/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, database.Store) {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewStore(db, log)
	agg := memory.NewAggregator(store, log)
	leads := lead.NewService(store, analyzer.NewKeywordAnalyzer(), agg, log)
	sched := drip.NewScheduler(store, log)

	h := api.NewHandler(leads, sched, agg, store, log)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := getJSON(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status ok", body)
	}
}

func TestChatMessageEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/chat/messages",
		`{"session_id":"s1","message":"I want to join and get a price quote"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", resp.StatusCode, body)
	}

	if body["intent_score"].(float64) != 9 {
		t.Errorf("intent_score = %v, want 9", body["intent_score"])
	}
	if body["status"] != database.StatusHighIntent {
		t.Errorf("status = %v, want high_intent", body["status"])
	}
	if body["membership_prompt"] != true {
		t.Errorf("membership_prompt = %v, want true", body["membership_prompt"])
	}

	// Malformed and incomplete requests are rejected.
	resp, _ = postJSON(t, srv.URL+"/api/chat/messages", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}
	resp, _ = postJSON(t, srv.URL+"/api/chat/messages", `{"session_id":"s1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing message status = %d, want 400", resp.StatusCode)
	}
}

func TestEmailSignupEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := t.Context()

	qualified := &database.Lead{SessionID: "hot", IntentScore: 35, Status: database.StatusHighIntent}
	if err := store.CreateLead(ctx, qualified); err != nil {
		t.Fatalf("failed to create lead: %v", err)
	}
	cold := &database.Lead{SessionID: "cold", IntentScore: 5}
	if err := store.CreateLead(ctx, cold); err != nil {
		t.Fatalf("failed to create lead: %v", err)
	}

	resp, body := postJSON(t, srv.URL+"/api/email-signup",
		`{"session_id":"hot","email":"hot@example.com"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", resp.StatusCode, body)
	}
	if body["scheduled"] != true {
		t.Errorf("scheduled = %v, want true", body["scheduled"])
	}
	if jobs := body["jobs"].([]any); len(jobs) != 3 {
		t.Errorf("jobs = %v, want 3 entries", jobs)
	}

	resp, body = postJSON(t, srv.URL+"/api/email-signup",
		`{"session_id":"cold","email":"cold@example.com"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %v)", resp.StatusCode, body)
	}
	if body["scheduled"] != false || body["reason"] != "below_threshold" {
		t.Errorf("cold lead signup = %v, want below_threshold no-op", body)
	}

	resp, _ = postJSON(t, srv.URL+"/api/email-signup",
		`{"session_id":"hot","email":"not-an-email"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid email status = %d, want 400", resp.StatusCode)
	}

	resp, _ = postJSON(t, srv.URL+"/api/email-signup",
		`{"session_id":"ghost","email":"ghost@example.com"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}
}

func TestScheduleAndCancelEndpoints(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := t.Context()

	leadRec := &database.Lead{SessionID: "s2", IntentScore: 40, Status: database.StatusHighIntent}
	if err := store.CreateLead(ctx, leadRec); err != nil {
		t.Fatalf("failed to create lead: %v", err)
	}
	if resp, _ := postJSON(t, srv.URL+"/api/email-signup",
		`{"session_id":"s2","email":"s2@example.com"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("signup status = %d, want 200", resp.StatusCode)
	}

	resp, body := getJSON(t, srv.URL+"/api/email-schedule/s2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedule status = %d, want 200", resp.StatusCode)
	}
	if jobs := body["jobs"].([]any); len(jobs) != 3 {
		t.Fatalf("schedule jobs = %v, want 3", jobs)
	}

	resp, body = postJSON(t, srv.URL+"/api/cancel-emails/s2", "{}")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	if body["cancelled"].(float64) != 3 {
		t.Errorf("cancelled = %v, want 3", body["cancelled"])
	}

	resp, _ = getJSON(t, srv.URL+"/api/email-schedule/ghost")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session schedule status = %d, want 404", resp.StatusCode)
	}
}

func TestPersonalizationEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	if resp, _ := postJSON(t, srv.URL+"/api/chat/messages",
		`{"session_id":"s3","message":"looking for solar suppliers"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("chat message status = %d, want 200", resp.StatusCode)
	}

	resp, body := getJSON(t, srv.URL+"/api/personalization/s3")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["greeting"] != "Hello" {
		t.Errorf("greeting = %v, want Hello", body["greeting"])
	}
	interests, ok := body["interests"].([]any)
	if !ok || len(interests) == 0 {
		t.Errorf("interests = %v, want the detected sector", body["interests"])
	}

	resp, _ = getJSON(t, srv.URL+"/api/personalization/ghost")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}
}
