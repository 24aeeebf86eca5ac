package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avezina/tripd/internal/assistant"
	"github.com/avezina/tripd/internal/planner"
	"github.com/avezina/tripd/internal/prefstore"
	"github.com/avezina/tripd/internal/risk"
	"github.com/avezina/tripd/internal/router"
	"github.com/avezina/tripd/internal/session"
	"github.com/avezina/tripd/internal/tools"
	"github.com/go-chi/chi/v5"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	opts := prefstore.DefaultOptions()
	opts.AdminToken = "secret"
	prefs := prefstore.NewMemory(nil, opts)

	health := tools.NewHealth()
	geo := tools.NewAMapGeocoder("", tools.RetryPolicy{}, health)
	weather := tools.NewAMapWeather("", geo, tools.RetryPolicy{}, health)
	graph := planner.New(weather, geo, nil, prefs, risk.New(), 7, 3)
	asst := assistant.New(session.NewManager(time.Hour), prefs, router.New(nil), graph, health)

	r := chi.NewRouter()
	NewHandler(asst).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatal(err)
	}
}

func TestChatEndpoint(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	resp := postJSON(t, srv.URL+"/api/chat", map[string]string{
		"user_id": "u1",
		"message": "3天北京行程，安静一点，预算5000",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		SessionID string               `json:"session_id"`
		Turn      assistant.TurnOutput `json:"turn"`
	}
	decode(t, resp, &body)

	if body.SessionID == "" {
		t.Error("no session_id assigned")
	}
	if body.Turn.Plan == nil || len(body.Turn.Plan.Days) != 3 {
		t.Fatalf("turn = %+v, want 3-day plan", body.Turn)
	}
	if body.Turn.UpdatedSlots.Days != 3 || body.Turn.UpdatedSlots.Budget != 5000 {
		t.Errorf("updated_slots = %+v, want extracted days and budget echoed", body.Turn.UpdatedSlots)
	}

	// Second turn on the echoed session keeps its state.
	resp = postJSON(t, srv.URL+"/api/chat", map[string]string{
		"session_id": body.SessionID,
		"user_id":    "u1",
		"message":    "/state",
	})
	var second struct {
		Turn assistant.TurnOutput `json:"turn"`
	}
	decode(t, resp, &second)
	if second.Turn.Intent != router.IntentAskState {
		t.Errorf("intent = %s, want ask_state", second.Turn.Intent)
	}
}

func TestChatRequiresUserID(t *testing.T) {
	t.Parallel()

	srv := testServer(t)
	resp := postJSON(t, srv.URL+"/api/chat", map[string]string{"message": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStateEndpoint(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/state?session_id=missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", resp.StatusCode)
	}

	chat := postJSON(t, srv.URL+"/api/chat", map[string]string{"user_id": "u1", "message": "去杭州玩2天"})
	var chatBody struct {
		SessionID string `json:"session_id"`
	}
	decode(t, chat, &chatBody)

	resp, err = http.Get(srv.URL + "/api/state?session_id=" + chatBody.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	var st struct {
		Slots struct {
			Cities []string `json:"cities"`
			Days   int      `json:"days"`
		} `json:"slots"`
	}
	decode(t, resp, &st)
	if st.Slots.Days != 2 || len(st.Slots.Cities) != 1 {
		t.Errorf("slots = %+v, want Hangzhou for 2 days", st.Slots)
	}
}

func TestProfileEndpoint(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	postJSON(t, srv.URL+"/api/chat", map[string]string{
		"user_id": "u1",
		"message": "3天北京，美食优先",
	}).Body.Close()

	resp, err := http.Get(srv.URL + "/api/profile?user_id=u1")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		UserID      string `json:"user_id"`
		Preferences []struct {
			Statement string `json:"statement"`
		} `json:"preferences"`
	}
	decode(t, resp, &body)
	if len(body.Preferences) == 0 {
		t.Error("profile empty after preference-bearing chat")
	}
}

func TestPurgeEndpointAuth(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	resp := postJSON(t, srv.URL+"/api/purge", map[string]string{"scope": "u1", "token": "wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bad token status = %d, want 403", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/purge", map[string]string{"scope": "u1", "token": "secret"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid purge status = %d, want 200", resp.StatusCode)
	}
}

func TestResetEndpoint(t *testing.T) {
	t.Parallel()

	srv := testServer(t)

	chat := postJSON(t, srv.URL+"/api/chat", map[string]string{"user_id": "u1", "message": "3天北京行程"})
	var chatBody struct {
		SessionID string `json:"session_id"`
	}
	decode(t, chat, &chatBody)

	resp := postJSON(t, srv.URL+"/api/reset", map[string]string{"session_id": chatBody.SessionID})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", resp.StatusCode)
	}

	state, err := http.Get(srv.URL + "/api/state?session_id=" + chatBody.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	var st struct {
		Slots struct {
			Days int `json:"days"`
		} `json:"slots"`
	}
	decode(t, state, &st)
	if st.Slots.Days != 0 {
		t.Errorf("days after reset = %d, want 0", st.Slots.Days)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	srv := testServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Status string `json:"status"`
	}
	decode(t, resp, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}
