package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avezina/tripd/internal/assistant"
	"github.com/avezina/tripd/internal/domain"
	"github.com/avezina/tripd/internal/middleware"
	"github.com/avezina/tripd/internal/planner"
	"github.com/avezina/tripd/internal/prefstore"
	"github.com/avezina/tripd/internal/risk"
	"github.com/avezina/tripd/internal/router"
	"github.com/avezina/tripd/internal/session"
	"github.com/avezina/tripd/internal/tools"
	"github.com/coder/websocket"
)

func TestWebSocketChatStreamsNodesBeforeReply(t *testing.T) {
	t.Parallel()

	prefs := prefstore.NewMemory(nil, prefstore.DefaultOptions())
	health := tools.NewHealth()
	geo := tools.NewAMapGeocoder("", tools.RetryPolicy{}, health)
	weather := tools.NewAMapWeather("", geo, tools.RetryPolicy{}, health)
	graph := planner.New(weather, geo, nil, prefs, risk.New(), 7, 3)
	asst := assistant.New(session.NewManager(time.Hour), prefs, router.New(nil), graph, health)

	srv := httptest.NewServer(NewWebSocketHandler(asst, middleware.Origins{"*"}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + srv.URL[len("http"):] + "?user_id=u1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	msg, _ := json.Marshal(map[string]string{"message": "3天北京行程"})
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		t.Fatal(err)
	}

	var nodes []domain.GraphNode
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v (nodes so far: %v)", err, nodes)
		}
		var ev struct {
			Type string                `json:"type"`
			Node domain.GraphNode      `json:"node"`
			Turn *assistant.TurnOutput `json:"turn"`
			Err  string                `json:"error"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatal(err)
		}

		switch ev.Type {
		case "node":
			nodes = append(nodes, ev.Node)
		case "error":
			t.Fatalf("server error: %s", ev.Err)
		case "turn":
			if len(nodes) == 0 {
				t.Error("no node events before the reply")
			}
			if nodes[len(nodes)-1] != domain.NodeResponding {
				t.Errorf("last streamed node = %s, want RESPONDING", nodes[len(nodes)-1])
			}
			if ev.Turn == nil || ev.Turn.Plan == nil {
				t.Fatalf("turn event = %+v, want plan attached", ev.Turn)
			}
			return
		}
	}
}

func TestWebSocketRequiresUserID(t *testing.T) {
	t.Parallel()

	prefs := prefstore.NewMemory(nil, prefstore.DefaultOptions())
	health := tools.NewHealth()
	geo := tools.NewAMapGeocoder("", tools.RetryPolicy{}, health)
	weather := tools.NewAMapWeather("", geo, tools.RetryPolicy{}, health)
	graph := planner.New(weather, geo, nil, prefs, risk.New(), 7, 3)
	asst := assistant.New(session.NewManager(time.Hour), prefs, router.New(nil), graph, health)

	srv := httptest.NewServer(NewWebSocketHandler(asst, middleware.Origins{"*"}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil); err == nil {
		t.Fatal("dial without user_id succeeded, want rejection")
	}
}
