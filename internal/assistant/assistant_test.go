package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/avezina/tripd/internal/domain"
	"github.com/avezina/tripd/internal/planner"
	"github.com/avezina/tripd/internal/prefstore"
	"github.com/avezina/tripd/internal/risk"
	"github.com/avezina/tripd/internal/router"
	"github.com/avezina/tripd/internal/session"
	"github.com/avezina/tripd/internal/tools"
)

func testAssistant(t *testing.T) (*Assistant, prefstore.Store) {
	t.Helper()

	opts := prefstore.DefaultOptions()
	opts.AdminToken = "secret"
	prefs := prefstore.NewMemory(nil, opts)

	health := tools.NewHealth()
	geo := tools.NewAMapGeocoder("", tools.RetryPolicy{}, health)
	weather := tools.NewAMapWeather("", geo, tools.RetryPolicy{}, health)
	graph := planner.New(weather, geo, nil, prefs, risk.New(), 7, 3)
	sessions := session.NewManager(time.Hour)

	return New(sessions, prefs, router.New(nil), graph, health), prefs
}

func TestChatClarifiesThenPlans(t *testing.T) {
	t.Parallel()

	asst, _ := testAssistant(t)
	ctx := context.Background()

	out, err := asst.Chat(ctx, "s1", "u1", "想去北京玩")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Clarification {
		t.Fatalf("first turn = %+v, want clarification for missing days", out)
	}
	if len(out.UpdatedSlots.Cities) != 1 || out.UpdatedSlots.Cities[0] != "Beijing" {
		t.Errorf("updated slots after turn one = %+v, want Beijing", out.UpdatedSlots)
	}

	out, err = asst.Chat(ctx, "s1", "u1", "玩3天吧")
	if err != nil {
		t.Fatal(err)
	}
	if out.Clarification {
		t.Fatalf("second turn still clarifying: %q", out.Reply)
	}
	if out.Node != domain.NodeResponding {
		t.Errorf("node = %s, want RESPONDING", out.Node)
	}
	if out.Plan == nil || len(out.Plan.Days) != 3 {
		t.Fatalf("plan = %+v, want 3 days carried over from both turns", out.Plan)
	}
	if out.Plan.Days[0].City != "Beijing" {
		t.Errorf("city = %q, want Beijing remembered from turn one", out.Plan.Days[0].City)
	}
	if out.UpdatedSlots.Days != 3 || len(out.UpdatedSlots.Cities) != 1 {
		t.Errorf("updated slots after turn two = %+v, want merged city and days", out.UpdatedSlots)
	}
}

func TestChatEmptyMessageRejected(t *testing.T) {
	t.Parallel()

	asst, _ := testAssistant(t)
	if _, err := asst.Chat(context.Background(), "s1", "u1", "  "); !errors.Is(err, domain.ErrInvalidSlot) {
		t.Fatalf("err = %v, want ErrInvalidSlot", err)
	}
}

func TestChatStateIntent(t *testing.T) {
	t.Parallel()

	asst, _ := testAssistant(t)
	ctx := context.Background()

	if _, err := asst.Chat(ctx, "s1", "u1", "3天北京行程"); err != nil {
		t.Fatal(err)
	}
	out, err := asst.Chat(ctx, "s1", "u1", "/state")
	if err != nil {
		t.Fatal(err)
	}
	if out.Intent != router.IntentAskState {
		t.Fatalf("intent = %s, want ask_state", out.Intent)
	}
	if !strings.Contains(out.Reply, "Beijing") || !strings.Contains(out.Reply, "3") {
		t.Errorf("state reply %q missing slot values", out.Reply)
	}
}

func TestChatClearIntentResetsSession(t *testing.T) {
	t.Parallel()

	asst, _ := testAssistant(t)
	ctx := context.Background()

	if _, err := asst.Chat(ctx, "s1", "u1", "3天北京行程"); err != nil {
		t.Fatal(err)
	}
	if _, err := asst.Chat(ctx, "s1", "u1", "/clear"); err != nil {
		t.Fatal(err)
	}

	st, err := asst.InspectState("s1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Slots.Days != 0 || len(st.Slots.Cities) != 0 {
		t.Errorf("slots after clear = %+v, want empty", st.Slots)
	}
}

func TestProfileIntentGroupsByTag(t *testing.T) {
	t.Parallel()

	asst, _ := testAssistant(t)
	ctx := context.Background()

	// One style-tagged record and one explicitly stated record.
	if _, err := asst.Chat(ctx, "s1", "u1", "3天北京行程，安静一点，我喜欢早起"); err != nil {
		t.Fatal(err)
	}
	out, err := asst.Chat(ctx, "s1", "u1", "/profile")
	if err != nil {
		t.Fatal(err)
	}
	if out.Intent != router.IntentAskProfile {
		t.Fatalf("intent = %s, want ask_profile", out.Intent)
	}
	if !strings.Contains(out.Reply, "【风格偏好】") {
		t.Errorf("profile reply %q missing style group heading", out.Reply)
	}
	if !strings.Contains(out.Reply, "【明确表达】") {
		t.Errorf("profile reply %q missing stated group heading", out.Reply)
	}
	if styleAt, statedAt := strings.Index(out.Reply, "【风格偏好】"), strings.Index(out.Reply, "【明确表达】"); styleAt > statedAt {
		t.Errorf("style group should render before stated group: %q", out.Reply)
	}
}

func TestProfileSeesPrecedingTurnsWrites(t *testing.T) {
	t.Parallel()

	asst, _ := testAssistant(t)
	ctx := context.Background()

	// The style tag in this turn is persisted by a background write.
	if _, err := asst.Chat(ctx, "s1", "u1", "3天北京行程，安静一点"); err != nil {
		t.Fatal(err)
	}

	recs, err := asst.InspectProfile(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) == 0 {
		t.Fatal("profile empty right after a preference-bearing turn")
	}
	found := false
	for _, r := range recs {
		if strings.Contains(r.Statement, "quiet") {
			found = true
		}
	}
	if !found {
		t.Errorf("records = %+v, want quiet style preference", recs)
	}
}

func TestPurgeWaitsForPendingWritesAndClears(t *testing.T) {
	t.Parallel()

	asst, prefs := testAssistant(t)
	ctx := context.Background()

	if _, err := asst.Chat(ctx, "s1", "u1", "喜欢安静的地方，3天北京"); err != nil {
		t.Fatal(err)
	}

	if err := asst.Purge(ctx, "u1", "secret"); err != nil {
		t.Fatal(err)
	}

	recs, err := prefs.Profile(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("records after purge = %+v, want none", recs)
	}
}

func TestPurgeRejectsBadToken(t *testing.T) {
	t.Parallel()

	asst, _ := testAssistant(t)
	if err := asst.Purge(context.Background(), "u1", "wrong"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestConcurrentTurnsOnSameSessionSerialize(t *testing.T) {
	t.Parallel()

	asst, _ := testAssistant(t)
	ctx := context.Background()

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := asst.Chat(ctx, "s1", "u1", "3天北京行程")
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent chat: %v", err)
		}
	}

	st, err := asst.InspectState("s1")
	if err != nil {
		t.Fatal(err)
	}
	// 4 user turns + 4 assistant replies, no interleaving losses.
	if len(st.Turns) != 8 {
		t.Errorf("turns = %d, want 8", len(st.Turns))
	}
	if st.Slots.Days != 3 {
		t.Errorf("days = %d, want 3 (idempotent merges)", st.Slots.Days)
	}
}

func TestHealthReportsDegradedModel(t *testing.T) {
	t.Parallel()

	opts := prefstore.DefaultOptions()
	prefs := prefstore.NewMemory(nil, opts)
	health := tools.NewHealth()
	geo := tools.NewAMapGeocoder("", tools.RetryPolicy{}, health)
	weather := tools.NewAMapWeather("", geo, tools.RetryPolicy{}, health)
	llm := tools.NewOpenAIClient("", "", "", tools.RetryPolicy{}, health)
	graph := planner.New(weather, geo, llm, prefs, risk.New(), 7, 3)
	asst := New(session.NewManager(time.Hour), prefs, router.New(llm), graph, health)

	if _, err := asst.Chat(context.Background(), "s1", "u1", "3天北京行程"); err != nil {
		t.Fatal(err)
	}

	degraded := asst.Health()
	found := false
	for _, d := range degraded {
		if d == "model" {
			found = true
		}
	}
	if !found {
		t.Errorf("degraded = %v, want model listed after keyless completion", degraded)
	}
}
