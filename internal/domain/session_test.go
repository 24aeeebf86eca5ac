package domain

import (
	"testing"
	"time"
)

func TestSlotsMergeIdempotent(t *testing.T) {
	t.Parallel()

	var s Slots
	in := Slots{Cities: []string{"Beijing"}, Days: 3, Budget: 5000, Styles: []string{"quiet"}}

	s.Merge(in)
	s.Merge(in)

	if len(s.Cities) != 1 || s.Cities[0] != "Beijing" {
		t.Errorf("cities = %v, want [Beijing]", s.Cities)
	}
	if s.Days != 3 || s.Budget != 5000 {
		t.Errorf("days/budget = %d/%.0f, want 3/5000", s.Days, s.Budget)
	}
	if len(s.Styles) != 1 {
		t.Errorf("styles = %v, want single quiet", s.Styles)
	}
}

func TestSlotsMergeZeroValuesAreNoOps(t *testing.T) {
	t.Parallel()

	s := Slots{Cities: []string{"Shanghai"}, Days: 5, Budget: 3000}
	s.Merge(Slots{})

	if len(s.Cities) != 1 || s.Days != 5 || s.Budget != 3000 {
		t.Errorf("merge of empty slots changed state: %+v", s)
	}
}

func TestSlotsMergeAccumulatesStyles(t *testing.T) {
	t.Parallel()

	s := Slots{Styles: []string{"quiet"}}
	s.Merge(Slots{Styles: []string{"food", "quiet"}})

	want := []string{"quiet", "food"}
	if len(s.Styles) != len(want) {
		t.Fatalf("styles = %v, want %v", s.Styles, want)
	}
	for i := range want {
		if s.Styles[i] != want[i] {
			t.Errorf("styles[%d] = %q, want %q", i, s.Styles[i], want[i])
		}
	}
}

func TestSlotsComplete(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		slots Slots
		want  bool
	}{
		{"empty", Slots{}, false},
		{"city only", Slots{Cities: []string{"Beijing"}}, false},
		{"days only", Slots{Days: 3}, false},
		{"city and days", Slots{Cities: []string{"Beijing"}, Days: 3}, true},
	}
	for _, tc := range cases {
		if got := tc.slots.Complete(); got != tc.want {
			t.Errorf("%s: Complete() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSessionStateCloneIsDeep(t *testing.T) {
	t.Parallel()

	plan := ItineraryPlan{Title: "p", Days: []DayPlan{{Day: 1, Activities: []Activity{{Name: "a"}}}}}
	st := SessionState{
		SessionID: "s1",
		Turns:     []Turn{{Role: "user", Text: "hi", Timestamp: time.Now()}},
		Slots:     Slots{Cities: []string{"Beijing"}},
		LastPlan:  &plan,
	}

	clone := st.Clone()
	clone.Turns[0].Text = "changed"
	clone.Slots.Cities[0] = "Shanghai"
	clone.LastPlan.Days[0].Activities[0].Name = "b"

	if st.Turns[0].Text != "hi" {
		t.Error("clone shares turns with original")
	}
	if st.Slots.Cities[0] != "Beijing" {
		t.Error("clone shares slot cities with original")
	}
	if st.LastPlan.Days[0].Activities[0].Name != "a" {
		t.Error("clone shares plan activities with original")
	}
}
