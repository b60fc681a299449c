package playback_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/reciter/internal/item"
	"github.com/MrWong99/reciter/internal/playback"
)

const sevenSentences = "一。二。三。四。五。六。七。"

func TestBuildSteps_GroupsAndRounds(t *testing.T) {
	t.Parallel()

	set := playback.DefaultSettings()
	set.GroupSize = 3
	set.RepeatPerGroup = 2
	steps := playback.BuildSteps(item.Item{ID: "q", AnswerText: sevenSentences}, set, false)

	if len(steps) != 14 {
		t.Fatalf("got %d steps, want 14", len(steps))
	}

	want := []struct {
		text  string
		group int
		round int
	}{
		{"一。", 0, 0}, {"二。", 0, 0}, {"三。", 0, 0},
		{"一。", 0, 1}, {"二。", 0, 1}, {"三。", 0, 1},
		{"四。", 1, 0}, {"五。", 1, 0}, {"六。", 1, 0},
		{"四。", 1, 1}, {"五。", 1, 1}, {"六。", 1, 1},
		{"七。", 2, 0},
		{"七。", 2, 1},
	}
	for i, w := range want {
		st := steps[i]
		if st.Text != w.text || st.GroupIndex != w.group || st.Round != w.round {
			t.Errorf("step %d = (%q, g%d, r%d), want (%q, g%d, r%d)",
				i, st.Text, st.GroupIndex, st.Round, w.text, w.group, w.round)
		}
		if st.GroupCount != 3 || st.RoundCount != 2 || st.ItemID != "q" || st.Review {
			t.Errorf("step %d metadata = %+v", i, st)
		}
	}
	if steps[12].GlobalSentenceIndex != 6 || steps[12].SentenceIndexInGroup != 0 {
		t.Errorf("last group indices = %+v", steps[12])
	}
	if steps[10].GlobalSentenceIndex != 4 || steps[10].SentenceIndexInGroup != 1 {
		t.Errorf("step 10 indices = %+v", steps[10])
	}
}

func TestBuildSteps_Clamping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		group      int
		repeat     int
		wantGroups int
		wantSteps  int
	}{
		{"zero values clamp to minimum", 0, 0, 7, 7},
		{"negative values clamp to minimum", -4, -1, 7, 7},
		{"oversized group clamps to 10", 99, 1, 1, 7},
		{"oversized repeat clamps to 20", 7, 500, 1, 140},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			set := playback.Settings{GroupSize: tt.group, RepeatPerGroup: tt.repeat}
			steps := playback.BuildSteps(item.Item{ID: "q", AnswerText: sevenSentences}, set, false)
			if len(steps) != tt.wantSteps {
				t.Fatalf("got %d steps, want %d", len(steps), tt.wantSteps)
			}
			if steps[0].GroupCount != tt.wantGroups {
				t.Errorf("group count = %d, want %d", steps[0].GroupCount, tt.wantGroups)
			}
		})
	}
}

func TestBuildSteps_Empty(t *testing.T) {
	t.Parallel()

	if steps := playback.BuildSteps(item.Item{ID: "q", AnswerText: "  "}, playback.DefaultSettings(), false); len(steps) != 0 {
		t.Errorf("blank answer produced %d steps", len(steps))
	}
}

func TestBuildPlayerSteps_Layout(t *testing.T) {
	t.Parallel()

	cur := item.Item{ID: "cur", Question: "问二", AnswerText: "甲。乙。"}
	prev := item.Item{ID: "prev", Question: "问一", AnswerText: "子。丑。"}

	set := playback.Settings{
		GroupSize:             2,
		RepeatPerGroup:        3,
		FullReadBeforeGroups:  1,
		FullReadAfterGroups:   2,
		ReviewPrevAfterEach:   true,
		ReviewPrevRepeatCount: 1,
	}
	steps := playback.BuildPlayerSteps(cur, &prev, set)

	var got []string
	for _, st := range steps {
		got = append(got, st.Kind()+":"+st.Text)
	}
	want := []string{
		"full_read:问二", "full_read:甲。乙。",
		"question:问二",
		"drill:甲。", "drill:乙。", "drill:甲。", "drill:乙。", "drill:甲。", "drill:乙。",
		"full_read:问二", "full_read:甲。乙。",
		"full_read:问二", "full_read:甲。乙。",
		"question:问一",
		"review:子。", "review:丑。",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("steps:\n got  %v\n want %v", got, want)
	}

	if steps[0].FullReadType != playback.FullReadBefore || steps[9].FullReadType != playback.FullReadAfter {
		t.Errorf("full read types = %q, %q", steps[0].FullReadType, steps[9].FullReadType)
	}
	if !steps[0].IsQuestion || steps[1].IsQuestion {
		t.Error("full read pair should be question then answer")
	}
	review := steps[13]
	if !review.IsQuestion || !review.Review || review.ItemID != "prev" {
		t.Errorf("review question step = %+v", review)
	}
	if steps[2].GlobalSentenceIndex != -1 {
		t.Errorf("question step sentence index = %d, want -1", steps[2].GlobalSentenceIndex)
	}
}

func TestBuildPlayerSteps_Options(t *testing.T) {
	t.Parallel()

	cur := item.Item{ID: "cur", Question: "Q", AnswerText: "甲。"}
	prev := item.Item{ID: "prev", Question: "P", AnswerText: "子。"}
	base := playback.Settings{GroupSize: 1, RepeatPerGroup: 1}

	tests := []struct {
		name string
		set  func(s *playback.Settings)
		prev *item.Item
		want int
	}{
		{"no bookends", func(*playback.Settings) {}, nil, 2},
		{"bookends clamp to five", func(s *playback.Settings) { s.FullReadBeforeGroups = 9 }, nil, 12},
		{"review without previous item", func(s *playback.Settings) { s.ReviewPrevAfterEach = true }, nil, 2},
		{"review disabled ignores previous item", func(*playback.Settings) {}, &prev, 2},
		{"review with previous item", func(s *playback.Settings) { s.ReviewPrevAfterEach = true }, &prev, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			set := base
			tt.set(&set)
			if got := len(playback.BuildPlayerSteps(cur, tt.prev, set)); got != tt.want {
				t.Errorf("got %d steps, want %d", got, tt.want)
			}
		})
	}
}

func TestBuildPlayerSteps_EmptyAnswerKeepsBookends(t *testing.T) {
	t.Parallel()

	set := playback.Settings{FullReadBeforeGroups: 1, FullReadAfterGroups: 1}
	steps := playback.BuildPlayerSteps(item.Item{ID: "e", Question: "Q"}, nil, set)
	if len(steps) != 5 {
		t.Fatalf("got %d steps, want 5 (2 before, question, 2 after)", len(steps))
	}
	for _, st := range steps {
		if st.Kind() == "drill" {
			t.Errorf("unexpected drill step %+v", st)
		}
	}
}
