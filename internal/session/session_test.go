package session_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/reciter/internal/item"
	"github.com/MrWong99/reciter/internal/observe"
	"github.com/MrWong99/reciter/internal/playback"
	"github.com/MrWong99/reciter/internal/recite"
	"github.com/MrWong99/reciter/internal/session"
	"github.com/MrWong99/reciter/internal/similarity"
	"github.com/MrWong99/reciter/pkg/speech/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const waitFor = 2 * time.Second

func items() []item.Item {
	return []item.Item{
		{ID: "a", Question: "问甲", AnswerText: "今天，天气不错。"},
		{ID: "b", Question: "问乙", AnswerText: "明天下雨。", AnswerHTML: "<p><mark>明天</mark>下雨。</p>"},
		{ID: "c", Question: "问丙", AnswerText: "后天放晴。"},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// plainSettings plays each item as its question followed by each sentence
// once.
func plainSettings() session.Settings {
	set := session.DefaultSettings()
	set.Playback = playback.Settings{GroupSize: 10, RepeatPerGroup: 1, TTSEnabled: true}
	return set
}

type fixture struct {
	sess    *session.Session
	store   *item.MemStore
	speaker *mock.Speaker
	states  chan playback.State

	mu      sync.Mutex
	flushed []string
}

func newFixture(t *testing.T, set session.Settings) *fixture {
	t.Helper()
	f := &fixture{
		store:   item.NewMemStore(items()...),
		speaker: &mock.Speaker{},
		states:  make(chan playback.State, 256),
	}
	sess, err := session.New(session.Config{
		Store:    f.store,
		Speaker:  f.speaker,
		Settings: set,
		Metrics:  testMetrics(t),
		Flush: func(_ context.Context, id string) error {
			f.mu.Lock()
			f.flushed = append(f.flushed, id)
			f.mu.Unlock()
			return nil
		},
		OnStatus: func(st playback.State) {
			select {
			case f.states <- st:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(sess.Close)
	f.sess = sess
	return f
}

func (f *fixture) waitStatus(t *testing.T, want playback.Status, itemID string) playback.State {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case st := <-f.states:
			if st.Status == want && st.MainItemID == itemID {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %q", want, itemID)
			return playback.State{}
		}
	}
}

func (f *fixture) flushedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.flushed)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  session.Config
	}{
		{"no store", session.Config{Speaker: &mock.Speaker{}}},
		{"no speaker", session.Config{Store: item.NewMemStore()}},
		{"bad scorer", session.Config{
			Store:    item.NewMemStore(),
			Speaker:  &mock.Speaker{},
			Settings: session.Settings{Scorer: similarity.Name("levenshtein")},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := session.New(tc.cfg); err == nil {
				t.Error("New succeeded, want error")
			}
		})
	}
}

func TestNoCurrentItem(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plainSettings())
	ctx := context.Background()

	if err := f.sess.Play(ctx); !errors.Is(err, session.ErrNoItem) {
		t.Errorf("Play = %v, want ErrNoItem", err)
	}
	if _, err := f.sess.Next(ctx); !errors.Is(err, session.ErrNoItem) {
		t.Errorf("Next = %v, want ErrNoItem", err)
	}
	if _, err := f.sess.RepairCurrent(ctx); !errors.Is(err, session.ErrNoItem) {
		t.Errorf("RepairCurrent = %v, want ErrNoItem", err)
	}
	if _, err := f.sess.Summarize("x"); !errors.Is(err, session.ErrNoItem) {
		t.Errorf("Summarize = %v, want ErrNoItem", err)
	}
	if err := f.sess.SetCurrent(ctx, "missing"); !errors.Is(err, item.ErrNotFound) {
		t.Errorf("SetCurrent(missing) = %v, want ErrNotFound", err)
	}
}

func TestNavigation_ResetsCheckAndFlushes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plainSettings())
	ctx := context.Background()

	if err := f.sess.SetCurrent(ctx, "a"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if got := f.sess.Checker().Segments().Len(); got != 2 {
		t.Fatalf("segments of a = %d, want 2", got)
	}
	if res := f.sess.HandleUtterance(ctx, "今天"); res.Outcome != recite.Hit {
		t.Fatalf("HandleUtterance = %v, want hit", res.Outcome)
	}

	moved, err := f.sess.Next(ctx)
	if err != nil || !moved {
		t.Fatalf("Next = %v, %v", moved, err)
	}
	if cur, _ := f.sess.Current(); cur.ID != "b" {
		t.Errorf("current = %q, want b", cur.ID)
	}
	if len(f.sess.Checker().Locked()) != 0 || f.sess.Checker().ItemID() != "b" {
		t.Error("check state not reset for the new item")
	}

	if moved, _ := f.sess.Next(ctx); !moved {
		t.Fatal("Next to c did not move")
	}
	if moved, err := f.sess.Next(ctx); moved || err != nil {
		t.Errorf("Next past last = %v, %v", moved, err)
	}
	if moved, _ := f.sess.Prev(ctx); !moved {
		t.Error("Prev did not move")
	}
	if cur, _ := f.sess.Current(); cur.ID != "b" {
		t.Errorf("current = %q, want b", cur.ID)
	}

	if got := f.flushedIDs(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("flushed = %v, want [a b c]", got)
	}
}

func TestPlay_AutoAdvance(t *testing.T) {
	t.Parallel()

	set := plainSettings()
	set.Playback.AutoPlayNext = true
	f := newFixture(t, set)
	ctx := context.Background()

	if err := f.sess.SetCurrent(ctx, "b"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if err := f.sess.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}
	f.waitStatus(t, playback.StatusFinished, "c")

	if cur, _ := f.sess.Current(); cur.ID != "c" {
		t.Errorf("current = %q, want c", cur.ID)
	}
	if f.sess.Checker().ItemID() != "c" {
		t.Errorf("checker item = %q, want c", f.sess.Checker().ItemID())
	}
	if got := f.flushedIDs(); !slices.Equal(got, []string{"b"}) {
		t.Errorf("flushed = %v, want [b]", got)
	}
	want := []string{"问乙", "明天下雨。", "问丙", "后天放晴。"}
	if got := f.speaker.Texts(); !slices.Equal(got, want) {
		t.Errorf("spoken = %q, want %q", got, want)
	}
}

func TestPlay_ForcedCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		recite []string
		want   playback.Status
	}{
		{"not recited", nil, playback.StatusAwaitingCheck},
		{"partly recited", []string{"今天"}, playback.StatusAwaitingCheck},
		{"fully recited", []string{"今天", "天气不错"}, playback.StatusFinished},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			set := plainSettings()
			set.Playback.AutoPlayNext = true
			set.Playback.ForceReciteCheck = true
			f := newFixture(t, set)
			ctx := context.Background()

			if err := f.sess.SetCurrent(ctx, "a"); err != nil {
				t.Fatalf("SetCurrent: %v", err)
			}
			for _, u := range tc.recite {
				f.sess.HandleUtterance(ctx, u)
			}
			if err := f.sess.Play(ctx); err != nil {
				t.Fatalf("Play: %v", err)
			}
			f.waitStatus(t, tc.want, "a")
			if cur, _ := f.sess.Current(); cur.ID != "a" {
				t.Errorf("advanced to %q under forced check", cur.ID)
			}
		})
	}
}

func TestListen(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plainSettings())
	ctx := context.Background()
	if err := f.sess.SetCurrent(ctx, "a"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	f.sess.HandleUtterance(ctx, "今天")

	rec := mock.NewRecognizer(8)
	var results []recite.Result
	seen := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- f.sess.Listen(ctx, rec, func(r recite.Result) {
			results = append(results, r)
			seen <- struct{}{}
		})
	}()

	for _, u := range []string{"今天", " ", "天气不错"} {
		rec.Emit(u)
	}
	for range 2 {
		select {
		case <-seen:
		case <-time.After(waitFor):
			t.Fatal("timed out waiting for results")
		}
	}
	if !f.sess.Checker().MaskMode() {
		t.Error("mask mode off while listening")
	}
	if !f.sess.Checker().Passed() {
		t.Errorf("locked = %v, want all", f.sess.Checker().Locked())
	}

	rec.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen = %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Listen did not return after Close")
	}

	if results[0].Outcome != recite.Hit || results[0].Best.GlobalIndex != 0 {
		t.Errorf("first result = %+v; the earlier lock must have been reset", results[0])
	}
	if len(f.sess.Checker().Locked()) != 0 || f.sess.Checker().MaskMode() {
		t.Error("check not reset after listening stopped")
	}
}

func TestListen_ContextCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plainSettings())
	ctx, cancel := context.WithCancel(context.Background())
	rec := mock.NewRecognizer(1)
	done := make(chan error, 1)
	go func() { done <- f.sess.Listen(ctx, rec, nil) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Listen = %v, want context.Canceled", err)
		}
	case <-time.After(waitFor):
		t.Fatal("Listen did not return after cancel")
	}
	if _, ok := <-rec.Finals(); ok {
		t.Error("recognizer not closed")
	}
}

func TestApplySettings(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plainSettings())
	ctx := context.Background()
	if err := f.sess.SetCurrent(ctx, "b"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	f.sess.HandleUtterance(ctx, "明天下雨")

	set := f.sess.Settings()
	set.Threshold = 0.9
	if err := f.sess.ApplySettings(set); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if len(f.sess.Checker().Locked()) != 1 {
		t.Error("threshold change dropped locks")
	}
	if got := f.sess.Progress().Threshold; got != 0.9 {
		t.Errorf("threshold = %v, want 0.9", got)
	}

	set.ReciteOnlyHighlights = true
	if err := f.sess.ApplySettings(set); err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if len(f.sess.Checker().Locked()) != 0 {
		t.Error("highlight toggle kept locks")
	}
	segs := f.sess.Checker().Segments()
	if segs.Len() != 1 || segs.Segments[0].Text != "明天" {
		t.Errorf("highlight segments = %+v, want [明天]", segs.Segments)
	}

	set.Scorer = "nope"
	if err := f.sess.ApplySettings(set); err == nil {
		t.Error("ApplySettings accepted an unknown scorer")
	}
}

func TestRepairCurrent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plainSettings())
	ctx := context.Background()
	broken := item.Item{ID: "x", Question: "问", AnswerText: "今天" + item.Placeholder + "。"}
	if err := f.store.Put(ctx, &broken); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := f.sess.SetCurrent(ctx, "x"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}

	repaired, err := f.sess.RepairCurrent(ctx)
	if err != nil || !repaired {
		t.Fatalf("RepairCurrent = %v, %v", repaired, err)
	}
	stored, err := f.store.Get(ctx, "x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.HasPlaceholderCorruption(stored) {
		t.Errorf("stored item still corrupt: %+v", stored)
	}
	if cur, _ := f.sess.Current(); cur.AnswerText != stored.AnswerText {
		t.Errorf("current answer = %q, stored %q", cur.AnswerText, stored.AnswerText)
	}

	if again, _ := f.sess.RepairCurrent(ctx); again {
		t.Error("second repair reported a change")
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plainSettings())
	ctx := context.Background()
	if err := f.sess.SetCurrent(ctx, "a"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	sum, err := f.sess.Summarize("今天，天气不错。")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Hits != 1 || sum.Total != 1 || sum.Percent != 100 {
		t.Errorf("Summarize = %+v", sum)
	}
}

func TestCheckText_UsesSessionDelimiters(t *testing.T) {
	t.Parallel()

	f := newFixture(t, plainSettings())
	ctx := context.Background()
	if err := f.sess.SetCurrent(ctx, "a"); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	results := f.sess.CheckText(ctx, "今天\n天气不错")
	if len(results) != 2 || !f.sess.Checker().Passed() {
		t.Errorf("results = %+v, locked = %v", results, f.sess.Checker().Locked())
	}
	f.sess.ResetCheck()
	if f.sess.Checker().Passed() {
		t.Error("ResetCheck left the item passed")
	}
}
