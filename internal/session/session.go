// Package session binds the recitation engine together for one learner.
//
// A [Session] owns the current item and the single scheduler, checker and
// speech guard serving it. Every change of current item, whether by
// navigation or by the scheduler auto-advancing, first flushes pending edits
// of the previous item and then reloads the check state for the new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/reciter/internal/item"
	"github.com/MrWong99/reciter/internal/observe"
	"github.com/MrWong99/reciter/internal/playback"
	"github.com/MrWong99/reciter/internal/recite"
	"github.com/MrWong99/reciter/internal/similarity"
	"github.com/MrWong99/reciter/internal/textseg"
	"github.com/MrWong99/reciter/pkg/speech"
)

// ErrNoItem is returned by operations that need a current item when none is
// selected.
var ErrNoItem = errors.New("session: no current item")

// Config configures a [Session].
type Config struct {
	// Store provides the items and receives repaired ones. Required.
	Store item.Store

	// Speaker is the speech backend. It is wrapped in a [speech.Guard].
	// Required.
	Speaker speech.Speaker

	// Settings are the initial settings. Defaults to [DefaultSettings] if
	// zero.
	Settings Settings

	// Metrics defaults to [observe.DefaultMetrics] if nil.
	Metrics *observe.Metrics

	// Flush commits pending edits of itemID before the current item
	// changes. May be nil.
	Flush func(ctx context.Context, itemID string) error

	// OnStatus receives every scheduler state change. May be nil.
	OnStatus func(playback.State)

	// OnStep is called as each playback step starts. May be nil.
	OnStep func(index int, st playback.Step)
}

// Session is safe for concurrent use.
type Session struct {
	store   item.Store
	guard   *speech.Guard
	sched   *playback.Scheduler
	checker *recite.Checker
	metrics *observe.Metrics
	flush   func(ctx context.Context, itemID string) error

	mu       sync.Mutex
	settings Settings
	current  item.Item
	has      bool
}

// New creates a Session with no current item.
func New(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.Speaker == nil {
		return nil, errors.New("session: speaker is required")
	}
	set := cfg.Settings
	if set == (Settings{}) {
		set = DefaultSettings()
	}
	if !set.Scorer.IsValid() {
		return nil, fmt.Errorf("session: unknown scorer %q", set.Scorer)
	}

	s := &Session{
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		flush:    cfg.Flush,
		settings: set,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.guard = speech.NewGuard(cfg.Speaker,
		speech.WithRate(set.SpeechRate),
		speech.WithTimeoutHook(func(text string) {
			s.metrics.SpeechTimeouts.Add(context.Background(), 1)
			slog.Warn("session: speech watchdog fired", "runes", len([]rune(text)))
		}),
	)
	s.checker = recite.NewChecker(
		recite.WithScorer(similarity.ForName(set.Scorer)),
		recite.WithThreshold(set.Threshold),
		recite.WithMetrics(s.metrics),
	)

	opts := []playback.Option{
		playback.WithSource(cfg.Store),
		playback.WithSettings(set.Playback),
		playback.WithMetrics(s.metrics),
		playback.WithCheckGate(func(itemID string) bool {
			return s.checker.ItemID() == itemID && s.checker.Passed()
		}),
		playback.WithAdvanceHook(s.adopt),
	}
	if cfg.OnStatus != nil {
		opts = append(opts, playback.WithStatusHook(cfg.OnStatus))
	}
	if cfg.OnStep != nil {
		opts = append(opts, playback.WithStepHook(cfg.OnStep))
	}
	s.sched = playback.NewScheduler(s.guard, opts...)
	return s, nil
}

// Close stops playback and cuts any speech.
func (s *Session) Close() {
	s.sched.Stop()
	s.guard.Cancel()
}

// Current returns the current item.
func (s *Session) Current() (item.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.has
}

// Settings returns the current settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// State returns the scheduler state.
func (s *Session) State() playback.State { return s.sched.State() }

// SetCurrent stops playback and makes the item with the given id current.
func (s *Session) SetCurrent(ctx context.Context, id string) error {
	it, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("session: set current: %w", err)
	}
	s.sched.Stop()
	s.adopt(ctx, it)
	return nil
}

// Next moves to the item after the current one. It reports false when the
// current item is the last.
func (s *Session) Next(ctx context.Context) (bool, error) {
	return s.navigate(ctx, "next", s.store.Next)
}

// Prev moves to the item before the current one. It reports false when the
// current item is the first.
func (s *Session) Prev(ctx context.Context) (bool, error) {
	return s.navigate(ctx, "prev", s.store.Prev)
}

func (s *Session) navigate(ctx context.Context, op string, lookup func(context.Context, string) (item.Item, bool, error)) (bool, error) {
	cur, ok := s.Current()
	if !ok {
		return false, ErrNoItem
	}
	if op == "next" && s.Settings().Playback.ForceReciteCheck && !s.checker.Passed() {
		p := s.checker.Progress()
		slog.Warn("session: leaving item before the recite check passed",
			"item", cur.ID, "hits", p.SegmentHits, "total", p.SegmentTotal)
	}
	it, found, err := lookup(ctx, cur.ID)
	if err != nil {
		return false, fmt.Errorf("session: %s: %w", op, err)
	}
	if !found {
		return false, nil
	}
	s.sched.Stop()
	s.adopt(ctx, it)
	return true, nil
}

// adopt flushes the previous item and makes it current with fresh check
// state. It doubles as the scheduler's advance hook.
func (s *Session) adopt(ctx context.Context, it item.Item) {
	s.mu.Lock()
	prev, had := s.current, s.has
	s.mu.Unlock()

	if had && prev.ID != it.ID && s.flush != nil {
		if err := s.flush(ctx, prev.ID); err != nil {
			slog.Warn("session: flush pending edits failed", "item", prev.ID, "err", err)
		}
	}

	s.mu.Lock()
	s.current, s.has = it, true
	s.loadCheckLocked()
	s.mu.Unlock()

	if item.HasPlaceholderCorruption(it) {
		slog.Warn("session: answer contains placeholder text", "item", it.ID)
	}
}

// loadCheckLocked rebuilds the matchable segments of the current item and
// resets the check.
func (s *Session) loadCheckLocked() {
	if !s.has {
		s.checker.Load("", textseg.Set{})
		return
	}
	p := textseg.Select(s.settings.ReciteOnlyHighlights, s.settings.Playback.SentenceDelimiters)
	s.checker.Load(s.current.ID, p.Segments(s.current.AnswerText, s.current.AnswerHTML))
}

// Play starts playback of the current item from its first step.
func (s *Session) Play(ctx context.Context) error {
	return s.PlayFromSentence(ctx, -1)
}

// PlayFromSentence starts playback of the current item from the drill step
// of the given sentence. A negative sentence plays from the first step.
func (s *Session) PlayFromSentence(ctx context.Context, sentence int) error {
	cur, ok := s.Current()
	if !ok {
		return ErrNoItem
	}
	var err error
	if sentence < 0 {
		err = s.sched.Start(ctx, cur)
	} else {
		err = s.sched.StartFromSentence(ctx, cur, sentence)
	}
	if err != nil {
		return fmt.Errorf("session: play: %w", err)
	}
	return nil
}

// Pause holds playback on the current step.
func (s *Session) Pause() { s.sched.Pause() }

// Resume continues paused playback.
func (s *Session) Resume() error {
	if err := s.sched.Resume(); err != nil {
		return fmt.Errorf("session: resume: %w", err)
	}
	return nil
}

// Stop ends playback.
func (s *Session) Stop() { s.sched.Stop() }

// Step moves playback by delta steps. It reports whether playback moved.
func (s *Session) Step(delta int) bool { return s.sched.Step(delta) }

// HandleUtterance matches one finalised utterance against the current item.
func (s *Session) HandleUtterance(ctx context.Context, text string) recite.Result {
	return s.checker.Submit(ctx, text)
}

// CheckText replaces the check state with the result of matching a pasted
// recitation.
func (s *Session) CheckText(ctx context.Context, raw string) []recite.Result {
	delims := s.Settings().Playback.SentenceDelimiters
	return s.checker.CheckText(ctx, raw, delims)
}

// ResetCheck clears the check state of the current item.
func (s *Session) ResetCheck() { s.checker.Reset() }

// Listen feeds every final transcript of r to the checker, in arrival
// order, until r's stream ends or ctx is done. The check is reset with mask
// mode on when listening starts and reset again when it stops. Listen
// closes r before returning. onResult, if non-nil, sees every result.
func (s *Session) Listen(ctx context.Context, r speech.Recognizer, onResult func(recite.Result)) error {
	s.checker.Reset()
	s.checker.SetMaskMode(true)
	defer func() {
		if err := r.Close(); err != nil {
			slog.Warn("session: close recognizer", "err", err)
		}
		s.checker.Reset()
	}()

	finals := r.Finals()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-finals:
			if !ok {
				return nil
			}
			res := s.checker.Submit(ctx, tr.Text)
			if onResult != nil && res.Outcome != recite.Ignored {
				onResult(res)
			}
		}
	}
}

// ApplySettings replaces the settings. A change to highlight mode, the
// sentence delimiters or the scorer resets the check.
func (s *Session) ApplySettings(set Settings) error {
	if !set.Scorer.IsValid() {
		return fmt.Errorf("session: apply settings: unknown scorer %q", set.Scorer)
	}

	s.mu.Lock()
	old := s.settings
	s.settings = set
	reset := set.needsCheckReset(old)
	s.mu.Unlock()

	s.sched.SetSettings(set.Playback)
	s.guard.SetRate(set.SpeechRate)
	s.checker.SetThreshold(set.Threshold)
	if set.Scorer != old.Scorer {
		s.checker.SetScorer(similarity.ForName(set.Scorer))
	}
	if reset {
		s.mu.Lock()
		s.loadCheckLocked()
		s.mu.Unlock()
		slog.Info("session: settings changed the matchable segments, check reset")
	}
	return nil
}

// RepairCurrent removes leaked placeholder text from the current item,
// stores the result and resets the check. It reports whether anything was
// repaired.
func (s *Session) RepairCurrent(ctx context.Context) (bool, error) {
	cur, ok := s.Current()
	if !ok {
		return false, ErrNoItem
	}
	if !item.RepairPlaceholder(&cur) {
		return false, nil
	}
	if err := s.store.Put(ctx, &cur); err != nil {
		return false, fmt.Errorf("session: repair: %w", err)
	}

	s.mu.Lock()
	if s.has && s.current.ID == cur.ID {
		s.current = cur
		s.loadCheckLocked()
	}
	s.mu.Unlock()

	slog.Info("session: repaired placeholder text", "item", cur.ID)
	return true, nil
}

// Progress reports the check progress of the current item.
func (s *Session) Progress() recite.Progress { return s.checker.Progress() }

// Checker exposes the check state of the current item.
func (s *Session) Checker() *recite.Checker { return s.checker }

// Summarize scores a whole recited text against each unit of the current
// item: its highlight spans in highlight mode, otherwise its sentences.
func (s *Session) Summarize(text string) (recite.Summary, error) {
	s.mu.Lock()
	cur, ok, set := s.current, s.has, s.settings
	s.mu.Unlock()
	if !ok {
		return recite.Summary{}, ErrNoItem
	}

	var units []string
	if set.ReciteOnlyHighlights && strings.TrimSpace(cur.AnswerHTML) != "" {
		units = textseg.ExtractHighlights(cur.AnswerHTML)
	} else {
		units = textseg.SplitSentences(cur.AnswerText, set.Playback.SentenceDelimiters)
	}
	return recite.Summarize(units, text, set.Threshold, similarity.ForName(set.Scorer)), nil
}
