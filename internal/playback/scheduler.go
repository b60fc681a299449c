package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/reciter/internal/item"
	"github.com/MrWong99/reciter/internal/observe"
	"github.com/MrWong99/reciter/pkg/speech"
)

// ErrTTSDisabled is returned by [Scheduler.Start] and [Scheduler.Resume]
// when speech output is switched off in the settings.
var ErrTTSDisabled = errors.New("playback: speech output is disabled")

// Status is the scheduler's externally visible condition.
type Status int

const (
	// StatusIdle means nothing is loaded: never started, or stopped.
	StatusIdle Status = iota
	StatusPlaying
	StatusPaused
	// StatusFinished means the last item's steps were all spoken and no
	// automatic advance happened.
	StatusFinished
	// StatusAwaitingCheck means playback reached the end of an item whose
	// recite check has not passed while the check is mandatory.
	StatusAwaitingCheck
	// StatusTTSDisabled means playback ended because speech output was
	// switched off.
	StatusTTSDisabled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusFinished:
		return "finished"
	case StatusAwaitingCheck:
		return "awaiting_check"
	case StatusTTSDisabled:
		return "tts_disabled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// State is a snapshot of the scheduler.
type State struct {
	Status Status

	// ItemID is the item of the step being spoken. During the review block
	// it is the previous item, while MainItemID stays the item being drilled.
	ItemID     string
	MainItemID string

	StepIndex int
	StepCount int

	// ActiveSentence is the global sentence index of the step being spoken,
	// or -1.
	ActiveSentence int
	ReviewMode     bool
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithSource sets the item source used to find the previous item for the
// review block and the next item for automatic advance. Without a source
// neither happens.
func WithSource(src item.Source) Option {
	return func(s *Scheduler) { s.src = src }
}

// WithSettings sets the initial settings. Default: [DefaultSettings].
func WithSettings(set Settings) Option {
	return func(s *Scheduler) { s.settings = set }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithCheckGate sets the function reporting whether the recite check of an
// item has passed. It is consulted when ForceReciteCheck is set.
func WithCheckGate(fn func(itemID string) bool) Option {
	return func(s *Scheduler) { s.gate = fn }
}

// WithAdvanceHook registers fn to run when playback moves on to the next
// item by itself, before the first step of that item is spoken.
func WithAdvanceHook(fn func(ctx context.Context, next item.Item)) Option {
	return func(s *Scheduler) { s.onAdvance = fn }
}

// WithStepHook registers fn to run as each step starts.
func WithStepHook(fn func(index int, st Step)) Option {
	return func(s *Scheduler) { s.onStep = fn }
}

// WithStatusHook registers fn to run whenever the status changes.
func WithStatusHook(fn func(State)) Option {
	return func(s *Scheduler) { s.onStatus = fn }
}

// Scheduler plays step lists one at a time. At most one playback loop runs
// per Scheduler; starting a new one stops the previous one first.
//
// Hooks run on the loop goroutine without internal locks held. They may
// read scheduler state but must not call Start or StartFromSentence.
type Scheduler struct {
	speaker   speech.Speaker
	src       item.Source
	metrics   *observe.Metrics
	gate      func(itemID string) bool
	onAdvance func(ctx context.Context, next item.Item)
	onStep    func(index int, st Step)
	onStatus  func(State)

	mu         sync.Mutex
	settings   Settings
	running    bool
	paused     bool
	status     Status
	itemID     string
	mainItemID string
	steps      []Step
	stepIndex  int
	active     int
	review     bool

	// gen identifies the current loop; a loop whose gen is stale exits.
	gen uint64
	// seq changes whenever the step being spoken is cut or the step index
	// is moved from outside the loop. A step spoken under a stale seq is
	// never counted as done.
	seq        uint64
	cancelStep context.CancelFunc
	wake       chan struct{}
	done       chan struct{}
}

// NewScheduler returns an idle Scheduler speaking through sp. sp should be
// a [speech.Guard] or otherwise bound every call.
func NewScheduler(sp speech.Speaker, opts ...Option) *Scheduler {
	s := &Scheduler{
		speaker:  sp,
		settings: DefaultSettings(),
		active:   -1,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Settings returns the current settings.
func (s *Scheduler) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings replaces the settings. They take effect at the next step;
// switching speech output off also cuts the step being spoken.
func (s *Scheduler) SetSettings(set Settings) {
	s.mu.Lock()
	s.settings = set
	if !set.TTSEnabled && s.running {
		s.interruptLocked()
	}
	s.signalLocked()
	s.mu.Unlock()
}

// State returns a snapshot of the scheduler.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Start plays it from the first step. The loop runs until the steps are
// exhausted, Stop is called, or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, it item.Item) error {
	return s.start(ctx, it, -1)
}

// StartFromSentence plays it from the first drill step of the given global
// sentence index, or from the first step when no such step exists.
func (s *Scheduler) StartFromSentence(ctx context.Context, it item.Item, sentence int) error {
	return s.start(ctx, it, sentence)
}

func (s *Scheduler) start(ctx context.Context, it item.Item, sentence int) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("playback: start: %w", err)
	}

	s.mu.Lock()
	set := s.settings
	if !set.TTSEnabled {
		s.status = StatusTTSDisabled
		s.mu.Unlock()
		return ErrTTSDisabled
	}
	s.resetLocked()
	prev := s.done
	s.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return fmt.Errorf("playback: start: %w", ctx.Err())
		}
	}

	steps := s.playerSteps(ctx, it, set)
	idx := 0
	if sentence >= 0 {
		if i := slices.IndexFunc(steps, func(st Step) bool {
			return !st.Review && !st.IsQuestion && !st.IsFullRead && st.GlobalSentenceIndex == sentence
		}); i >= 0 {
			idx = i
		}
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.running = true
	s.paused = false
	s.status = StatusPlaying
	s.itemID, s.mainItemID = it.ID, it.ID
	s.steps = steps
	s.stepIndex = idx
	s.active = -1
	s.review = false
	s.wake = make(chan struct{}, 1)
	done := make(chan struct{})
	s.done = done
	st := s.stateLocked()
	s.mu.Unlock()

	slog.Info("playback: started", "item", it.ID, "steps", len(steps), "from", idx)
	s.emit(st)
	go s.loop(ctx, gen, done)
	return nil
}

// Pause cuts the step being spoken and holds the step index.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if !s.running || s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.status = StatusPaused
	s.interruptLocked()
	st := s.stateLocked()
	s.mu.Unlock()
	s.emit(st)
}

// Resume continues a paused loop from the step it was paused on. It is a
// no-op when nothing is playing.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	if !s.settings.TTSEnabled {
		s.mu.Unlock()
		return ErrTTSDisabled
	}
	if !s.paused {
		s.mu.Unlock()
		return nil
	}
	s.paused = false
	s.status = StatusPlaying
	s.signalLocked()
	st := s.stateLocked()
	s.mu.Unlock()
	s.emit(st)
	return nil
}

// Stop cuts any speech, clears all state and returns to idle. It does not
// wait for the loop goroutine to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasActive := s.running || s.status != StatusIdle
	s.resetLocked()
	st := s.stateLocked()
	s.mu.Unlock()
	if wasActive {
		s.emit(st)
	}
}

// Step moves playback to the nearest non-question step at or beyond
// index+delta, searching in the direction of delta, and cuts the step being
// spoken. It reports whether playback moved.
func (s *Scheduler) Step(delta int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || len(s.steps) == 0 {
		return false
	}
	dir := 1
	if delta < 0 {
		dir = -1
	}
	for i := clamp(s.stepIndex+delta, 0, len(s.steps)-1); i >= 0 && i < len(s.steps); i += dir {
		if s.steps[i].IsQuestion {
			continue
		}
		s.stepIndex = i
		s.active = s.steps[i].GlobalSentenceIndex
		s.interruptLocked()
		return true
	}
	return false
}

// interruptLocked cuts the step being spoken so the loop speaks it again
// instead of moving past it.
func (s *Scheduler) interruptLocked() {
	s.seq++
	if s.cancelStep != nil {
		s.cancelStep()
	}
}

func (s *Scheduler) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		if !s.settings.TTSEnabled {
			s.finishLocked(StatusTTSDisabled)
			st := s.stateLocked()
			s.mu.Unlock()
			slog.Info("playback: stopped, speech output disabled", "item", st.MainItemID)
			s.emit(st)
			return
		}
		if s.paused {
			wake := s.wake
			s.mu.Unlock()
			select {
			case <-wake:
			case <-ctx.Done():
				s.abort(gen)
				return
			}
			continue
		}
		if s.stepIndex >= len(s.steps) {
			finished, set := s.mainItemID, s.settings
			s.mu.Unlock()
			if s.advance(ctx, gen, finished, set) {
				continue
			}
			return
		}

		idx, seq := s.stepIndex, s.seq
		st := s.steps[idx]
		s.itemID = st.ItemID
		s.active = st.GlobalSentenceIndex
		s.review = st.Review
		stepCtx, cancel := context.WithCancel(ctx)
		s.cancelStep = cancel
		s.mu.Unlock()

		s.speakStep(stepCtx, idx, st)
		cancel()

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.cancelStep = nil
		if ctx.Err() != nil {
			s.mu.Unlock()
			s.abort(gen)
			return
		}
		// Cut by Pause, SetSettings or Step: the step is not done, even if
		// Resume already ran.
		if s.paused || !s.settings.TTSEnabled || s.seq != seq || s.stepIndex != idx {
			s.mu.Unlock()
			continue
		}
		s.stepIndex++
		s.mu.Unlock()
	}
}

func (s *Scheduler) speakStep(ctx context.Context, idx int, st Step) {
	ctx, span := observe.StartItemSpan(ctx, "playback.step", st.ItemID,
		observe.KeyStepIndex.Int(idx),
		observe.KeyStepKind.String(st.Kind()),
	)
	defer span.End()

	if s.onStep != nil {
		s.onStep(idx, st)
	}
	start := time.Now()
	if err := s.speaker.Speak(ctx, st.Text); err != nil && ctx.Err() == nil {
		observe.Logger(ctx).Debug("playback: speaker reported an error", "err", err)
	}
	if ctx.Err() == nil {
		s.metrics.RecordStep(ctx, st.Kind(), time.Since(start).Seconds())
	}
}

// advance handles the end of the step list. It reports whether the loop
// should continue with the next item's steps.
func (s *Scheduler) advance(ctx context.Context, gen uint64, finished string, set Settings) bool {
	if set.AutoPlayNext && !set.ForceReciteCheck && s.src != nil && finished != "" {
		next, ok, err := s.src.Next(ctx, finished)
		switch {
		case err != nil:
			slog.Warn("playback: next item lookup failed", "item", finished, "err", err)
		case ok:
			s.mu.Lock()
			stale := s.gen != gen
			s.mu.Unlock()
			if stale {
				return false
			}
			if s.onAdvance != nil {
				s.onAdvance(ctx, next)
			}
			steps := s.playerSteps(ctx, next, set)

			s.mu.Lock()
			if s.gen != gen {
				s.mu.Unlock()
				return false
			}
			s.itemID, s.mainItemID = next.ID, next.ID
			s.steps = steps
			s.stepIndex = 0
			s.active = -1
			s.review = false
			s.paused = false
			s.seq++
			s.mu.Unlock()

			s.metrics.ItemsAdvanced.Add(ctx, 1)
			slog.Info("playback: advanced to next item", "from", finished, "to", next.ID, "steps", len(steps))
			return true
		}
	}

	status := StatusFinished
	if set.ForceReciteCheck && (s.gate == nil || !s.gate(finished)) {
		status = StatusAwaitingCheck
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.finishLocked(status)
	st := s.stateLocked()
	s.mu.Unlock()

	slog.Info("playback: finished", "item", finished, "status", status.String())
	s.emit(st)
	return false
}

func (s *Scheduler) abort(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	st := s.stateLocked()
	s.mu.Unlock()
	s.emit(st)
}

func (s *Scheduler) playerSteps(ctx context.Context, it item.Item, set Settings) []Step {
	var prev *item.Item
	if set.ReviewPrevAfterEach && s.src != nil {
		p, ok, err := s.src.Prev(ctx, it.ID)
		if err != nil {
			slog.Warn("playback: previous item lookup failed", "item", it.ID, "err", err)
		} else if ok {
			prev = &p
		}
	}
	return BuildPlayerSteps(it, prev, set)
}

// resetLocked invalidates the running loop and clears every field.
func (s *Scheduler) resetLocked() {
	s.gen++
	if s.cancelStep != nil {
		s.cancelStep()
		s.cancelStep = nil
	}
	s.signalLocked()
	s.running = false
	s.paused = false
	s.status = StatusIdle
	s.itemID, s.mainItemID = "", ""
	s.steps = nil
	s.stepIndex = 0
	s.active = -1
	s.review = false
}

// finishLocked ends the loop with status, keeping the item ids for callers
// that want to report on them.
func (s *Scheduler) finishLocked(status Status) {
	s.running = false
	s.paused = false
	s.status = status
	s.steps = nil
	s.stepIndex = 0
	s.active = -1
	s.review = false
	if s.cancelStep != nil {
		s.cancelStep()
		s.cancelStep = nil
	}
}

func (s *Scheduler) signalLocked() {
	if s.wake == nil {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) stateLocked() State {
	return State{
		Status:         s.status,
		ItemID:         s.itemID,
		MainItemID:     s.mainItemID,
		StepIndex:      s.stepIndex,
		StepCount:      len(s.steps),
		ActiveSentence: s.active,
		ReviewMode:     s.review,
	}
}

func (s *Scheduler) emit(st State) {
	if s.onStatus != nil {
		s.onStatus(st)
	}
}
