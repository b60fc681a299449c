package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxChunk    = 160
	defaultMinClause   = 60
	defaultPerRune     = 450 * time.Millisecond
	defaultSlack       = 2 * time.Second
	defaultMinWatchdog = 5 * time.Second
	defaultMaxWatchdog = 300 * time.Second
	defaultGrace       = time.Second

	// chunkBreaks are the runes at which a long request may be cut once the
	// current piece has reached the minimum clause length.
	chunkBreaks = "。！？!?；;，,\n"
)

// GuardOption configures a [Guard].
type GuardOption func(*Guard)

// WithMaxChunk sets the maximum number of runes spoken in one backend
// call. Longer requests are cut at clause boundaries. Default: 160.
func WithMaxChunk(n int) GuardOption {
	return func(g *Guard) {
		if n > 0 {
			g.maxChunk = n
		}
	}
}

// WithRate sets the speech rate used to estimate how long an utterance
// should take. Values are clamped to [0.1, ∞). Default: 1.
func WithRate(rate float64) GuardOption {
	return func(g *Guard) {
		g.rate = max(0.1, rate)
	}
}

// WithWatchdog overrides the watchdog estimate: perRune per rune divided by
// the rate, plus slack, clamped to [minWait, maxWait]. Defaults: 450ms, 2s,
// 5s and 300s.
func WithWatchdog(perRune, slack, minWait, maxWait time.Duration) GuardOption {
	return func(g *Guard) {
		g.perRune = perRune
		g.slack = slack
		g.minWait = minWait
		g.maxWait = maxWait
	}
}

// WithGrace sets how long the next piece waits for a backend call that the
// watchdog or a cancellation abandoned but that has not returned yet.
// Default: 1s.
func WithGrace(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d >= 0 {
			g.grace = d
		}
	}
}

// WithTimeoutHook registers fn to be called (with the piece of text) every
// time the watchdog synthesises a completion.
func WithTimeoutHook(fn func(text string)) GuardOption {
	return func(g *Guard) {
		g.onTimeout = fn
	}
}

// Guard wraps a [Speaker] with the guarantees the playback loop relies on:
//
//   - long requests are split into pieces that are spoken strictly in order;
//   - each piece is bounded by a watchdog proportional to its length, so a
//     backend that never signals completion cannot stall the caller;
//   - at most one request is in flight: starting a new one cancels the
//     previous request and waits for it to settle first;
//   - a backend call cut short by the watchdog or a cancellation is given
//     the grace period to return before the next backend call starts. A
//     backend that ignores its context past that point may overlap the
//     next call;
//   - Speak always returns exactly once and never reports an error.
//
// Guard is safe for concurrent use.
type Guard struct {
	speaker   Speaker
	maxChunk  int
	rate      float64
	perRune   time.Duration
	slack     time.Duration
	minWait   time.Duration
	maxWait   time.Duration
	grace     time.Duration
	onTimeout func(text string)

	// call is held for the whole duration of a Speak call.
	call sync.Mutex
	// stray is the result channel of an abandoned backend call that had
	// not returned yet. Guarded by call.
	stray chan error

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

var _ Speaker = (*Guard)(nil)

// NewGuard wraps s.
func NewGuard(s Speaker, opts ...GuardOption) *Guard {
	g := &Guard{
		speaker:  s,
		maxChunk: defaultMaxChunk,
		rate:     1,
		perRune:  defaultPerRune,
		slack:    defaultSlack,
		minWait:  defaultMinWatchdog,
		maxWait:  defaultMaxWatchdog,
		grace:    defaultGrace,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Speak speaks text piece by piece and returns once every piece finished,
// timed out, or ctx (or a later Speak/Cancel) cancelled the request. It
// always returns nil.
func (g *Guard) Speak(ctx context.Context, text string) error {
	pieces := Split(text, g.maxChunk)
	if len(pieces) == 0 {
		return nil
	}

	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.gen++
	gen := g.gen
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		if g.gen == gen {
			g.cancel = nil
		}
		g.mu.Unlock()
		cancel()
	}()

	// Wait for the cancelled predecessor to settle.
	g.call.Lock()
	defer g.call.Unlock()

	for _, p := range pieces {
		if reqCtx.Err() != nil {
			return nil
		}
		g.speakOnce(reqCtx, p)
	}
	return nil
}

// Cancel aborts the in-flight request, if any, without waiting for it.
func (g *Guard) Cancel() {
	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Unlock()
}

// SetRate changes the speech rate used by the watchdog estimate, clamped
// like [WithRate]. It affects pieces started afterwards.
func (g *Guard) SetRate(rate float64) {
	g.mu.Lock()
	g.rate = max(0.1, rate)
	g.mu.Unlock()
}

// Watchdog returns the completion deadline for a piece of text.
func (g *Guard) Watchdog(piece string) time.Duration {
	g.mu.Lock()
	rate := g.rate
	g.mu.Unlock()
	n := len([]rune(piece))
	est := time.Duration(float64(time.Duration(n)*g.perRune)/rate) + g.slack
	return min(max(est, g.minWait), g.maxWait)
}

func (g *Guard) speakOnce(ctx context.Context, piece string) {
	if !g.settleStray(ctx) {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, g.Watchdog(piece))
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- g.speaker.Speak(wctx, piece) }()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			slog.Warn("speech: backend failed, continuing", "err", err, "runes", len([]rune(piece)))
		}
	case <-wctx.Done():
		g.stray = done
		if ctx.Err() != nil {
			return
		}
		slog.Warn("speech: watchdog fired, continuing", "runes", len([]rune(piece)))
		if g.onTimeout != nil {
			g.onTimeout(piece)
		}
	}
}

// settleStray waits up to the grace period for an abandoned backend call.
// It reports false when ctx ended first.
func (g *Guard) settleStray(ctx context.Context) bool {
	if g.stray == nil {
		return true
	}
	t := time.NewTimer(g.grace)
	defer t.Stop()
	select {
	case <-g.stray:
	case <-t.C:
		slog.Warn("speech: abandoned backend call still running, starting next piece", "grace", g.grace)
	case <-ctx.Done():
		return false
	}
	g.stray = nil
	return true
}

// Split cuts text into pieces of at most maxLen runes (160 when maxLen is
// not positive). A cut happens when the piece reaches maxLen, or at a clause
// or sentence break once the piece holds at least 60 runes. Pieces are
// trimmed and blank pieces dropped. Text within the limit is returned as a
// single piece.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = defaultMaxChunk
	}
	s := strings.TrimSpace(text)
	if s == "" {
		return nil
	}
	if len([]rune(s)) <= maxLen {
		return []string{s}
	}

	var parts []string
	var buf []rune
	flush := func() {
		if p := strings.TrimSpace(string(buf)); p != "" {
			parts = append(parts, p)
		}
		buf = buf[:0]
	}
	for _, r := range s {
		buf = append(buf, r)
		hit := strings.ContainsRune(chunkBreaks, r)
		if len(buf) >= maxLen || (hit && len(buf) >= defaultMinClause) {
			flush()
		}
	}
	flush()
	if len(parts) == 0 {
		return []string{s}
	}
	return parts
}
