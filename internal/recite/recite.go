// Package recite tracks which segments of the current item have been
// recited.
//
// A [Checker] owns the check state of one item: the set of locked segment
// indices, the pointer to the first unlocked segment, the mask flag and the
// transcript of submitted utterances. Each utterance is scored against
// every unlocked segment; the best one is locked when it reaches the
// threshold. Locks only ever accumulate until the state is reset, and the
// item is passed once every segment is locked.
package recite

import (
	"context"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/reciter/internal/observe"
	"github.com/MrWong99/reciter/internal/similarity"
	"github.com/MrWong99/reciter/internal/textseg"
)

// DefaultThreshold is the similarity a segment must reach to lock.
const DefaultThreshold = 0.65

// longLineRunes is the length above which a single pasted line is split
// into clauses before matching.
const longLineRunes = 60

// batchClauseDelimiters are added to the sentence delimiters when a long
// pasted line is split.
const batchClauseDelimiters = "，,;；"

// Outcome classifies the effect of one utterance.
type Outcome int

const (
	// Miss means no unlocked segment reached the threshold.
	Miss Outcome = iota
	// Hit means a segment was locked.
	Hit
	// AllLocked means every segment was already locked.
	AllLocked
	// Ignored means the utterance was blank.
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return observe.ResultHit
	case AllLocked:
		return observe.ResultAllHit
	case Ignored:
		return observe.ResultIgnored
	default:
		return observe.ResultMiss
	}
}

// Result describes one processed utterance.
type Result struct {
	Utterance string
	Outcome   Outcome

	// Best is the highest scoring unlocked segment, when there was one.
	Best      textseg.Segment
	HasBest   bool
	Score     float64
	Threshold float64

	// SentenceDone reports whether the hit completed Best's sentence.
	SentenceDone bool
}

// Progress summarises the check state.
type Progress struct {
	SegmentHits   int
	SegmentTotal  int
	SentenceHits  int
	SentenceTotal int
	Percent       int

	// Next is the 1-based position of the next unlocked segment, capped at
	// SegmentTotal.
	Next      int
	Passed    bool
	Threshold float64
}

// Option configures a [Checker].
type Option func(*Checker)

// WithScorer sets the similarity scorer. Default: [similarity.Dice].
func WithScorer(s similarity.Scorer) Option {
	return func(c *Checker) { c.scorer = s }
}

// WithThreshold sets the lock threshold, clamped to [0, 1].
// Default: [DefaultThreshold].
func WithThreshold(t float64) Option {
	return func(c *Checker) { c.threshold = clampUnit(t) }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Checker) { c.metrics = m }
}

// Checker is the recitation-check state machine for one current item. All
// methods are safe for concurrent use; each submission is applied
// atomically.
type Checker struct {
	scorer    similarity.Scorer
	threshold float64
	metrics   *observe.Metrics

	mu         sync.Mutex
	itemID     string
	set        textseg.Set
	locked     map[int]struct{}
	pointer    int
	maskMode   bool
	last       string
	transcript []Result
	reported   bool
}

// NewChecker returns a Checker with no item loaded.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		scorer:    similarity.ScorerFunc(similarity.Dice),
		threshold: DefaultThreshold,
		locked:    make(map[int]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Load makes set the matchable segments of itemID and resets the state.
func (c *Checker) Load(itemID string, set textseg.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.itemID = itemID
	c.set = set
	c.resetLocked()
}

// Reset clears locks, pointer, mask mode and transcript.
func (c *Checker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Checker) resetLocked() {
	clear(c.locked)
	c.pointer = 0
	c.maskMode = false
	c.last = ""
	c.transcript = nil
	c.reported = false
}

// SetThreshold changes the lock threshold, clamped to [0, 1]. Existing
// locks are kept.
func (c *Checker) SetThreshold(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = clampUnit(t)
}

// SetScorer changes the similarity scorer. Existing locks are kept.
func (c *Checker) SetScorer(s similarity.Scorer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scorer = s
}

// ItemID returns the loaded item id.
func (c *Checker) ItemID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itemID
}

// Segments returns the loaded segment set.
func (c *Checker) Segments() textseg.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set
}

// SetMaskMode sets whether unrecited segments should be withheld from view.
func (c *Checker) SetMaskMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maskMode = on
}

// MaskMode reports whether unrecited segments are withheld from view.
func (c *Checker) MaskMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maskMode
}

// Submit matches one finalised utterance. Blank utterances are ignored and
// not recorded.
func (c *Checker) Submit(ctx context.Context, utterance string) Result {
	c.mu.Lock()
	itemID := c.itemID
	c.mu.Unlock()

	ctx, span := observe.StartItemSpan(ctx, "recite.submit", itemID)
	defer span.End()

	c.mu.Lock()
	res := c.submitLocked(utterance)
	passedNow := c.passedNowLocked()
	c.mu.Unlock()

	c.observe(ctx, res, passedNow)
	return res
}

// CheckText replaces the check state with the result of matching raw, a
// pasted or typed recitation. The state is reset first; unless raw is
// blank mask mode is switched on and every candidate utterance of raw (see
// [SplitUtterances]) is matched in order, each seeing the locks left by
// the ones before it.
func (c *Checker) CheckText(ctx context.Context, raw, delimiters string) []Result {
	c.mu.Lock()
	itemID := c.itemID
	c.resetLocked()
	if strings.TrimSpace(raw) == "" {
		c.mu.Unlock()
		return nil
	}
	c.maskMode = true
	c.mu.Unlock()

	ctx, span := observe.StartItemSpan(ctx, "recite.check_text", itemID)
	defer span.End()

	utterances := SplitUtterances(raw, delimiters)
	results := make([]Result, 0, len(utterances))
	for _, u := range utterances {
		c.mu.Lock()
		res := c.submitLocked(u)
		passedNow := c.passedNowLocked()
		c.mu.Unlock()

		c.observe(ctx, res, passedNow)
		results = append(results, res)
	}
	return results
}

func (c *Checker) submitLocked(utterance string) Result {
	u := strings.TrimSpace(utterance)
	res := Result{Utterance: u, Threshold: c.threshold}
	if u == "" {
		res.Outcome = Ignored
		return res
	}
	c.last = u
	defer func() { c.transcript = append(c.transcript, res) }()

	c.advancePointerLocked()
	if c.pointer >= len(c.set.Segments) {
		res.Outcome = AllLocked
		return res
	}

	for _, seg := range c.set.Segments {
		if _, ok := c.locked[seg.GlobalIndex]; ok {
			continue
		}
		// Strictly greater: the first segment wins a tie.
		if s := c.scorer.Score(u, seg.Text); !res.HasBest || s > res.Score {
			res.Best, res.Score, res.HasBest = seg, s, true
		}
	}

	if !res.HasBest || res.Score < c.threshold {
		res.Outcome = Miss
		return res
	}
	res.Outcome = Hit
	c.locked[res.Best.GlobalIndex] = struct{}{}
	c.advancePointerLocked()
	res.SentenceDone = c.sentenceDoneLocked(res.Best.SentenceIndex)
	return res
}

// advancePointerLocked moves the pointer to the smallest unlocked index.
func (c *Checker) advancePointerLocked() {
	c.pointer = 0
	for c.pointer < len(c.set.Segments) {
		if _, ok := c.locked[c.pointer]; !ok {
			break
		}
		c.pointer++
	}
}

func (c *Checker) sentenceDoneLocked(i int) bool {
	if i < 0 || i >= len(c.set.BySentence) {
		return false
	}
	segs := c.set.BySentence[i]
	if len(segs) == 0 {
		return false
	}
	for _, seg := range segs {
		if _, ok := c.locked[seg.GlobalIndex]; !ok {
			return false
		}
	}
	return true
}

// passedNowLocked reports whether the item just became passed, at most once
// per reset.
func (c *Checker) passedNowLocked() bool {
	if c.reported || len(c.set.Segments) == 0 || !c.passedLocked() {
		return false
	}
	c.reported = true
	return true
}

func (c *Checker) observe(ctx context.Context, res Result, passedNow bool) {
	c.metrics.RecordUtterance(ctx, res.Outcome.String())
	l := observe.Logger(ctx)
	switch res.Outcome {
	case Hit:
		l.Debug("recite: hit",
			"sentence", res.Best.SentenceIndex, "segment", res.Best.SegmentIndex,
			"score", res.Score, "sentence_done", res.SentenceDone)
	case Miss:
		l.Debug("recite: miss", "best", res.Score, "threshold", res.Threshold)
	}
	if passedNow {
		c.metrics.ItemsPassed.Add(ctx, 1)
		l.Info("recite: all segments recited")
	}
}

// Passed reports whether every segment is locked. An item without segments
// is vacuously passed.
func (c *Checker) Passed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passedLocked()
}

func (c *Checker) passedLocked() bool {
	n := 0
	for i := range c.locked {
		if i >= 0 && i < len(c.set.Segments) {
			n++
		}
	}
	return n >= len(c.set.Segments)
}

// Pointer returns the index of the first unlocked segment, or the segment
// count when all are locked.
func (c *Checker) Pointer() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pointer
}

// Locked returns the locked segment indices in ascending order.
func (c *Checker) Locked() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.locked))
	for i := range c.locked {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

// IsLocked reports whether segment i is locked.
func (c *Checker) IsLocked(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.locked[i]
	return ok
}

// LastUtterance returns the most recent non-blank utterance.
func (c *Checker) LastUtterance() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Transcript returns every recorded utterance result in submission order.
func (c *Checker) Transcript() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.transcript)
}

// Progress returns the current progress.
func (c *Checker) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := Progress{
		SegmentTotal:  len(c.set.Segments),
		SentenceTotal: len(c.set.BySentence),
		Passed:        c.passedLocked(),
		Threshold:     c.threshold,
	}
	for i := range c.locked {
		if i >= 0 && i < p.SegmentTotal {
			p.SegmentHits++
		}
	}
	for i := range c.set.BySentence {
		if c.sentenceDoneLocked(i) {
			p.SentenceHits++
		}
	}
	p.Percent = percent(p.SegmentHits, p.SegmentTotal)
	p.Next = min(c.pointer+1, p.SegmentTotal)
	return p
}

// SplitUtterances splits a pasted recitation into candidate utterances: one
// per non-blank line. A lone line longer than 60 runes is instead split on
// the sentence delimiters plus "，,;；".
func SplitUtterances(raw, delimiters string) []string {
	lines := nonBlank(strings.Split(raw, "\n"))
	if len(lines) != 1 || len([]rune(lines[0])) <= longLineRunes {
		return lines
	}
	cuts := textseg.CleanDelimiters(delimiters) + batchClauseDelimiters
	parts := nonBlank(strings.FieldsFunc(lines[0], func(r rune) bool {
		return strings.ContainsRune(cuts, r)
	}))
	if len(parts) == 0 {
		return lines
	}
	return parts
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func percent(hits, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(hits) / float64(total) * 100))
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultThreshold
	}
	return min(max(v, 0), 1)
}
