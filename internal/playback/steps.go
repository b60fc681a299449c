// Package playback builds the spoken drill for an item and plays it.
//
// [BuildSteps] groups an answer's sentences and repeats each group;
// [BuildPlayerSteps] wraps that drill with full-read bookends and an
// optional capped review of the previous item. [Scheduler] walks the
// resulting step list through a [speech.Speaker], honouring pause, resume,
// stop and manual navigation, and at the end of an item either advances to
// the next one or halts waiting for the recitation check.
package playback

import (
	"github.com/MrWong99/reciter/internal/item"
	"github.com/MrWong99/reciter/internal/textseg"
)

// Setting ranges. Values outside are clamped before use.
const (
	MinGroupSize          = 1
	MaxGroupSize          = 10
	MinRepeatPerGroup     = 1
	MaxRepeatPerGroup     = 20
	MinFullRead           = 0
	MaxFullRead           = 5
	MinReviewRepeatCount  = 1
	MaxReviewRepeatCount  = 5
	defaultGroupSize      = 3
	defaultRepeatPerGroup = 4
)

// FullReadType tags a full-read step as part of the opening or closing
// bookend.
type FullReadType string

const (
	FullReadNone   FullReadType = ""
	FullReadBefore FullReadType = "before"
	FullReadAfter  FullReadType = "after"
)

// Step is one utterance of a playback session. Steps are immutable once
// built.
type Step struct {
	ItemID string
	Text   string

	IsQuestion   bool
	Review       bool
	IsFullRead   bool
	FullReadType FullReadType

	// Drill position. Question and full-read steps have Round 0 and
	// GlobalSentenceIndex -1.
	GroupIndex           int
	GroupCount           int
	Round                int
	RoundCount           int
	SentenceIndexInGroup int
	GlobalSentenceIndex  int
}

// Kind names the step for metrics and logs: "question", "full_read",
// "review" or "drill".
func (s Step) Kind() string {
	switch {
	case s.IsFullRead:
		return "full_read"
	case s.IsQuestion:
		return "question"
	case s.Review:
		return "review"
	default:
		return "drill"
	}
}

// Settings are the playback-relevant settings.
type Settings struct {
	GroupSize             int
	RepeatPerGroup        int
	SentenceDelimiters    string
	FullReadBeforeGroups  int
	FullReadAfterGroups   int
	ReviewPrevAfterEach   bool
	ReviewPrevRepeatCount int
	TTSEnabled            bool
	AutoPlayNext          bool
	ForceReciteCheck      bool
}

// DefaultSettings returns the settings of a fresh installation.
func DefaultSettings() Settings {
	return Settings{
		GroupSize:             defaultGroupSize,
		RepeatPerGroup:        defaultRepeatPerGroup,
		SentenceDelimiters:    textseg.DefaultDelimiters,
		FullReadBeforeGroups:  1,
		FullReadAfterGroups:   1,
		ReviewPrevRepeatCount: 1,
		TTSEnabled:            true,
	}
}

// Clamped returns s with every numeric setting forced into its range.
func (s Settings) Clamped() Settings {
	s.GroupSize = clamp(s.GroupSize, MinGroupSize, MaxGroupSize)
	s.RepeatPerGroup = clamp(s.RepeatPerGroup, MinRepeatPerGroup, MaxRepeatPerGroup)
	s.FullReadBeforeGroups = clamp(s.FullReadBeforeGroups, MinFullRead, MaxFullRead)
	s.FullReadAfterGroups = clamp(s.FullReadAfterGroups, MinFullRead, MaxFullRead)
	s.ReviewPrevRepeatCount = clamp(s.ReviewPrevRepeatCount, MinReviewRepeatCount, MaxReviewRepeatCount)
	return s
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// BuildSteps returns the grouped drill for it: sentences in chunks of
// GroupSize, each chunk spoken RepeatPerGroup times in full before the next
// chunk begins. review marks every step as part of a review block.
func BuildSteps(it item.Item, set Settings, review bool) []Step {
	set = set.Clamped()
	sentences := textseg.SplitSentences(it.AnswerText, set.SentenceDelimiters)
	if len(sentences) == 0 {
		return nil
	}

	groupCount := (len(sentences) + set.GroupSize - 1) / set.GroupSize
	steps := make([]Step, 0, len(sentences)*set.RepeatPerGroup)
	for g := range groupCount {
		start := g * set.GroupSize
		group := sentences[start:min(start+set.GroupSize, len(sentences))]
		for r := range set.RepeatPerGroup {
			for s, text := range group {
				steps = append(steps, Step{
					ItemID:               it.ID,
					Text:                 text,
					Review:               review,
					GroupIndex:           g,
					GroupCount:           groupCount,
					Round:                r,
					RoundCount:           set.RepeatPerGroup,
					SentenceIndexInGroup: s,
					GlobalSentenceIndex:  start + s,
				})
			}
		}
	}
	return steps
}

// BuildPlayerSteps returns the full session for it:
//
//  1. FullReadBeforeGroups times the question then the whole answer;
//  2. the question, then the grouped drill;
//  3. FullReadAfterGroups times the question then the whole answer;
//  4. when ReviewPrevAfterEach is set and prev is non-nil, prev's question
//     followed by the rounds of prev's drill below ReviewPrevRepeatCount.
func BuildPlayerSteps(it item.Item, prev *item.Item, set Settings) []Step {
	set = set.Clamped()

	var steps []Step
	steps = appendFullRead(steps, it, set.FullReadBeforeGroups, FullReadBefore)
	steps = append(steps, questionStep(it, false))
	steps = append(steps, BuildSteps(it, set, false)...)
	steps = appendFullRead(steps, it, set.FullReadAfterGroups, FullReadAfter)

	if set.ReviewPrevAfterEach && prev != nil {
		steps = append(steps, questionStep(*prev, true))
		for _, st := range BuildSteps(*prev, set, true) {
			if st.Round < set.ReviewPrevRepeatCount {
				steps = append(steps, st)
			}
		}
	}
	return steps
}

func questionStep(it item.Item, review bool) Step {
	return Step{
		ItemID:              it.ID,
		Text:                it.Question,
		IsQuestion:          true,
		Review:              review,
		GlobalSentenceIndex: -1,
	}
}

func appendFullRead(steps []Step, it item.Item, n int, typ FullReadType) []Step {
	for range n {
		q := questionStep(it, false)
		q.IsFullRead, q.FullReadType = true, typ
		a := Step{
			ItemID:              it.ID,
			Text:                it.AnswerText,
			IsFullRead:          true,
			FullReadType:        typ,
			GlobalSentenceIndex: -1,
		}
		steps = append(steps, q, a)
	}
	return steps
}
