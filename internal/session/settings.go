package session

import (
	"github.com/MrWong99/reciter/internal/playback"
	"github.com/MrWong99/reciter/internal/recite"
	"github.com/MrWong99/reciter/internal/similarity"
)

// Settings bundles everything a session can be reconfigured with at
// runtime.
type Settings struct {
	Playback playback.Settings

	// Threshold is the similarity a segment must reach to lock.
	Threshold float64

	// ReciteOnlyHighlights restricts the check to the marked spans of the
	// answer HTML.
	ReciteOnlyHighlights bool

	Scorer similarity.Name

	// SpeechRate feeds the speech watchdog estimate.
	SpeechRate float64
}

// DefaultSettings returns the settings of a fresh installation.
func DefaultSettings() Settings {
	return Settings{
		Playback:   playback.DefaultSettings(),
		Threshold:  recite.DefaultThreshold,
		Scorer:     similarity.NameDice,
		SpeechRate: 1,
	}
}

// needsCheckReset reports whether moving from old to s changes the set of
// matchable segments or how they are scored.
func (s Settings) needsCheckReset(old Settings) bool {
	return s.ReciteOnlyHighlights != old.ReciteOnlyHighlights ||
		s.Playback.SentenceDelimiters != old.Playback.SentenceDelimiters ||
		s.Scorer != old.Scorer
}
