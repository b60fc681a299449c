// Package speech defines the two speech capabilities the recitation engine
// depends on, and a guard that makes any speech-out backend safe to drive
// from a playback loop.
//
// Both capabilities are opaque to the engine:
//
//   - [Speaker] turns text into audible speech and returns when playback has
//     finished or was cancelled.
//   - [Recognizer] emits finalised utterances as they are recognised.
//
// The engine never inspects audio. Concrete backends (browser speech
// synthesis, cloud TTS, a console stub) live outside this package.
package speech

import (
	"context"
	"time"
)

// Speaker is the speech-out capability.
//
// Speak must block until the text has been spoken, playback failed, or ctx
// was cancelled. Implementations should return promptly once ctx is done.
// An error is informational only: the engine treats every outcome as
// "this utterance is over" and continues with the next step.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// SpeakerFunc adapts an ordinary function to [Speaker].
type SpeakerFunc func(ctx context.Context, text string) error

// Speak implements [Speaker].
func (f SpeakerFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// Transcript is one finalised recognition result.
type Transcript struct {
	// Text is the recognised utterance.
	Text string

	// Confidence is the recogniser's confidence in [0, 1]. Zero when the
	// backend does not report one.
	Confidence float64

	// At is when the utterance was finalised.
	At time.Time
}

// Recognizer is the speech-in capability. Finals delivers finalised
// utterances in arrival order and is closed when recognition stops.
//
// Close stops recognition and closes the Finals channel. Calling Close more
// than once is safe.
type Recognizer interface {
	Finals() <-chan Transcript
	Close() error
}
