// Package mock provides test doubles for the speech.Speaker and
// speech.Recognizer interfaces.
//
// Speaker records every request and can be configured to finish
// immediately, after a delay, only when cancelled, or never (ignoring
// cancellation) to exercise watchdog behaviour.
//
// Example:
//
//	sp := &mock.Speaker{Delay: 10 * time.Millisecond}
//	_ = sp.Speak(ctx, "你好")
//	calls := sp.Texts()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/reciter/pkg/speech"
)

// Mode selects how [Speaker.Speak] terminates.
type Mode int

const (
	// ModeDelay returns after Delay (or immediately when Delay is zero), or
	// earlier if ctx is cancelled.
	ModeDelay Mode = iota

	// ModeUntilCancel blocks until ctx is cancelled.
	ModeUntilCancel

	// ModeHang ignores ctx and blocks until Release is called.
	ModeHang

	// ModeManual blocks until Finish is called or ctx is cancelled.
	ModeManual
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	Text string
	// Cancelled reports whether ctx was done when Speak returned.
	Cancelled bool
}

// Speaker is a mock implementation of speech.Speaker.
type Speaker struct {
	mu sync.Mutex

	// Mode selects the termination behaviour. Default: ModeDelay.
	Mode Mode

	// Delay is how long each call lasts in ModeDelay.
	Delay time.Duration

	// Err, if non-nil, is returned from every call.
	Err error

	// Started, if non-nil, receives the text of every call as it begins.
	// Sends do not block; a full channel drops the notification.
	Started chan string

	calls   []SpeakCall
	release chan struct{}
	finish  chan struct{}
}

var _ speech.Speaker = (*Speaker)(nil)

// Speak records the call and terminates according to Mode.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	mode, delay, err, started := s.Mode, s.Delay, s.Err, s.Started
	if s.release == nil {
		s.release = make(chan struct{})
	}
	if s.finish == nil {
		s.finish = make(chan struct{})
	}
	release, finish := s.release, s.finish
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- text:
		default:
		}
	}

	switch mode {
	case ModeUntilCancel:
		<-ctx.Done()
	case ModeHang:
		<-release
	case ModeManual:
		select {
		case <-finish:
		case <-ctx.Done():
		}
	default:
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, SpeakCall{Text: text, Cancelled: ctx.Err() != nil})
	s.mu.Unlock()
	return err
}

// Release unblocks every call stuck in ModeHang.
func (s *Speaker) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release == nil {
		s.release = make(chan struct{})
	}
	close(s.release)
	s.release = make(chan struct{})
}

// Finish completes the oldest call waiting in ModeManual, blocking until
// one is waiting.
func (s *Speaker) Finish() {
	s.mu.Lock()
	if s.finish == nil {
		s.finish = make(chan struct{})
	}
	finish := s.finish
	s.mu.Unlock()
	finish <- struct{}{}
}

// Calls returns a copy of the completed calls in completion order.
func (s *Speaker) Calls() []SpeakCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SpeakCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Texts returns the text of every completed call.
func (s *Speaker) Texts() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Text
	}
	return out
}

// CompletedTexts returns the text of every call that finished without
// being cancelled.
func (s *Speaker) CompletedTexts() []string {
	var out []string
	for _, c := range s.Calls() {
		if !c.Cancelled {
			out = append(out, c.Text)
		}
	}
	return out
}

// Recognizer is a mock implementation of speech.Recognizer. Use Emit to
// deliver utterances and Close to end the stream.
type Recognizer struct {
	mu     sync.Mutex
	ch     chan speech.Transcript
	closed bool
}

var _ speech.Recognizer = (*Recognizer)(nil)

// NewRecognizer returns a Recognizer whose Finals channel buffers up to
// buffer utterances.
func NewRecognizer(buffer int) *Recognizer {
	return &Recognizer{ch: make(chan speech.Transcript, buffer)}
}

// Emit delivers text as a final utterance. It is a no-op after Close.
func (r *Recognizer) Emit(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.ch <- speech.Transcript{Text: text, At: time.Now()}
}

// Finals implements speech.Recognizer.
func (r *Recognizer) Finals() <-chan speech.Transcript { return r.ch }

// Close implements speech.Recognizer.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	return nil
}
