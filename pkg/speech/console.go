package speech

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Printer is a [Speaker] for terminals: it writes each text to w and then
// waits as long as reading it aloud would take, or until ctx is done.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	prefix  string
	perRune time.Duration
}

var _ Speaker = (*Printer)(nil)

// NewPrinter returns a Printer writing to w, pausing perRune for every rune
// of text. A zero perRune does not pause.
func NewPrinter(w io.Writer, prefix string, perRune time.Duration) *Printer {
	return &Printer{w: w, prefix: prefix, perRune: perRune}
}

// Speak implements [Speaker].
func (p *Printer) Speak(ctx context.Context, text string) error {
	p.mu.Lock()
	_, err := fmt.Fprintf(p.w, "%s%s\n", p.prefix, text)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("speech: print: %w", err)
	}

	d := time.Duration(len([]rune(text))) * p.perRune
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Feed is a [Recognizer] fed by the caller, such as a console reading typed
// utterances or an adapter around a streaming recogniser.
type Feed struct {
	mu     sync.Mutex
	ch     chan Transcript
	closed bool
}

var _ Recognizer = (*Feed)(nil)

// NewFeed returns a Feed buffering up to buffer utterances.
func NewFeed(buffer int) *Feed {
	return &Feed{ch: make(chan Transcript, buffer)}
}

// Push delivers text as a final utterance. It blocks while the buffer is
// full and reports false if the feed is closed or ctx is done first.
func (f *Feed) Push(ctx context.Context, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- Transcript{Text: text, At: time.Now()}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finals implements [Recognizer].
func (f *Feed) Finals() <-chan Transcript { return f.ch }

// Close implements [Recognizer].
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}
