package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MrWong99/reciter/internal/item"
	"github.com/MrWong99/reciter/internal/playback"
	"github.com/MrWong99/reciter/internal/recite"
	"github.com/MrWong99/reciter/pkg/speech"
)

const helpText = `commands:
  list                 list items (* marks the current one)
  go <n|id>            make item n (1-based) or id current
  next | prev          move to the adjacent item
  show                 show the current item, masking unrecited segments
  play [sentence]      play the current item, optionally from a sentence
  pause | resume | stop
  step <delta>         move playback by delta steps
  say <text>           submit a spoken utterance
  listen | unlisten    start or stop live recognition of "say" input
  check <text>         check a pasted recitation (\n separates lines)
  summary <text>       score a whole recitation against every sentence
  progress             show check progress
  reset                reset the check
  repair               remove leaked mask placeholders from the answer
  export <path>        write all items to a collections file
  quit`

// console reads commands from a.in until quit, end of input, or ctx is
// done.
func (a *App) console(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	a.printf("reciter ready, type \"help\" for commands\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if a.exec(ctx, line) {
				return nil
			}
		}
	}
}

// exec runs one command line and reports whether the console should exit.
func (a *App) exec(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch strings.ToLower(cmd) {
	case "":
	case "help", "?":
		a.printf("%s\n", helpText)
	case "quit", "exit":
		return true
	case "list":
		err = a.cmdList(ctx)
	case "go":
		err = a.cmdGo(ctx, arg)
	case "next":
		err = a.cmdMove(ctx, a.sess.Next, "last")
	case "prev":
		err = a.cmdMove(ctx, a.sess.Prev, "first")
	case "show":
		err = a.cmdShow()
	case "play":
		err = a.cmdPlay(ctx, arg)
	case "pause":
		a.sess.Pause()
	case "resume":
		err = a.sess.Resume()
	case "stop":
		a.sess.Stop()
	case "step":
		err = a.cmdStep(arg)
	case "say":
		a.cmdSay(ctx, arg)
	case "listen":
		a.startListening(ctx)
	case "unlisten":
		a.stopListening()
	case "check":
		results := a.sess.CheckText(ctx, strings.ReplaceAll(arg, `\n`, "\n"))
		for _, r := range results {
			a.printResult(r)
		}
		a.printProgress()
	case "summary":
		err = a.cmdSummary(arg)
	case "progress":
		a.printProgress()
	case "reset":
		a.sess.ResetCheck()
		a.printf("check reset\n")
	case "repair":
		err = a.cmdRepair(ctx)
	case "export":
		err = a.cmdExport(ctx, arg)
	default:
		a.printf("unknown command %q, type \"help\"\n", cmd)
	}
	if err != nil {
		a.printf("error: %v\n", err)
	}
	return false
}

func (a *App) cmdList(ctx context.Context) error {
	items, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	cur, _ := a.sess.Current()
	for i, it := range items {
		mark := " "
		if it.ID == cur.ID {
			mark = "*"
		}
		a.printf("%s %3d  %s  %s\n", mark, i+1, it.ID, it.Question)
	}
	return nil
}

func (a *App) cmdGo(ctx context.Context, arg string) error {
	if arg == "" {
		return errors.New("usage: go <n|id>")
	}
	id := arg
	if n, err := strconv.Atoi(arg); err == nil {
		items, err := a.store.List(ctx)
		if err != nil {
			return err
		}
		if n < 1 || n > len(items) {
			return fmt.Errorf("no item %d", n)
		}
		id = items[n-1].ID
	}
	if err := a.sess.SetCurrent(ctx, id); err != nil {
		return err
	}
	return a.cmdShow()
}

func (a *App) cmdMove(ctx context.Context, move func(context.Context) (bool, error), edge string) error {
	moved, err := move(ctx)
	if err != nil {
		return err
	}
	if !moved {
		a.printf("already at the %s item\n", edge)
		return nil
	}
	return a.cmdShow()
}

func (a *App) cmdShow() error {
	cur, ok := a.sess.Current()
	if !ok {
		return errNoItems
	}
	a.printf("Q: %s\nA: %s\n", cur.Question, a.renderAnswer())
	if cur.FocusPoints != "" {
		a.printf("focus: %s\n", cur.FocusPoints)
	}
	return nil
}

// renderAnswer joins the segments of the current item by sentence. In mask
// mode every segment not yet recited is replaced by the placeholder.
func (a *App) renderAnswer() string {
	c := a.sess.Checker()
	set := c.Segments()
	mask := c.MaskMode()

	var b strings.Builder
	for si, segs := range set.BySentence {
		if si > 0 {
			b.WriteString(" ")
		}
		for j, seg := range segs {
			if j > 0 {
				b.WriteString("，")
			}
			if mask && !c.IsLocked(seg.GlobalIndex) {
				b.WriteString(item.Placeholder)
				continue
			}
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

func (a *App) cmdPlay(ctx context.Context, arg string) error {
	if arg == "" {
		return a.sess.Play(ctx)
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return errors.New("usage: play [sentence number]")
	}
	return a.sess.PlayFromSentence(ctx, n-1)
}

func (a *App) cmdStep(arg string) error {
	delta, err := strconv.Atoi(arg)
	if err != nil || delta == 0 {
		return errors.New("usage: step <delta>")
	}
	if !a.sess.Step(delta) {
		a.printf("nothing to step to\n")
	}
	return nil
}

func (a *App) cmdSay(ctx context.Context, text string) {
	a.feedMu.Lock()
	feed := a.feed
	a.feedMu.Unlock()
	if feed != nil && feed.Push(ctx, text) {
		return
	}
	a.printResult(a.sess.HandleUtterance(ctx, text))
}

func (a *App) startListening(ctx context.Context) {
	a.feedMu.Lock()
	defer a.feedMu.Unlock()
	if a.feed != nil {
		a.printf("already listening\n")
		return
	}
	feed := speech.NewFeed(16)
	a.feed = feed
	go func() {
		err := a.sess.Listen(ctx, feed, a.printResult)
		a.feedMu.Lock()
		if a.feed == feed {
			a.feed = nil
		}
		a.feedMu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			a.printf("listening stopped: %v\n", err)
		}
	}()
	a.printf("listening; unrecited segments are masked\n")
}

func (a *App) stopListening() {
	a.feedMu.Lock()
	feed := a.feed
	a.feed = nil
	a.feedMu.Unlock()
	if feed != nil {
		_ = feed.Close()
		a.printf("stopped listening\n")
	}
}

func (a *App) cmdSummary(text string) error {
	if text == "" {
		return errors.New("usage: summary <text>")
	}
	s, err := a.sess.Summarize(text)
	if err != nil {
		return err
	}
	a.printf("summary: %d/%d hit (%d%%), min %.2f, max %.2f, threshold %.2f\n",
		s.Hits, s.Total, s.Percent, s.Min, s.Max, s.Threshold)
	return nil
}

func (a *App) cmdRepair(ctx context.Context) error {
	repaired, err := a.sess.RepairCurrent(ctx)
	if err != nil {
		return err
	}
	if repaired {
		a.printf("placeholder removed, check reset\n")
	} else {
		a.printf("nothing to repair\n")
	}
	return nil
}

func (a *App) cmdExport(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("usage: export <path>")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := item.Export(ctx, f, a.store, a.names); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.printf("exported to %s\n", path)
	return nil
}

func (a *App) printResult(r recite.Result) {
	switch r.Outcome {
	case recite.Hit:
		done := ""
		if r.SentenceDone {
			done = ", sentence complete"
		}
		a.printf("✓ sentence %d segment %d (%.2f)%s\n",
			r.Best.SentenceIndex+1, r.Best.SegmentIndex+1, r.Score, done)
	case recite.Miss:
		a.printf("✗ %q: best %.2f < %.2f\n", r.Utterance, r.Score, r.Threshold)
	case recite.AllLocked:
		a.printf("✓ everything already recited\n")
	}
}

func (a *App) printProgress() {
	p := a.sess.Progress()
	state := "in progress"
	if p.Passed {
		state = "passed"
	}
	a.printf("progress: %d/%d segments (%d%%), %d/%d sentences, next #%d, %s\n",
		p.SegmentHits, p.SegmentTotal, p.Percent, p.SentenceHits, p.SentenceTotal, p.Next, state)
}

func (a *App) printStatus(st playback.State) {
	switch st.Status {
	case playback.StatusFinished:
		a.printf("[playback finished]\n")
	case playback.StatusAwaitingCheck:
		a.printf("[playback finished; recite the answer before moving on]\n")
	case playback.StatusTTSDisabled:
		a.printf("[speech output is disabled]\n")
	case playback.StatusPaused:
		a.printf("[paused at step %d/%d]\n", st.StepIndex+1, st.StepCount)
	}
}

var errNoItems = errors.New("no current item; import a collection first")

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
