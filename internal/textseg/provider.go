package textseg

// Provider derives the matchable segment set of an answer. Two strategies
// exist: [SentenceProvider] segments the plain answer text, and
// [HighlightProvider] uses only the manually highlighted spans of the rich
// answer. Both feed the same locking and matching machinery.
type Provider interface {
	// Segments returns the segment set for an answer given its plain text
	// and optional rich HTML representation.
	Segments(answerText, answerHTML string) Set
}

// SentenceProvider segments the plain answer text into sentences and
// clause-level segments.
type SentenceProvider struct {
	// Delimiters is the sentence delimiter set. Blank means [DefaultDelimiters].
	Delimiters string
}

// Segments implements [Provider].
func (p SentenceProvider) Segments(answerText, _ string) Set {
	return BuildSegments(SplitSentences(answerText, p.Delimiters))
}

// HighlightProvider treats every highlighted span as one segment, all
// belonging to a single sentence group. Answers without rich HTML fall back
// to sentence segmentation; rich answers without highlights have no
// segments.
type HighlightProvider struct {
	Fallback SentenceProvider
}

// Segments implements [Provider].
func (p HighlightProvider) Segments(answerText, answerHTML string) Set {
	if answerHTML == "" {
		return p.Fallback.Segments(answerText, answerHTML)
	}
	parts := ExtractHighlights(answerHTML)
	if len(parts) == 0 {
		return Set{}
	}
	segs := make([]Segment, len(parts))
	for i, t := range parts {
		segs[i] = Segment{GlobalIndex: i, SentenceIndex: 0, SegmentIndex: i, Text: t}
	}
	return Set{Segments: segs, BySentence: [][]Segment{segs}}
}

// Select returns the provider for the configured mode.
func Select(onlyHighlights bool, delimiters string) Provider {
	sp := SentenceProvider{Delimiters: delimiters}
	if onlyHighlights {
		return HighlightProvider{Fallback: sp}
	}
	return sp
}
