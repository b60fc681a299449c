// Package textseg decomposes answer text into sentences and clause-level
// segments, the units used for playback grouping and recitation matching.
//
// Sentences are produced by splitting on a user-configurable delimiter set
// (default [DefaultDelimiters]); each sentence is then refined into segments
// on a fixed set of clause delimiters. Segments longer than 24 runes are
// bisected once at their midpoint. Segmentation is a pure function of the
// input text and is recomputed on demand; nothing here is persisted.
//
// All lengths are measured in runes, so CJK text and ASCII text are treated
// alike.
package textseg

import (
	"strings"
	"unicode"
)

// DefaultDelimiters is the sentence delimiter set used when none is
// configured or the configured set is blank.
const DefaultDelimiters = "。！？!?"

// ClauseDelimiters are the fixed secondary delimiters that split a sentence
// into segments. They are not user-configurable.
const ClauseDelimiters = "，,;；、"

// maxSegmentRunes is the length above which a segment is bisected.
const maxSegmentRunes = 24

// normalizeStrip is the punctuation removed by [NormalizeText].
const normalizeStrip = "，。！？、；：,.!?;:\"'“”‘’（）()【】[]{}<>《》-—_"

// Segment is the atomic recitation-matching unit.
type Segment struct {
	// GlobalIndex is the segment's position in the flattened segment list.
	GlobalIndex int

	// SentenceIndex is the index of the sentence the segment belongs to.
	SentenceIndex int

	// SegmentIndex is the segment's position within its sentence.
	SegmentIndex int

	// Text is the trimmed display text of the segment.
	Text string
}

// Set is the segmented view of one answer: the flattened segment list plus
// the same segments grouped per sentence.
type Set struct {
	Segments   []Segment
	BySentence [][]Segment
}

// Len returns the number of segments in s.
func (s Set) Len() int { return len(s.Segments) }

// SentenceCount returns the number of sentence groups in s.
func (s Set) SentenceCount() int { return len(s.BySentence) }

// NormalizeText lowercases s and strips all whitespace (including the
// ideographic space) and a fixed set of Chinese and Latin punctuation. The
// result is only meant for similarity scoring, never for display.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) || strings.ContainsRune(normalizeStrip, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CleanDelimiters removes whitespace from delimiters and deduplicates the
// remaining runes, preserving first-seen order. A blank input yields
// [DefaultDelimiters].
func CleanDelimiters(delimiters string) string {
	seen := make(map[rune]struct{}, len(delimiters))
	var b strings.Builder
	for _, r := range delimiters {
		if unicode.IsSpace(r) {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return DefaultDelimiters
	}
	return b.String()
}

// SplitSentences breaks text after every rune contained in delimiters and
// returns the trimmed, non-empty pieces. Delimiters stay attached to the
// sentence they terminate.
//
// Delimiters are matched rune by rune, so characters that would be regular
// expression metacharacters need no escaping. When nothing splits, a
// non-blank text is returned as a single sentence; a blank text yields nil.
func SplitSentences(text, delimiters string) []string {
	raw := strings.ReplaceAll(text, "\r\n", "\n")
	delims := CleanDelimiters(delimiters)

	var marked strings.Builder
	marked.Grow(len(raw) + 8)
	for _, r := range raw {
		marked.WriteRune(r)
		if strings.ContainsRune(delims, r) {
			marked.WriteByte('\n')
		}
	}

	var parts []string
	for _, p := range strings.Split(marked.String(), "\n") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		return parts
	}
	if t := strings.TrimSpace(raw); t != "" {
		return []string{t}
	}
	return nil
}

// SplitSegments splits sentence on [ClauseDelimiters]. Delimiters are
// dropped, pieces are trimmed and empty pieces discarded; an unterminated
// remainder becomes the final piece. A piece longer than 24 runes is split
// once into two halves at ceil(len/2), regardless of word boundaries.
func SplitSegments(sentence string) []string {
	t := strings.TrimSpace(sentence)
	if t == "" {
		return nil
	}

	var pieces []string
	var buf strings.Builder
	flush := func() {
		if p := strings.TrimSpace(buf.String()); p != "" {
			pieces = append(pieces, p)
		}
		buf.Reset()
	}
	for _, r := range t {
		if strings.ContainsRune(ClauseDelimiters, r) {
			flush()
			continue
		}
		buf.WriteRune(r)
	}
	flush()

	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		runes := []rune(p)
		if len(runes) <= maxSegmentRunes {
			out = append(out, p)
			continue
		}
		mid := (len(runes) + 1) / 2
		for _, half := range []string{string(runes[:mid]), string(runes[mid:])} {
			if h := strings.TrimSpace(half); h != "" {
				out = append(out, h)
			}
		}
	}
	return out
}

// BuildSegments flattens [SplitSegments] over sentences, assigning global
// indices in traversal order. A sentence that yields no segments still
// receives one fallback segment holding its trimmed text, so every sentence
// owns at least one segment.
func BuildSegments(sentences []string) Set {
	set := Set{BySentence: make([][]Segment, len(sentences))}
	for si, sentence := range sentences {
		segs := SplitSegments(sentence)
		if len(segs) == 0 {
			segs = []string{strings.TrimSpace(sentence)}
		}
		for sj, text := range segs {
			seg := Segment{
				GlobalIndex:   len(set.Segments),
				SentenceIndex: si,
				SegmentIndex:  sj,
				Text:          text,
			}
			set.Segments = append(set.Segments, seg)
			set.BySentence[si] = append(set.BySentence[si], seg)
		}
	}
	return set
}
