// Package similarity scores how closely a recited utterance matches an
// answer segment.
//
// The default [Dice] scorer normalises both strings with
// [textseg.NormalizeText] and computes the Sørensen–Dice coefficient over
// their character-bigram multisets. [JaroWinkler] is an alternate scorer
// backed by github.com/antzucaro/matchr, selectable through configuration.
//
// All scorers return values in [0, 1], are symmetric, and are safe for
// concurrent use.
package similarity

import (
	"github.com/antzucaro/matchr"

	"github.com/MrWong99/reciter/internal/textseg"
)

// Scorer computes a similarity score in [0, 1] between two strings.
type Scorer interface {
	Score(a, b string) float64
}

// ScorerFunc adapts a plain function to [Scorer].
type ScorerFunc func(a, b string) float64

// Score implements [Scorer].
func (f ScorerFunc) Score(a, b string) float64 { return f(a, b) }

// Name identifies a scorer in configuration.
type Name string

const (
	NameDice        Name = "dice"
	NameJaroWinkler Name = "jaro-winkler"
)

// IsValid reports whether n is a recognised scorer name. The empty name is
// valid and selects [Dice].
func (n Name) IsValid() bool {
	switch n {
	case "", NameDice, NameJaroWinkler:
		return true
	}
	return false
}

// ForName returns the scorer registered under n, defaulting to [Dice].
func ForName(n Name) Scorer {
	if n == NameJaroWinkler {
		return ScorerFunc(JaroWinkler)
	}
	return ScorerFunc(Dice)
}

// Bigrams normalises s and returns its overlapping two-rune windows in
// order. A single-rune normalised string yields a one-element list holding
// that rune; an empty one yields nil.
func Bigrams(s string) []string {
	r := []rune(textseg.NormalizeText(s))
	switch len(r) {
	case 0:
		return nil
	case 1:
		return []string{string(r)}
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}

// Dice returns 2·|A∩B| / (|A|+|B|) over the bigram multisets of a and b.
// Each bigram instance of b consumes at most one matching instance of a, so
// the intersection counts multiplicity exactly once. Returns 0 if either
// side has no bigrams.
func Dice(a, b string) float64 {
	A := Bigrams(a)
	B := Bigrams(b)
	if len(A) == 0 || len(B) == 0 {
		return 0
	}
	counts := make(map[string]int, len(A))
	for _, x := range A {
		counts[x]++
	}
	overlap := 0
	for _, y := range B {
		if counts[y] > 0 {
			overlap++
			counts[y]--
		}
	}
	return float64(2*overlap) / float64(len(A)+len(B))
}

// JaroWinkler returns the Jaro-Winkler similarity of the normalised forms of
// a and b. Returns 0 if either normalises to the empty string.
func JaroWinkler(a, b string) float64 {
	na := textseg.NormalizeText(a)
	nb := textseg.NormalizeText(b)
	if na == "" || nb == "" {
		return 0
	}
	// matchr's prefix boost makes the raw score order-dependent for some
	// inputs; take the max of both orders to keep the scorer symmetric.
	s1 := matchr.JaroWinkler(na, nb, false)
	s2 := matchr.JaroWinkler(nb, na, false)
	if s2 > s1 {
		s1 = s2
	}
	return s1
}
