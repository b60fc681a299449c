package recite

import (
	"github.com/MrWong99/reciter/internal/similarity"
)

// Summary is the result of scoring a whole recited text against every unit
// of an answer at once.
type Summary struct {
	Hits      int
	Total     int
	Percent   int
	Min       float64
	Max       float64
	Threshold float64
}

// Summarize scores text against each unit (sentences, or highlight spans)
// and counts the units that reach threshold. A nil scorer means
// [similarity.Dice].
func Summarize(units []string, text string, threshold float64, scorer similarity.Scorer) Summary {
	if scorer == nil {
		scorer = similarity.ScorerFunc(similarity.Dice)
	}
	s := Summary{Total: len(units), Threshold: clampUnit(threshold)}
	for i, u := range units {
		score := scorer.Score(text, u)
		if score >= s.Threshold {
			s.Hits++
		}
		if i == 0 {
			s.Min, s.Max = score, score
			continue
		}
		s.Min = min(s.Min, score)
		s.Max = max(s.Max, score)
	}
	s.Percent = percent(s.Hits, s.Total)
	return s
}
