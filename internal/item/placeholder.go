package item

import (
	"strings"

	"github.com/MrWong99/reciter/internal/textseg"
)

// Placeholder is the glyph run a masked answer shows instead of text not yet
// recited. It must never reach a stored answer.
const Placeholder = "▇▇▇▇▇▇"

// HasPlaceholderCorruption reports whether the stored answer of it contains
// the mask placeholder.
func HasPlaceholderCorruption(it Item) bool {
	return strings.Contains(it.AnswerText, Placeholder) || strings.Contains(it.AnswerHTML, Placeholder)
}

// RepairPlaceholder removes the mask placeholder from it and reports whether
// anything changed.
//
// When the plain answer is clean and non-blank it is taken as the source of
// truth and the HTML is rebuilt from it. Otherwise the placeholder is cut
// from the HTML and the plain answer is re-derived from the result. Text the
// placeholder overwrote cannot be recovered.
func RepairPlaceholder(it *Item) bool {
	if !HasPlaceholderCorruption(*it) {
		return false
	}
	textHas := strings.Contains(it.AnswerText, Placeholder)
	if !textHas && strings.TrimSpace(it.AnswerText) != "" {
		it.AnswerHTML = textseg.TextToHTML(it.AnswerText)
		return true
	}
	it.AnswerHTML = strings.ReplaceAll(it.AnswerHTML, Placeholder, "")
	text := textseg.PlainText(it.AnswerHTML)
	if strings.TrimSpace(it.AnswerHTML) == "" {
		text = it.AnswerText
	}
	it.AnswerText = strings.TrimSpace(strings.ReplaceAll(text, Placeholder, ""))
	return true
}
