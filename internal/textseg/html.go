package textseg

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ExtractHighlights returns the text of every <mark> element in answerHTML,
// in document order, with non-breaking spaces folded and surrounding
// whitespace trimmed. Empty marks are skipped. Nested marks are reported
// individually, so an outer mark includes the text of its inner marks.
//
// Malformed markup never fails: the HTML5 parser recovers, and an
// unparseable document yields no highlights.
func ExtractHighlights(answerHTML string) []string {
	if strings.TrimSpace(answerHTML) == "" {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(answerHTML))
	if err != nil {
		return nil
	}

	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Mark {
			t := strings.TrimSpace(strings.ReplaceAll(textContent(n), "\u00a0", " "))
			if t != "" {
				out = append(out, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// PlainText projects answerHTML to plain text, turning <br> and block
// element boundaries into line breaks, collapsing runs of spaces and tabs
// and dropping blank lines.
func PlainText(answerHTML string) string {
	doc, err := html.Parse(strings.NewReader(answerHTML))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if n.DataAtom == atom.Br {
				b.WriteByte('\n')
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	text := strings.ReplaceAll(b.String(), "\u00a0", " ")
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == '\t' }), " ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// TextToHTML renders plain text as minimal answer HTML: escaped, with line
// breaks turned into <br>.
func TextToHTML(text string) string {
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Li:
		return true
	}
	return false
}
