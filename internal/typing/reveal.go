// Package typing reveals finished tutor messages word by word. It only
// changes what is rendered; the message text itself is never modified.
package typing

import (
	"unicode"
	"unicode/utf8"
)

// Reveal tracks how much of a text has been shown.
type Reveal struct {
	text  string
	cuts  []int // byte offsets just past each word
	shown int   // number of words revealed
}

// NewReveal prepares text for progressive display. Nothing is shown yet.
func NewReveal(text string) *Reveal {
	return &Reveal{text: text, cuts: wordEnds(text)}
}

// Advance reveals one more word and reports whether more remain.
func (r *Reveal) Advance() bool {
	if r.shown < len(r.cuts) {
		r.shown++
	}
	return !r.Done()
}

// Finish reveals the whole text at once.
func (r *Reveal) Finish() {
	r.shown = len(r.cuts)
}

// Done reports whether the full text is visible.
func (r *Reveal) Done() bool {
	return r.shown >= len(r.cuts)
}

// Visible returns the revealed prefix. Once Done, it equals the original text.
func (r *Reveal) Visible() string {
	if r.Done() {
		return r.text
	}
	if r.shown == 0 {
		return ""
	}
	return r.text[:r.cuts[r.shown-1]]
}

// Full returns the original text.
func (r *Reveal) Full() string {
	return r.text
}

// wordEnds returns the byte offset after each whitespace-separated word.
func wordEnds(s string) []int {
	var cuts []int
	inWord := false
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		space := unicode.IsSpace(r)
		if inWord && space {
			cuts = append(cuts, i)
		}
		inWord = !space
		i += size
	}
	if inWord {
		cuts = append(cuts, len(s))
	}
	return cuts
}
