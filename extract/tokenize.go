package extract

import (
	"strings"
	"unicode"

	"github.com/ikawaha/kagome/v2/tokenizer"
	"github.com/opendict/lexicore/headword"
)

// splitSentences breaks text into rough sentences. Sentence boundaries only
// scope candidate snippets, so a cheap heuristic split is enough.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n', '。', '！', '？':
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// tokenize yields normalized tokens for one sentence. Latin runs are split
// on non-word runes; CJK runs go through the morphological tokenizer when
// enabled (surface forms collapse to their dictionary base form) and are
// skipped when it is disabled: unsegmented CJK text has no usable word
// boundaries.
func (e *Extractor) tokenize(sentence string) []string {
	var out []string
	var latin, cjk strings.Builder

	flushLatin := func() {
		if latin.Len() == 0 {
			return
		}
		if n := headword.Normalize(latin.String()); n != "" {
			out = append(out, n)
		}
		latin.Reset()
	}
	flushCJK := func() {
		if cjk.Len() == 0 {
			return
		}
		out = append(out, e.tokenizeCJK(cjk.String())...)
		cjk.Reset()
	}

	for _, r := range sentence {
		switch {
		case isCJK(r):
			flushLatin()
			cjk.WriteRune(r)
		case isWordRune(r):
			flushCJK()
			latin.WriteRune(r)
		default:
			flushLatin()
			flushCJK()
		}
	}
	flushLatin()
	flushCJK()
	return out
}

func (e *Extractor) tokenizeCJK(run string) []string {
	if e.tok == nil {
		return nil
	}
	var out []string
	for _, tk := range e.tok.Tokenize(run) {
		if tk.Class == tokenizer.DUMMY {
			continue
		}
		surface := tk.Surface
		if base, ok := tk.BaseForm(); ok && base != "*" && base != "" {
			surface = base
		}
		if n := headword.Normalize(surface); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// isWordRune reports whether r can occur inside a Latin-script token.
// Hyphen and apostrophe are word-internal; Normalize strips them at edges.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\'' || r == '’'
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana)
}

// defaultStopwords covers English function words that never warrant entries.
func defaultStopwords() map[string]bool {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "when",
		"at", "by", "for", "from", "in", "into", "of", "off", "on", "onto",
		"to", "up", "with", "as", "is", "am", "are", "was", "were", "be",
		"been", "being", "do", "does", "did", "have", "has", "had", "will",
		"would", "can", "could", "shall", "should", "may", "might", "must",
		"i", "you", "he", "she", "it", "we", "they", "me", "him", "her",
		"us", "them", "my", "your", "his", "its", "our", "their", "this",
		"that", "these", "those", "there", "here", "not", "no", "nor", "so",
		"too", "very", "just", "than", "both", "each", "few", "more", "most",
		"other", "some", "such", "only", "own", "same", "also", "all", "any",
		"about", "against", "between", "through", "during", "before", "after",
		"above", "below", "over", "under", "again", "further", "once", "out",
		"down", "what", "which", "who", "whom", "how", "why", "where", "while",
		"because", "until", "now",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
