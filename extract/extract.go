// Package extract turns raw crawled text into a deduplicated stream of
// extraction candidates.
//
// The extractor guarantees no two candidates in one batch share a normalized
// headword; cross-batch dedup against the corpus is the ingestion
// coordinator's job.
package extract

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/go-shiori/go-readability"
	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
	"github.com/opendict/lexicore/entry"
	"github.com/opendict/lexicore/headword"
)

// SourceRef identifies where a candidate was observed.
type SourceRef struct {
	SourceID  string
	URL       string
	FetchedAt time.Time
}

// Candidate is a proposed new headword or phrase awaiting a decision. It is
// never persisted; it either dies as a dedup hit or becomes an entry.
type Candidate struct {
	RawText  string     // surface text as seen in the source
	Headword string     // normalized lookup key
	Kind     entry.Kind // word or phrase
	Snippet  string     // surrounding sentence, handed to the generator
	Sources  []SourceRef
}

type options struct {
	html          bool
	cjk           bool
	minWordLen    int
	stopwords     map[string]bool
	phraseSet     map[string]bool
	maxPhraseLen  int
	maxCandidates int
}

// Option configures an Extractor.
type Option func(*options)

// WithHTML enables readability extraction for payloads that look like HTML
// documents; plain text passes through untouched.
func WithHTML() Option {
	return func(o *options) { o.html = true }
}

// WithCJK enables morphological tokenization of CJK runs. Latin text never
// goes through the morphological tokenizer.
func WithCJK() Option {
	return func(o *options) { o.cjk = true }
}

// WithMinWordLength drops word candidates shorter than n runes.
func WithMinWordLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.minWordLen = n
		}
	}
}

// WithStopwords replaces the default stopword list. Entries are normalized
// before matching.
func WithStopwords(words []string) Option {
	return func(o *options) {
		o.stopwords = make(map[string]bool, len(words))
		for _, w := range words {
			o.stopwords[headword.Normalize(w)] = true
		}
	}
}

// WithPhraseList registers known multi-word expressions. Phrase candidates
// are emitted only for n-grams on this list; open phrase discovery produces
// too much noise to feed a generation service.
func WithPhraseList(phrases []string) Option {
	return func(o *options) {
		for _, p := range phrases {
			n := headword.Normalize(p)
			if headword.IsPhrase(n) {
				o.phraseSet[n] = true
				if l := len(strings.Fields(n)); l > o.maxPhraseLen {
					o.maxPhraseLen = l
				}
			}
		}
	}
}

// WithMaxCandidates caps the number of candidates per batch; 0 means no cap.
func WithMaxCandidates(n int) Option {
	return func(o *options) { o.maxCandidates = n }
}

// Extractor converts one crawl payload into candidates.
type Extractor struct {
	opts options
	tok  *tokenizer.Tokenizer
}

// New creates an Extractor. The CJK tokenizer dictionary is loaded once here,
// not per batch.
func New(optFns ...Option) (*Extractor, error) {
	o := options{
		minWordLen: 2,
		stopwords:  defaultStopwords(),
		phraseSet:  make(map[string]bool),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	e := &Extractor{opts: o}
	if o.cjk {
		t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
		if err != nil {
			return nil, fmt.Errorf("cjk tokenizer: %w", err)
		}
		e.tok = t
	}
	return e, nil
}

// Extract produces the batch-deduplicated candidate sequence for one
// payload. Within the batch, candidate identity is the normalized headword;
// duplicate deliveries of the same text are expected and harmless.
func (e *Extractor) Extract(raw string, src SourceRef) ([]Candidate, error) {
	text := raw
	if e.opts.html && looksLikeHTML(raw) {
		article, err := readability.FromReader(strings.NewReader(raw), mustParseURL(src.URL))
		if err != nil {
			return nil, fmt.Errorf("readability: %w", err)
		}
		text = article.TextContent
	}

	seen := roaring64.New()
	var out []Candidate

	emit := func(rawText, normalized string, kind entry.Kind, snippet string) bool {
		if e.opts.maxCandidates > 0 && len(out) >= e.opts.maxCandidates {
			return false
		}
		h := headword.Hash(normalized)
		if seen.Contains(h) {
			return true
		}
		seen.Add(h)
		out = append(out, Candidate{
			RawText:  rawText,
			Headword: normalized,
			Kind:     kind,
			Snippet:  snippet,
			Sources:  []SourceRef{src},
		})
		return true
	}

	for _, sentence := range splitSentences(text) {
		tokens := e.tokenize(sentence)

		// Known multi-word expressions first, longest n-gram wins.
		if len(e.opts.phraseSet) > 0 {
			for i := range tokens {
				for n := e.opts.maxPhraseLen; n >= 2; n-- {
					if i+n > len(tokens) {
						continue
					}
					gram := strings.Join(tokens[i:i+n], " ")
					if e.opts.phraseSet[gram] {
						if !emit(gram, gram, entry.KindPhrase, sentence) {
							return out, nil
						}
						break
					}
				}
			}
		}

		for _, tk := range tokens {
			if !e.keepWord(tk) {
				continue
			}
			if !emit(tk, tk, entry.KindWord, sentence) {
				return out, nil
			}
		}
	}
	return out, nil
}

func (e *Extractor) keepWord(normalized string) bool {
	if normalized == "" || e.opts.stopwords[normalized] {
		return false
	}
	runes := []rune(normalized)
	if len(runes) < e.opts.minWordLen && !isCJK(runes[0]) {
		return false
	}
	// Pure numbers and fragments with no letters are not headwords.
	hasLetter := false
	for _, r := range runes {
		if isWordRune(r) && !(r >= '0' && r <= '9') {
			hasLetter = true
			break
		}
	}
	return hasLetter
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 256 {
		head = head[:256]
	}
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html") ||
		strings.Contains(head, "<body")
}
