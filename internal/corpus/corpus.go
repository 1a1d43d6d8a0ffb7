// Package corpus provides a simple, deterministic, concurrency-safe
// in-memory passage library built from a Markdown file. The content
// generator draws scripture readings, prayers and declarations from it by
// topic/theme similarity.
//
// Engineering posture:
//   - No logging in the library (callers decide how/what to log)
//   - Functional options, sensible defaults
//   - Unicode-aware tokenization with optional stop-word removal
//   - Immutable, read-only library after construction (safe for concurrent use)
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// passage's token set: score = |Q ∩ P| / |Q ∪ P|.
package corpus

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Passage is one indexed unit of the library: a body of text plus the
// reference line it was filed under (the nearest preceding Markdown heading,
// e.g. "Psalm 46" or "On Stillness").
type Passage struct {
	Ref   string
	Text  string
	Score float64
}

// Library is the minimal read interface exposed to the generator.
type Library interface {
	// TopK returns up to k best-matching passages for the query.
	TopK(query string, k int) []Passage
}

// Option configures library construction.
type Option func(*config)

type config struct {
	minPassageRunes int
	stopwords       map[string]struct{}
	maxPassages     int
}

func defaultConfig() config {
	return config{
		minPassageRunes: 40,
		stopwords:       nil,
		maxPassages:     0,
	}
}

// WithMinPassageRunes drops passages shorter than n runes.
func WithMinPassageRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minPassageRunes = n
		}
	}
}

// WithStopwords removes the given words from both passages and queries
// before scoring.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxPassages caps the number of indexed passages.
func WithMaxPassages(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxPassages = n
		}
	}
}

type entry struct {
	ref    string
	text   string
	tokens map[string]struct{}
	tLen   int
}

type library struct {
	cfg     config
	entries []entry
}

// Load builds a Library by reading the Markdown file at path.
func Load(path string, opts ...Option) (Library, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return &library{cfg: defaultConfig()}, err
	}
	return FromReader(bytes.NewReader(b), opts...)
}

// FromReader builds a Library from UTF-8 Markdown provided by r. Headings
// (lines starting with '#') become the reference of every passage until the
// next heading; passages are split on blank lines.
func FromReader(r io.Reader, opts ...Option) (Library, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	all, err := io.ReadAll(r)
	if err != nil {
		return &library{cfg: cfg}, err
	}
	return build(split(string(all)), cfg), nil
}

// FromPassages builds a Library directly from (ref, text) pairs. Primarily
// useful in tests and for embedded fallback content.
func FromPassages(passages []Passage, opts ...Option) Library {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	raw := make([]rawPassage, 0, len(passages))
	for _, p := range passages {
		raw = append(raw, rawPassage{ref: p.Ref, text: p.Text})
	}
	return build(raw, cfg)
}

type rawPassage struct {
	ref  string
	text string
}

func build(raw []rawPassage, cfg config) *library {
	entries := make([]entry, 0, len(raw))
	for _, rp := range raw {
		t := strings.TrimSpace(normalizeWhitespace(rp.text))
		if t == "" {
			continue
		}
		if cfg.minPassageRunes > 0 && utf8.RuneCountInString(t) < cfg.minPassageRunes {
			continue
		}
		// The reference participates in matching so "Psalm 46" queries hit.
		toks := tokenize(rp.ref+" "+t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		entries = append(entries, entry{ref: rp.ref, text: t, tokens: toks, tLen: len(toks)})
		if cfg.maxPassages > 0 && len(entries) >= cfg.maxPassages {
			break
		}
	}
	return &library{cfg: cfg, entries: entries}
}

// TopK returns up to k best-matching passages by Jaccard similarity.
func (l *library) TopK(q string, k int) []Passage {
	if len(l.entries) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, l.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	buf := make([]Passage, 0, len(l.entries))
	for _, e := range l.entries {
		over := overlap(qTokens, e.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + e.tLen - over)
		if union <= 0 {
			continue
		}
		score := float64(over) / union
		if score <= 0 {
			continue
		}
		buf = append(buf, Passage{Ref: e.ref, Text: e.text, Score: score})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].Score != buf[b].Score {
			return buf[a].Score > buf[b].Score
		}
		la, lb := utf8.RuneCountInString(buf[a].Text), utf8.RuneCountInString(buf[b].Text)
		if la != lb {
			return la < lb
		}
		return buf[a].Text < buf[b].Text
	})

	if k > len(buf) {
		k = len(buf)
	}
	return buf[:k]
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`\p{L}+\p{N}*`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

var paraSplitRE = regexp.MustCompile(`\n\s*\n`)

// split turns Markdown into (ref, text) passages. Heading lines set the
// reference for subsequent paragraphs and are not themselves indexed.
func split(raw string) []rawPassage {
	out := make([]rawPassage, 0, 32)
	ref := ""
	for _, chunk := range paraSplitRE.Split(raw, -1) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		lines := strings.Split(chunk, "\n")
		var body []string
		for _, ln := range lines {
			ln = strings.TrimSpace(ln)
			if strings.HasPrefix(ln, "#") {
				ref = strings.TrimSpace(strings.TrimLeft(ln, "# "))
				continue
			}
			if ln != "" {
				body = append(body, ln)
			}
		}
		if len(body) == 0 {
			continue
		}
		out = append(out, rawPassage{ref: ref, text: strings.Join(body, " ")})
	}
	return out
}
