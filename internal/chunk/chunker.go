// Package chunk splits agreement text into ordered, bounded-size segments
// for per-chunk extraction.
//
// The primary strategy splits at recognized section headers (ARTICLE /
// SECTION / schedule headings common in credit agreements). Sections that
// still exceed the size budget, or documents without recognizable headers,
// fall back to paragraph accumulation. A single paragraph is never split.
package chunk

import (
	"regexp"
	"strings"
)

// DefaultMaxChars is the default chunk size budget. Roughly 6k tokens of
// agreement text, leaving headroom for the prompt and response.
const DefaultMaxChars = 24000

// Chunk is one bounded contiguous slice of the source document. Ordinal is
// assignment order and the only ordering invariant carried downstream.
type Chunk struct {
	Text    string
	Ordinal int
	Section string // header text when the section strategy applied, else empty
}

// sectionHeaderRE matches the headings that delimit credit agreement
// sections: "ARTICLE IV", "SECTION 2.01", "Schedule 1.01(a)", and bare
// all-caps headings such as "EVENTS OF DEFAULT".
var sectionHeaderRE = regexp.MustCompile(`(?mi)^\s*(` +
	`article\s+[ivxlc\d]+[^\n]*` +
	`|section\s+\d+(?:\.\d+)*[^\n]*` +
	`|schedule\s+[\d.]+[^\n]*` +
	`|exhibit\s+[a-z][^\n]*` +
	`|(?-i:[A-Z][A-Z ,;&-]{5,80})` +
	`)\s*$`)

// Split divides text into chunks of at most maxChars characters. Empty or
// whitespace-only input yields zero chunks; callers must treat that as a
// hard failure distinct from per-chunk extraction failures.
func Split(text string, maxChars int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var chunks []Chunk
	sections := splitSections(text)
	if len(sections) >= 2 {
		for _, sec := range sections {
			for _, piece := range accumulateParagraphs(sec.body, maxChars) {
				chunks = append(chunks, Chunk{Text: piece, Ordinal: len(chunks), Section: sec.header})
			}
		}
		return chunks
	}

	for _, piece := range accumulateParagraphs(text, maxChars) {
		chunks = append(chunks, Chunk{Text: piece, Ordinal: len(chunks)})
	}
	return chunks
}

type section struct {
	header string
	body   string
}

// splitSections cuts text at recognized header lines. The leading run of
// text before the first header, if any, becomes an unlabeled section.
func splitSections(text string) []section {
	matches := sectionHeaderRE.FindAllStringIndex(text, -1)
	if len(matches) < 2 {
		return nil
	}

	var sections []section
	if lead := strings.TrimSpace(text[:matches[0][0]]); lead != "" {
		sections = append(sections, section{body: text[:matches[0][0]]})
	}
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		header := strings.TrimSpace(text[m[0]:m[1]])
		sections = append(sections, section{header: header, body: text[m[0]:end]})
	}
	return sections
}

// accumulateParagraphs packs blank-line-delimited paragraphs into pieces of
// at most maxChars, starting a new piece when the next paragraph would
// overflow. An oversized single paragraph is emitted whole.
func accumulateParagraphs(text string, maxChars int) []string {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var (
		pieces []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			pieces = append(pieces, cur.String())
			cur.Reset()
		}
	}

	for _, para := range paragraphs {
		add := len(para)
		if cur.Len() > 0 {
			add += 2 // separator
		}
		if cur.Len() > 0 && cur.Len()+add > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
		if cur.Len() >= maxChars {
			flush()
		}
	}
	flush()
	return pieces
}

var paragraphSplitRE = regexp.MustCompile(`\n\s*\n`)

func splitParagraphs(text string) []string {
	var out []string
	for _, para := range paragraphSplitRE.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para != "" {
			out = append(out, para)
		}
	}
	return out
}
