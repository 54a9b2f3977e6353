package pipeline

import (
	"regexp"
	"strings"
)

// TokenCounter estimates how many model tokens a string will produce.
// The default estimator mirrors the ingestion contract the vector store
// was sized against; an exact BPE counter can be injected instead.
type TokenCounter interface {
	Count(text string) int
}

// EstimatorCounter approximates tokens as one per four characters
type EstimatorCounter struct{}

// Count implements TokenCounter
func (EstimatorCounter) Count(text string) int {
	n := len(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

var sentenceEndPattern = regexp.MustCompile(`[.!?]+(?:\s+|$)`)

// abbreviations that end with a period but do not end a sentence
var commonAbbreviations = map[string]bool{
	"mr.": true, "mrs.": true, "ms.": true, "dr.": true, "prof.": true,
	"sr.": true, "jr.": true, "st.": true, "vs.": true, "etc.": true,
	"e.g.": true, "i.e.": true, "inc.": true, "ltd.": true, "co.": true,
	"approx.": true, "dept.": true, "est.": true, "fig.": true, "no.": true,
}

// SplitSentences breaks text on terminal punctuation, keeping common
// abbreviations and initialisms attached to their sentence.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEndPattern.FindAllStringIndex(text, -1) {
		candidate := text[start:loc[1]]
		if endsWithAbbreviation(candidate) {
			continue
		}
		if s := strings.TrimSpace(candidate); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func endsWithAbbreviation(s string) bool {
	trimmed := strings.TrimRight(s, " \t\n")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(fields[len(fields)-1])
	if commonAbbreviations[last] {
		return true
	}
	// Single-letter initials like "J." in "J. Smith".
	if len(last) == 2 && last[1] == '.' && last[0] >= 'a' && last[0] <= 'z' {
		return true
	}
	return false
}

// SplitParagraphs splits on blank lines, dropping empty entries
func SplitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
