package nl2sql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nlpdb/nlpdb/internal/observability"
	"github.com/nlpdb/nlpdb/internal/sqltext"
)

var ErrNoValidSQL = errors.New("no valid SQL found in completion")

var allowedVerbs = map[string]struct{}{
	"select":   {},
	"insert":   {},
	"create":   {},
	"update":   {},
	"delete":   {},
	"show":     {},
	"use":      {},
	"drop":     {},
	"describe": {},
	"alter":    {},
}

const answerMarker = "output:"

// Prose some models put in front of the statement. Text after the last
// occurrence is kept, which can misfire when the phrase appears inside a
// literal or identifier.
var leadInPhrases = []string{"to describe", "you can use", "as follows"}

var answerPrefixes = []string{"output:", "query:", "sql:", "result:"}

// Clean turns a raw completion into one whitespace-normalised SQL payload.
// SQL case is preserved. Clean is idempotent on its own output.
func Clean(raw string) (string, error) {
	text := stripMarkdownSQL(raw)
	text = stripAnswerPrefixes(text)
	text = afterLast(text, answerMarker)
	for _, phrase := range leadInPhrases {
		text = afterLast(text, phrase)
	}
	text = sqltext.StripComments(text)
	text = strings.Join(strings.Fields(text), " ")
	text = stripAnswerPrefixes(text)

	verb := sqltext.FirstWord(text)
	if _, ok := allowedVerbs[verb]; !ok {
		observability.IncrementSanitizerRejection()
		if text == "" {
			return "", fmt.Errorf("%w: completion was empty after cleaning", ErrNoValidSQL)
		}
		return "", fmt.Errorf("%w: leading word %q is not a supported statement", ErrNoValidSQL, verb)
	}
	return text, nil
}

// afterLast keeps what follows the last case-insensitive occurrence of marker.
func afterLast(text, marker string) string {
	idx := strings.LastIndex(strings.ToLower(text), marker)
	if idx < 0 {
		return text
	}
	rest := strings.TrimSpace(text[idx+len(marker):])
	return strings.TrimSpace(strings.TrimPrefix(rest, ":"))
}

func stripAnswerPrefixes(text string) string {
	text = strings.TrimSpace(text)
	for {
		stripped := false
		for _, prefix := range answerPrefixes {
			if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
				text = strings.TrimSpace(text[len(prefix):])
				stripped = true
			}
		}
		if !stripped {
			return text
		}
	}
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if start := strings.Index(trimmed, "```"); start >= 0 {
		fenced := trimmed[start+3:]
		if newline := strings.IndexByte(fenced, '\n'); newline >= 0 && !strings.ContainsAny(strings.TrimSpace(fenced[:newline]), " ;") {
			fenced = fenced[newline+1:]
		}
		if end := strings.Index(fenced, "```"); end >= 0 {
			fenced = fenced[:end]
		}
		return strings.TrimSpace(fenced)
	}
	return trimmed
}
