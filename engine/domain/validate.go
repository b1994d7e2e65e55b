package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxQueryLength bounds the query text sent to the embedder.
const MaxQueryLength = 1000

// MaxLimit is the largest number of hits a single search may request.
const MaxLimit = 50

// ValidateQuery checks a free-text query. Only blank queries and absurdly long
// ones are rejected; anything else is a legitimate search.
func ValidateQuery(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NewValidationError("query", text, ErrEmptyQuery)
	}
	if utf8.RuneCountInString(trimmed) > MaxQueryLength {
		return NewValidationError("query", trimmed[:32]+"...", ErrQueryTooLong)
	}
	return nil
}

// ValidateLimit checks a requested result count.
func ValidateLimit(limit int) error {
	if limit <= 0 || limit > MaxLimit {
		return NewValidationError("limit", fmt.Sprintf("%d", limit), ErrInvalidLimit)
	}
	return nil
}

// ValidateMovie checks a source document before it is embedded.
func ValidateMovie(m Movie) error {
	if m.ID == "" {
		return NewValidationError("id", m.ID, ErrInvalidMovie)
	}
	if strings.TrimSpace(m.Title) == "" {
		return NewValidationError("title", m.ID, ErrInvalidMovie)
	}
	return nil
}
