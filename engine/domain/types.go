// Package domain defines the movie types shared by the import and search
// flows, the typed errors both flows report, and the validation applied at
// their entry points.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Movie is a source document as read from the document store.
type Movie struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Plot     string     `json:"plot,omitempty"`
	Genres   []string   `json:"genres,omitempty"`
	Year     int        `json:"year,omitempty"`
	Released *time.Time `json:"released,omitempty"`
	Rating   *float64   `json:"rating,omitempty"`
}

// IndexedMovie is the vector-store copy of a Movie together with the vector
// computed from EmbeddingText at import time.
type IndexedMovie struct {
	Movie
	Vector []float32 `json:"-"`
}

// EmbeddingText returns the canonical text embedded for a movie: the title and
// the plot joined by ": ". Changing it requires a full re-import, since stored
// vectors would no longer match the convention.
func EmbeddingText(m Movie) string {
	return fmt.Sprintf("%s: %s", m.Title, m.Plot)
}

// Hit is one normalized search match.
type Hit struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Plot     string   `json:"plot"`
	Genres   []string `json:"genres"`
	Year     int      `json:"year"`
	Released string   `json:"released,omitempty"`
	Rating   *float64 `json:"rating,omitempty"`
	Score    float32  `json:"score"`
	Distance float32  `json:"distance"`
	Related  []string `json:"related,omitempty"`
}

// YearLabel renders the release year, or the unknown-year placeholder.
func (h Hit) YearLabel() string {
	if h.Year <= 0 {
		return PlaceholderYear
	}
	return fmt.Sprintf("%d", h.Year)
}

// GenreLabel renders the genre list, or the unknown-genre placeholder.
func (h Hit) GenreLabel() string {
	if len(h.Genres) == 0 {
		return PlaceholderGenre
	}
	return strings.Join(h.Genres, ", ")
}

// SearchResult is the ranked list of hits for one query, in the order the
// vector store returned them (increasing distance).
type SearchResult struct {
	Query string `json:"query"`
	Hits  []Hit  `json:"hits"`
}

// Len returns the number of hits.
func (r SearchResult) Len() int { return len(r.Hits) }

// Empty reports whether the query matched nothing.
func (r SearchResult) Empty() bool { return len(r.Hits) == 0 }

// Placeholders substituted for missing optional fields before presentation.
const (
	PlaceholderTitle = "Untitled"
	PlaceholderPlot  = "No overview available."
	PlaceholderYear  = "Unknown year"
	PlaceholderGenre = "Unknown genre"
)
