// Package graph keeps a movie/genre graph in Neo4j alongside the vector
// index, so search results can be enriched with titles that share genres.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/WessleyAI/moviesearch/engine/domain"
	"github.com/WessleyAI/moviesearch/pkg/fn"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphStore provides graph operations over (:Movie)-[:IN_GENRE]->(:Genre).
type GraphStore struct {
	opener SessionOpener
}

// New creates a new GraphStore.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{opener: driverOpener{driver: driver}}
}

// NewWithOpener creates a GraphStore over a custom session source.
func NewWithOpener(opener SessionOpener) *GraphStore {
	return &GraphStore{opener: opener}
}

// Connect opens and verifies a driver. Empty user means no auth.
func Connect(ctx context.Context, url, user, pass string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, pass, "")
	}
	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("graph: driver %s: %w", url, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: verify %s: %w: %w", url, domain.ErrUnavailable, err)
	}
	return driver, nil
}

const constraintCypher = `CREATE CONSTRAINT movie_id IF NOT EXISTS FOR (m:Movie) REQUIRE m.id IS UNIQUE`

const genreConstraintCypher = `CREATE CONSTRAINT genre_name IF NOT EXISTS FOR (g:Genre) REQUIRE g.name IS UNIQUE`

// EnsureConstraints creates the uniqueness constraints MERGE relies on.
func (g *GraphStore) EnsureConstraints(ctx context.Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	for _, cypher := range []string{constraintCypher, genreConstraintCypher} {
		if _, err := sess.Run(ctx, cypher, nil); err != nil {
			return fmt.Errorf("graph: constraints: %w", err)
		}
	}
	return nil
}

const saveMovieCypher = `MERGE (m:Movie {id: $id})
SET m.title = $title, m.year = $year
WITH m
OPTIONAL MATCH (m)-[old:IN_GENRE]->(:Genre)
DELETE old
WITH DISTINCT m
UNWIND $genres AS name
MERGE (g:Genre {name: name})
MERGE (m)-[:IN_GENRE]->(g)`

// SaveMovie creates or updates a movie node and replaces its genre edges.
func (g *GraphStore) SaveMovie(ctx context.Context, m domain.Movie) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		res, err := tx.Run(ctx, saveMovieCypher, movieParams(m))
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
		}
		return nil, res.Err()
	})
	if err != nil {
		return fmt.Errorf("graph: save movie %s: %w", m.ID, err)
	}
	return nil
}

func movieParams(m domain.Movie) map[string]any {
	genres := fn.Unique(fn.Filter(fn.Map(m.Genres, normalizeGenre), func(s string) bool { return s != "" }))
	if genres == nil {
		genres = []string{}
	}
	return map[string]any{
		"id":     m.ID,
		"title":  m.Title,
		"year":   int64(m.Year),
		"genres": genres,
	}
}

// normalizeGenre trims and title-cases a genre name so "sci-fi" and "Sci-Fi"
// land on the same node.
func normalizeGenre(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	parts := strings.Split(strings.ToLower(s), "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

const relatedCypher = `MATCH (m:Movie {id: $id})-[:IN_GENRE]->(g:Genre)<-[:IN_GENRE]-(o:Movie)
WHERE o.id <> $id
WITH o, count(g) AS shared
ORDER BY shared DESC, o.title ASC
LIMIT $limit
RETURN o.title AS title`

// RelatedTitles returns up to limit titles sharing the most genres with the
// given movie.
func (g *GraphStore) RelatedTitles(ctx context.Context, movieID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, relatedCypher, map[string]any{"id": movieID, "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: related %s: %w", movieID, err)
	}
	var titles []string
	for result.Next(ctx) {
		if t, ok := result.Record().Get("title"); ok {
			if s, ok := t.(string); ok && s != "" {
				titles = append(titles, s)
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graph: related %s: %w", movieID, err)
	}
	return titles, nil
}

const genreCountsCypher = `MATCH (g:Genre)<-[:IN_GENRE]-(m:Movie) RETURN g.name AS genre, count(m) AS count`

// GenreCounts returns the number of movies per genre.
func (g *GraphStore) GenreCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, genreCountsCypher, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: genre counts: %w", err)
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		name, _ := rec.Get("genre")
		cnt, _ := rec.Get("count")
		if n, ok := name.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[n] = c
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graph: genre counts: %w", err)
	}
	return counts, nil
}
