// Package docstore reads source movie documents from MongoDB.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/moviesearch/engine/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Reader streams movies out of one MongoDB collection.
type Reader struct {
	client     *mongo.Client
	collection *mongo.Collection
	batchSize  int32
}

// Connect opens a client for uri and pings the primary.
func Connect(ctx context.Context, uri, database, collection string) (*Reader, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("docstore: connect: %w: %w", domain.ErrUnavailable, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("docstore: ping: %w: %w", domain.ErrUnavailable, err)
	}
	return &Reader{
		client:     client,
		collection: client.Database(database).Collection(collection),
		batchSize:  50,
	}, nil
}

// SetBatchSize sets how many documents the server returns per round trip.
func (r *Reader) SetBatchSize(n int) {
	if n > 0 && n <= math.MaxInt32 {
		r.batchSize = int32(n)
	}
}

// Close disconnects the client.
func (r *Reader) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// Movies yields at most limit movies ordered by _id; limit 0 means all.
// Every call starts a fresh cursor. A document that cannot be decoded is
// yielded as an error and iteration continues; a cursor failure is yielded
// once and ends iteration.
func (r *Reader) Movies(ctx context.Context, limit int) iter.Seq2[domain.Movie, error] {
	return func(yield func(domain.Movie, error) bool) {
		opts := options.Find().
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetBatchSize(r.batchSize)
		if limit > 0 {
			opts.SetLimit(int64(limit))
		}

		cur, err := r.collection.Find(ctx, bson.D{}, opts)
		if err != nil {
			yield(domain.Movie{}, &SourceError{Err: err})
			return
		}
		defer cur.Close(context.Background())

		for cur.Next(ctx) {
			m, err := DecodeMovie(cur.Current)
			if err != nil {
				if !yield(domain.Movie{}, err) {
					return
				}
				continue
			}
			if !yield(m, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(domain.Movie{}, &SourceError{Err: err})
		}
	}
}

// SourceError reports that the document store itself failed, as opposed to
// one document being malformed.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string { return "docstore: read: " + e.Err.Error() }

func (e *SourceError) Unwrap() error { return e.Err }

// DecodeError reports a document that could not be turned into a Movie.
type DecodeError struct {
	ID  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("docstore: decode %s: %v", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeMovie maps a raw movie document onto domain.Movie. Field types vary
// across imports, so year accepts any numeric or string form, rating is read
// from either rating or imdb.rating, and released accepts a BSON date or an
// ISO string.
func DecodeMovie(raw bson.Raw) (domain.Movie, error) {
	id, err := idString(raw.Lookup("_id"))
	if err != nil {
		return domain.Movie{}, &DecodeError{ID: "?", Err: err}
	}

	m := domain.Movie{
		ID:    id,
		Title: strings.TrimSpace(stringField(raw, "title")),
		Plot:  strings.TrimSpace(stringField(raw, "plot")),
	}
	if m.Plot == "" {
		m.Plot = strings.TrimSpace(stringField(raw, "fullplot"))
	}

	if v, err := raw.LookupErr("genres"); err == nil {
		if arr, ok := v.ArrayOK(); ok {
			values, _ := arr.Values()
			for _, g := range values {
				if s, ok := g.StringValueOK(); ok && strings.TrimSpace(s) != "" {
					m.Genres = append(m.Genres, strings.TrimSpace(s))
				}
			}
		}
	}

	if v, err := raw.LookupErr("year"); err == nil {
		m.Year = yearValue(v)
	}
	if v, err := raw.LookupErr("released"); err == nil {
		m.Released = timeValue(v)
	}
	if v, err := raw.LookupErr("rating"); err == nil {
		m.Rating = floatValue(v)
	} else if v, err := raw.LookupErr("imdb", "rating"); err == nil {
		m.Rating = floatValue(v)
	}

	if err := domain.ValidateMovie(m); err != nil {
		return domain.Movie{}, &DecodeError{ID: id, Err: err}
	}
	return m, nil
}

func idString(v bson.RawValue) (string, error) {
	switch v.Type {
	case bson.TypeObjectID:
		return v.ObjectID().Hex(), nil
	case bson.TypeString:
		return v.StringValue(), nil
	case bson.TypeInt32:
		return strconv.FormatInt(int64(v.Int32()), 10), nil
	case bson.TypeInt64:
		return strconv.FormatInt(v.Int64(), 10), nil
	case 0:
		return "", errors.New("missing _id")
	default:
		return "", fmt.Errorf("unsupported _id type %s", v.Type)
	}
}

func stringField(raw bson.Raw, key string) string {
	v, err := raw.LookupErr(key)
	if err != nil {
		return ""
	}
	s, _ := v.StringValueOK()
	return s
}

func yearValue(v bson.RawValue) int {
	switch v.Type {
	case bson.TypeInt32:
		return int(v.Int32())
	case bson.TypeInt64:
		return int(v.Int64())
	case bson.TypeDouble:
		return int(v.Double())
	case bson.TypeString:
		// Some documents carry a suffix after the year, e.g. "2012è".
		s := strings.TrimSpace(v.StringValue())
		if len(s) >= 4 {
			s = s[:4]
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

func floatValue(v bson.RawValue) *float64 {
	var f float64
	switch v.Type {
	case bson.TypeDouble:
		f = v.Double()
	case bson.TypeInt32:
		f = float64(v.Int32())
	case bson.TypeInt64:
		f = float64(v.Int64())
	case bson.TypeDecimal128:
		parsed, err := strconv.ParseFloat(v.Decimal128().String(), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func timeValue(v bson.RawValue) *time.Time {
	switch v.Type {
	case bson.TypeDateTime:
		t := v.Time().UTC()
		return &t
	case bson.TypeTimestamp:
		sec, _ := v.Timestamp()
		t := time.Unix(int64(sec), 0).UTC()
		return &t
	case bson.TypeString:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v.StringValue()); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}
