package semantic

import (
	"context"
	"errors"
	"fmt"

	"github.com/WessleyAI/moviesearch/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReleasedLayout is the stored form of a release date.
const ReleasedLayout = "2006-01-02"

// Upsert writes movies in one request. Points are keyed by PointID, so
// rewriting a movie replaces it. Failures are *domain.WriteError.
func (v *VectorStore) Upsert(ctx context.Context, movies []domain.IndexedMovie) error {
	if len(movies) == 0 {
		return nil
	}

	ids := make([]string, len(movies))
	points := make([]*pb.PointStruct, len(movies))
	for i, m := range movies {
		ids[i] = m.ID
		if err := v.checkVector(m.Vector); err != nil {
			return &domain.WriteError{IDs: []string{m.ID}, Err: err}
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(m.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: m.Vector},
				},
			},
			Payload: moviePayload(m.Movie),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return &domain.WriteError{IDs: ids, Err: classify(err)}
	}
	return nil
}

// SearchNear returns up to limit movies nearest to vec, closest first. Only
// the named payload fields are fetched; nil means domain.DefaultFields.
// Failures are *domain.QueryError holding each server message separately.
func (v *VectorStore) SearchNear(ctx context.Context, vec []float32, limit int, fields []string) ([]domain.Hit, error) {
	if err := v.checkVector(vec); err != nil {
		return nil, &domain.QueryError{Collection: v.collection, Errors: []error{err}}
	}
	if len(fields) == 0 {
		fields = domain.DefaultFields
	}
	include := make([]string, 0, len(fields)+1)
	include = append(include, fields...)
	include = append(include, domain.FieldSourceID)

	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: include},
			},
		},
	})
	if err != nil {
		return nil, &domain.QueryError{Collection: v.collection, Errors: queryErrors(err)}
	}

	hits := make([]domain.Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = hitFromPoint(r)
	}
	return hits, nil
}

func moviePayload(m domain.Movie) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		domain.FieldSourceID: stringValue(m.ID),
		domain.FieldTitle:    stringValue(m.Title),
		domain.FieldPlot:     stringValue(m.Plot),
	}
	genres := make([]*pb.Value, len(m.Genres))
	for i, g := range m.Genres {
		genres[i] = stringValue(g)
	}
	payload[domain.FieldGenres] = &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: genres}}}
	if m.Year > 0 {
		payload[domain.FieldYear] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.Year)}}
	}
	if m.Released != nil {
		payload[domain.FieldReleased] = stringValue(m.Released.UTC().Format(ReleasedLayout))
	}
	if m.Rating != nil {
		payload[domain.FieldRating] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: *m.Rating}}
	}
	return payload
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func hitFromPoint(r *pb.ScoredPoint) domain.Hit {
	p := r.GetPayload()
	h := domain.Hit{
		ID:       p[domain.FieldSourceID].GetStringValue(),
		Title:    p[domain.FieldTitle].GetStringValue(),
		Plot:     p[domain.FieldPlot].GetStringValue(),
		Released: p[domain.FieldReleased].GetStringValue(),
		Score:    r.GetScore(),
		Distance: 1 - r.GetScore(),
	}
	if h.ID == "" {
		h.ID = r.GetId().GetUuid()
	}
	for _, g := range p[domain.FieldGenres].GetListValue().GetValues() {
		if s := g.GetStringValue(); s != "" {
			h.Genres = append(h.Genres, s)
		}
	}
	if y, ok := p[domain.FieldYear]; ok {
		switch k := y.GetKind().(type) {
		case *pb.Value_IntegerValue:
			h.Year = int(k.IntegerValue)
		case *pb.Value_DoubleValue:
			h.Year = int(k.DoubleValue)
		}
	}
	if rv, ok := p[domain.FieldRating]; ok {
		switch k := rv.GetKind().(type) {
		case *pb.Value_DoubleValue:
			f := k.DoubleValue
			h.Rating = &f
		case *pb.Value_IntegerValue:
			f := float64(k.IntegerValue)
			h.Rating = &f
		}
	}
	return h
}

// classify tags connection-level gRPC failures with domain.ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if IsConnectionCode(st.Code()) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return err
}

// queryErrors splits a gRPC failure into the status message plus one entry
// per attached detail.
func queryErrors(err error) []error {
	st, ok := status.FromError(err)
	if !ok {
		return []error{err}
	}
	out := []error{errors.New(st.Message())}
	if IsConnectionCode(st.Code()) {
		out[0] = fmt.Errorf("%w: %s", domain.ErrUnavailable, st.Message())
	}
	for _, d := range st.Details() {
		out = append(out, fmt.Errorf("%v", d))
	}
	return out
}

// IsConnectionCode reports whether code means the server could not be used
// at all rather than that one request was rejected.
func IsConnectionCode(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}
