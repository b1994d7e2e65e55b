package semantic

import (
	"context"
	"fmt"
	"sort"

	"github.com/WessleyAI/moviesearch/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
)

// EnsureSchema creates the collection when absent and verifies it otherwise.
// An existing collection whose vector size, distance or indexed property
// types differ from s yields a *domain.SchemaError; nothing is dropped or
// recreated. Missing payload indexes are added.
func (v *VectorStore) EnsureSchema(ctx context.Context, s domain.Schema) error {
	exists, err := v.exists(ctx)
	if err != nil {
		return err
	}

	var current map[string]*pb.PayloadSchemaInfo
	if exists {
		info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
		if err != nil {
			return fmt.Errorf("semantic: get collection %s: %w", v.collection, classify(err))
		}
		if mismatches := compareSchema(info.GetResult(), s); len(mismatches) > 0 {
			return &domain.SchemaError{Collection: v.collection, Mismatches: mismatches}
		}
		current = info.GetResult().GetPayloadSchema()
	} else {
		_, err = v.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: v.collection,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(s.Dimensions),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("semantic: create collection %s: %w", v.collection, classify(err))
		}
	}

	wait := true
	for _, p := range s.Properties {
		if _, ok := current[p.Name]; ok {
			continue
		}
		ft := fieldType(p.Type)
		_, err := v.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: v.collection,
			Wait:           &wait,
			FieldName:      p.Name,
			FieldType:      &ft,
		})
		if err != nil {
			return fmt.Errorf("semantic: index %s.%s: %w", v.collection, p.Name, classify(err))
		}
	}

	v.setDims(s.Dimensions)
	return nil
}

func (v *VectorStore) exists(ctx context.Context) (bool, error) {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("semantic: list collections: %w", classify(err))
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return true, nil
		}
	}
	return false, nil
}

// compareSchema lists every difference between an existing collection and
// the declared schema. Undeclared extra indexes are tolerated.
func compareSchema(info *pb.CollectionInfo, s domain.Schema) []string {
	var out []string
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		out = append(out, "collection has no single unnamed vector")
	} else {
		if got := params.GetSize(); got != uint64(s.Dimensions) {
			out = append(out, fmt.Sprintf("vector size %d, want %d", got, s.Dimensions))
		}
		if got := params.GetDistance(); got != pb.Distance_Cosine {
			out = append(out, fmt.Sprintf("distance %s, want %s", got, pb.Distance_Cosine))
		}
	}

	existing := info.GetPayloadSchema()
	names := make([]string, 0, len(s.Properties))
	want := make(map[string]pb.PayloadSchemaType, len(s.Properties))
	for _, p := range s.Properties {
		names = append(names, p.Name)
		want[p.Name] = payloadType(p.Type)
	}
	sort.Strings(names)
	for _, name := range names {
		info, ok := existing[name]
		if !ok {
			continue
		}
		if got := info.GetDataType(); got != want[name] {
			out = append(out, fmt.Sprintf("property %s indexed as %s, want %s", name, got, want[name]))
		}
	}
	return out
}

func fieldType(t domain.PropertyType) pb.FieldType {
	switch t {
	case domain.PropText:
		return pb.FieldType_FieldTypeText
	case domain.PropInt:
		return pb.FieldType_FieldTypeInteger
	case domain.PropFloat:
		return pb.FieldType_FieldTypeFloat
	default:
		return pb.FieldType_FieldTypeKeyword
	}
}

func payloadType(t domain.PropertyType) pb.PayloadSchemaType {
	switch t {
	case domain.PropText:
		return pb.PayloadSchemaType_Text
	case domain.PropInt:
		return pb.PayloadSchemaType_Integer
	case domain.PropFloat:
		return pb.PayloadSchemaType_Float
	default:
		return pb.PayloadSchemaType_Keyword
	}
}
