// Package semantic owns every vector-store operation: schema setup, movie
// upserts, nearest-neighbour search and health checks against Qdrant.
package semantic

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/WessleyAI/moviesearch/engine/domain"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// DefaultPort is Qdrant's gRPC port.
const DefaultPort = "6334"

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

type healthAPI interface {
	HealthCheck(ctx context.Context, in *pb.HealthCheckRequest, opts ...grpc.CallOption) (*pb.HealthCheckReply, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	health      healthAPI
	collection  string

	mu   sync.RWMutex
	dims int
}

type options struct {
	apiKey string
	tls    bool
}

// Option configures New.
type Option func(*options)

// WithAPIKey sends key in the api-key header of every call.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// New creates a VectorStore connected to Qdrant. addr is either host[:port]
// or a URL; an https:// scheme implies TLS, and a missing port defaults to
// the gRPC port.
func New(addr, collection string, opts ...Option) (*VectorStore, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	target, secure := ParseAddr(addr)
	if secure {
		o.tls = true
	}

	dialOpts := []grpc.DialOption{}
	if o.tls {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if o.apiKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(o.apiKey)))
	}

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", target, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		health:      pb.NewQdrantClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a VectorStore on top of already constructed clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, health healthAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, health: health, collection: collection}
}

// ParseAddr turns a Qdrant URL into a gRPC target and reports whether the
// scheme asked for TLS.
func ParseAddr(addr string) (target string, secure bool) {
	addr = strings.TrimSpace(addr)
	switch {
	case strings.HasPrefix(addr, "https://"):
		secure = true
		addr = strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = strings.TrimPrefix(addr, "http://")
	}
	addr = strings.TrimRight(addr, "/")
	if i := strings.Index(addr, "/"); i >= 0 {
		addr = addr[:i]
	}
	if !strings.Contains(addr, ":") {
		addr += ":" + DefaultPort
	}
	return addr, secure
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Collection returns the collection name.
func (v *VectorStore) Collection() string { return v.collection }

// Dimensions returns the vector size learned from EnsureSchema, or 0.
func (v *VectorStore) Dimensions() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dims
}

func (v *VectorStore) setDims(n int) {
	v.mu.Lock()
	v.dims = n
	v.mu.Unlock()
}

// checkVector rejects vectors whose length differs from the collection's.
func (v *VectorStore) checkVector(vec []float32) error {
	if d := v.Dimensions(); d > 0 && len(vec) != d {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(vec), d)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, classify(err))
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (v *VectorStore) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count %s: %w", v.collection, classify(err))
	}
	return resp.GetResult().GetCount(), nil
}

// ServerInfo is what a health check reports about the server.
type ServerInfo struct {
	Title       string
	Version     string
	Commit      string
	Collections []string
}

// Health checks the server and lists its collections.
func (v *VectorStore) Health(ctx context.Context) (ServerInfo, error) {
	reply, err := v.health.HealthCheck(ctx, &pb.HealthCheckRequest{})
	if err != nil {
		return ServerInfo{}, fmt.Errorf("semantic: health check: %w", classify(err))
	}
	info := ServerInfo{
		Title:   reply.GetTitle(),
		Version: reply.GetVersion(),
		Commit:  reply.GetCommit(),
	}
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return info, fmt.Errorf("semantic: list collections: %w", classify(err))
	}
	for _, c := range list.GetCollections() {
		info.Collections = append(info.Collections, c.GetName())
	}
	return info, nil
}

// PointID maps a source movie ID to its stable point ID, so that writing the
// same movie twice replaces the earlier point.
func PointID(movieID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("movie:"+movieID)).String()
}
