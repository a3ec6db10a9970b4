package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AdvisorAI/advisor-engine/engine/domain"
)

// pointsAPI is the subset of the Qdrant points client the index uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the subset of the Qdrant collections client the index uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Qdrant is the managed-service backend, speaking gRPC to a Qdrant cluster.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dims        int
	logger      *slog.Logger
}

// NewQdrant connects to Qdrant at the given gRPC address.
func NewQdrant(addr, collection string, dims int, logger *slog.Logger) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("index: dial qdrant %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
		logger:      logger,
	}, nil
}

// newQdrantWithClients wires explicit clients; used by tests.
func newQdrantWithClients(points pointsAPI, collections collectionsAPI, collection string, dims int) *Qdrant {
	return &Qdrant{
		points:      points,
		collections: collections,
		collection:  collection,
		dims:        dims,
		logger:      slog.Default(),
	}
}

// Close closes the underlying gRPC connection.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// Count returns the number of stored points, or 0 on failure.
func (q *Qdrant) Count(ctx context.Context) int64 {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		q.logger.Error("index: qdrant count failed", "collection", q.collection, "err", err)
		return 0
	}
	return int64(resp.GetResult().GetCount())
}

// IsPopulated reports whether the collection holds any points.
func (q *Qdrant) IsPopulated(ctx context.Context) bool {
	return q.Count(ctx) > 0
}

// Rebuild recreates the collection. With force, any existing points are
// discarded first; without force an existing collection is kept as is.
func (q *Qdrant) Rebuild(ctx context.Context, force bool) error {
	exists, err := q.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if !force {
			return nil
		}
		if _, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection}); err != nil {
			return fmt.Errorf("index: delete collection %s: %w", q.collection, err)
		}
		q.logger.Info("index: dropped collection for rebuild", "collection", q.collection)
	}
	return q.createCollection(ctx)
}

func (q *Qdrant) collectionExists(ctx context.Context) (bool, error) {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("index: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return true, nil
		}
	}
	return false, nil
}

func (q *Qdrant) createCollection(ctx context.Context) error {
	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("index: create collection %s: %w", q.collection, err)
	}
	return nil
}

// Add upserts records. Qdrant point ids must be UUIDs, so the record id is
// hashed into a deterministic UUID and kept verbatim in the payload; the
// same record therefore always lands on the same point (last-write-wins).
func (q *Qdrant) Add(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]*pb.Value{
			"text":      {Kind: &pb.Value_StringValue{StringValue: r.Text}},
			"record_id": {Kind: &pb.Value_StringValue{StringValue: r.ID}},
		}
		for k, val := range r.Metadata {
			payload[k] = toValue(val)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{
					Uuid: uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.ID)).String(),
				},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("index: upsert %d points: %w: %w", len(records), domain.ErrIndexUnavailable, err)
	}
	return nil
}

// Query runs k-NN search and normalises hits into ContextItems.
func (q *Qdrant) Query(ctx context.Context, vector []float32, topK int) ([]domain.ContextItem, error) {
	if topK <= 0 {
		return nil, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	items := make([]domain.ContextItem, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		item := domain.ContextItem{Metadata: make(map[string]string)}
		for k, val := range hit.GetPayload() {
			s := valueString(val)
			if k == "text" {
				item.Text = s
				continue
			}
			item.Metadata[k] = s
		}
		items = append(items, item)
	}
	return items, nil
}

func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func valueString(v *pb.Value) string {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return fmt.Sprintf("%d", kind.IntegerValue)
	case *pb.Value_DoubleValue:
		return fmt.Sprintf("%g", kind.DoubleValue)
	case *pb.Value_BoolValue:
		return fmt.Sprintf("%t", kind.BoolValue)
	default:
		return ""
	}
}
