// Package vector mirrors node embeddings into an external Qdrant
// collection for namespace-filtered ANN search. The index is optional:
// when no vector store is configured the retriever falls back to
// in-process search.
package vector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Point is one node embedding with the payload the retriever needs to
// map hits back to graph nodes.
type Point struct {
	NodeID string
	Label  string
	DocID  string
	Vector []float32
}

// Hit is a scored search result.
type Hit struct {
	NodeID string
	Score  float64
}

// Index is the external ANN capability.
type Index interface {
	// Ensure creates the collection if it does not exist.
	Ensure(ctx context.Context, dim int) error

	// Upsert writes points, tagging each with the namespace.
	Upsert(ctx context.Context, namespace string, points []Point) error

	// Search returns the nearest points within a namespace.
	Search(ctx context.Context, namespace string, vec []float32, limit int) ([]Hit, error)
}

// Qdrant implements Index over the Qdrant gRPC API.
type Qdrant struct {
	client     *qdrant.Client
	collection string
}

// NewQdrant connects to the vector store at rawURL
// (e.g. "http://localhost:6334") and binds to the given collection.
func NewQdrant(rawURL, collection string, apiKey string) (*Qdrant, error) {
	host, port, useTLS, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to vector store: %w", err)
	}
	if collection == "" {
		collection = "graphrag_nodes"
	}
	return &Qdrant{client: client, collection: collection}, nil
}

// ParseURL splits a vector store URL into connection parameters.
func ParseURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, false, fmt.Errorf("parsing vector store url: %w", err)
	}
	host = u.Hostname()
	if host == "" {
		return "", 0, false, fmt.Errorf("vector store url %q has no host", rawURL)
	}
	useTLS = u.Scheme == "https"
	port = 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("parsing vector store port: %w", err)
		}
	}
	return host, port, useTLS, nil
}

func (q *Qdrant) Ensure(ctx context.Context, dim int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, namespace string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qp := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qp = append(qp, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(p.NodeID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"node_id":   p.NodeID,
				"label":     p.Label,
				"namespace": namespace,
				"doc_id":    p.DocID,
			}),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qp,
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, namespace string, vec []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	res, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("namespace", namespace),
			},
		},
		Limit:       qdrant.PtrOf(uint64(limit)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying vector store: %w", err)
	}

	hits := make([]Hit, 0, len(res))
	for _, p := range res {
		nodeID := ""
		if v, ok := p.Payload["node_id"]; ok {
			nodeID = v.GetStringValue()
		}
		if nodeID == "" {
			continue
		}
		hits = append(hits, Hit{NodeID: nodeID, Score: float64(p.Score)})
	}
	return hits, nil
}

// PointID derives the deterministic UUID qdrant point id for a node.
// Graph node ids are arbitrary strings; qdrant wants numeric or UUID
// ids, so hash into the UUID space.
func PointID(nodeID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(nodeID)).String()
}
