// Package vectorstore adapts a qdrant collection to the two operations the
// body needs: ingesting a tier-2 episode's embedding, and the rag_search
// tool's similarity query.
package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/indoria/guppi/internal/obslog"
)

// Hit is one similarity-search result.
type Hit struct {
	EpisodeID string
	Score     float32
	Metadata  map[string]any
}

// Store wraps a single qdrant collection.
type Store struct {
	client     *qdrant.Client
	collection string
}

// Open dials qdrant at addr (host:port, gRPC) and targets collection.
func Open(addr, collection string) (*Store, error) {
	host, port := splitHostPort(addr)
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return &Store{client: client, collection: collection}, nil
}

func splitHostPort(addr string) (string, int) {
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return addr, 6334
	}
	port := 6334
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

// ensureCollection lazily creates the collection sized to the first vector
// it sees. Races with a concurrent creator are tolerated.
func (s *Store) ensureCollection(ctx context.Context, vectorSize uint64) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// UpsertEpisode stores an embedding keyed by episodeID; the scheduler passes
// the task_id of the embedding reply (the "vec-" id spawn_scribe minted).
func (s *Store) UpsertEpisode(ctx context.Context, episodeID string, vector []float32, metadata map[string]any) error {
	if err := s.ensureCollection(ctx, uint64(len(vector))); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(metadata))
	for k, v := range metadata {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return fmt.Errorf("upsert episode: metadata field %q: %w", k, err)
		}
		payload[k] = val
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(episodeID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert episode %s: %w", episodeID, err)
	}
	return nil
}

// Search runs a similarity query and returns the topK nearest episodes.
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int) ([]Hit, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("search: check collection: %w", err)
	}
	if !exists {
		obslog.For("vectorstore").Debug().Str("collection", s.collection).Msg("search against nonexistent collection, no episodes ingested yet")
		return nil, nil
	}

	searchResult, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         queryVector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]Hit, 0, len(searchResult.Result))
	for _, p := range searchResult.Result {
		hit := Hit{Score: p.Score, Metadata: make(map[string]any)}
		if id := p.Id; id != nil && id.PointIdOptions != nil {
			switch idType := id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				hit.EpisodeID = idType.Uuid
			case *qdrant.PointId_Num:
				hit.EpisodeID = fmt.Sprintf("%d", idType.Num)
			}
		}
		for k, v := range p.Payload {
			hit.Metadata[k] = qdrantValueToGo(v)
		}
		out = append(out, hit)
	}
	return out, nil
}

func qdrantValueToGo(v *qdrant.Value) any {
	switch k := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	default:
		return nil
	}
}
