package vector

import (
	"context"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Pinecone stores vectors in a managed Pinecone index. The index must
// exist already; tenancy stays in point metadata so all providers
// share one filter model.
type Pinecone struct {
	client    *pinecone.Client
	indexName string

	mu   sync.Mutex
	host string
}

// NewPinecone connects to Pinecone. The collection name doubles as
// the index name; IndexHost skips the describe-index lookup when set.
func NewPinecone(cfg *config.VectorConfig) (*Pinecone, error) {
	if cfg.APIKey == "" {
		return nil, fault.New(fault.KindAuth, "api key is required for pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return nil, fault.Wrap(fault.KindRetrieval, "vector", err)
	}

	return &Pinecone{
		client:    client,
		indexName: cfg.Collection,
		host:      cfg.IndexHost,
	}, nil
}

// Upsert writes points, replacing any with the same id.
func (s *Pinecone) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	vectors := make([]*pinecone.Vector, 0, len(points))
	for _, p := range points {
		meta, err := structpb.NewStruct(p.Payload)
		if err != nil {
			return fault.Wrapf(fault.KindRetrieval, "vector", err, "payload for point %q is not representable", p.ID)
		}
		vectors = append(vectors, &pinecone.Vector{
			Id:       p.ID,
			Values:   p.Vector,
			Metadata: meta,
		})
	}

	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return fault.Wrap(fault.KindRetrieval, "vector", err)
	}
	return nil
}

// Search returns up to topK matches ordered by descending score.
func (s *Pinecone) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	metaFilter, err := pineconeFilter(filter)
	if err != nil {
		return nil, err
	}

	res, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metaFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindRetrieval, "vector", err)
	}

	matches := make([]Match, 0, len(res.Matches))
	for _, m := range res.Matches {
		if m.Vector == nil {
			continue
		}
		payload := map[string]any{}
		if m.Vector.Metadata != nil {
			payload = m.Vector.Metadata.AsMap()
		}
		matches = append(matches, Match{
			ID:      matchID(m.Vector.Id, payload),
			Score:   m.Score,
			Payload: payload,
		})
	}
	return matches, nil
}

// DeleteByFilter removes every point the filter selects.
func (s *Pinecone) DeleteByFilter(ctx context.Context, filter Filter) error {
	metaFilter, err := pineconeFilter(filter)
	if err != nil {
		return err
	}
	if metaFilter == nil {
		return fault.New(fault.KindValidation, "delete filter selects the entire index")
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsByFilter(ctx, metaFilter); err != nil {
		return fault.Wrap(fault.KindRetrieval, "vector", err)
	}
	return nil
}

// Close is a no-op; connections are per call.
func (s *Pinecone) Close() error {
	return nil
}

// connect opens an index connection, resolving the index host once.
func (s *Pinecone) connect(ctx context.Context) (*pinecone.IndexConnection, error) {
	s.mu.Lock()
	if s.host == "" {
		index, err := s.client.DescribeIndex(ctx, s.indexName)
		if err != nil {
			s.mu.Unlock()
			return nil, fault.Wrapf(fault.KindRetrieval, "vector", err, "failed to describe index %q", s.indexName)
		}
		s.host = index.Host
	}
	host := s.host
	s.mu.Unlock()

	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: host})
	if err != nil {
		return nil, fault.Wrap(fault.KindRetrieval, "vector", err)
	}
	return conn, nil
}

// pineconeFilter translates the shared filter into a metadata filter
// expression. A zero filter returns nil.
func pineconeFilter(f Filter) (*pinecone.MetadataFilter, error) {
	expr := map[string]any{}
	if f.Namespace != "" {
		expr[PayloadNamespace] = map[string]any{"$eq": f.Namespace}
	}
	if len(f.FileIDs) > 0 {
		ids := make([]any, len(f.FileIDs))
		for i, id := range f.FileIDs {
			ids[i] = id
		}
		expr[PayloadFileID] = map[string]any{"$in": ids}
	}
	if len(expr) == 0 {
		return nil, nil
	}

	metaFilter, err := structpb.NewStruct(expr)
	if err != nil {
		return nil, fault.Wrap(fault.KindRetrieval, "vector", err)
	}
	return metaFilter, nil
}

var _ Store = (*Pinecone)(nil)
