package vector

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/magpielabs/magpie/pkg/config"
	"github.com/magpielabs/magpie/pkg/fault"
)

// Qdrant stores vectors in a Qdrant server over gRPC.
//
// Qdrant accepts only integers or UUIDs as native point ids, so the
// composite chunk id maps to a deterministic v5 UUID. Re-upserting a
// chunk therefore still replaces the earlier point, and the original
// id rides along in the payload.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	ready      atomic.Bool
}

// NewQdrant connects to a Qdrant server.
func NewQdrant(cfg *config.VectorConfig) (*Qdrant, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fault.Wrapf(fault.KindRetrieval, "vector", err, "failed to connect to qdrant at %s:%d", host, port)
	}

	return &Qdrant{client: client, collection: cfg.Collection}, nil
}

// Upsert writes points, replacing any with the same id.
func (s *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(points[0].Vector)); err != nil {
		return err
	}

	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrantPayload(p.Payload)
		if err != nil {
			return err
		}
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointUUID(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qpoints,
	})
	if err != nil {
		return fault.Wrap(fault.KindRetrieval, "vector", err)
	}
	return nil
}

// Search returns up to topK matches ordered by descending score.
func (s *Qdrant) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := checkTopK(topK); err != nil {
		return nil, err
	}

	req := &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         qdrantFilter(filter),
	}

	res, err := s.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fault.Wrap(fault.KindRetrieval, "vector", err)
	}

	matches := make([]Match, 0, len(res.Result))
	for _, point := range res.Result {
		payload := qdrantValues(point.Payload)
		matches = append(matches, Match{
			ID:      matchID(nativeQdrantID(point.Id), payload),
			Score:   point.Score,
			Payload: payload,
		})
	}
	return matches, nil
}

// DeleteByFilter removes every point the filter selects.
func (s *Qdrant) DeleteByFilter(ctx context.Context, filter Filter) error {
	qf := qdrantFilter(filter)
	if qf == nil {
		return fault.New(fault.KindValidation, "delete filter selects the entire collection")
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
		},
	})
	if err != nil {
		return fault.Wrap(fault.KindRetrieval, "vector", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *Qdrant) Close() error {
	return s.client.Close()
}

// ensureCollection creates the collection on first write, sized from
// the first vector seen.
func (s *Qdrant) ensureCollection(ctx context.Context, dimension int) error {
	if s.ready.Load() {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fault.Wrap(fault.KindRetrieval, "vector", err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fault.Wrapf(fault.KindRetrieval, "vector", err, "failed to create collection %q", s.collection)
		}
	}

	s.ready.Store(true)
	return nil
}

// pointUUID derives the deterministic native id for a composite
// chunk id.
func pointUUID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func nativeQdrantID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	default:
		return ""
	}
}

// qdrantFilter translates the shared filter into must conditions.
// A zero filter returns nil.
func qdrantFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.Namespace != "" {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: PayloadNamespace,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: f.Namespace},
					},
				},
			},
		})
	}
	if len(f.FileIDs) > 0 {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: PayloadFileID,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: f.FileIDs},
						},
					},
				},
			},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// qdrantPayload converts a payload map to qdrant values.
func qdrantPayload(payload map[string]any) (map[string]*qdrant.Value, error) {
	out := make(map[string]*qdrant.Value, len(payload))
	for k, v := range payload {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return nil, fault.Wrapf(fault.KindRetrieval, "vector", err, "payload key %q is not representable", k)
		}
		out[k] = val
	}
	return out, nil
}

// qdrantValues converts a qdrant payload back to plain Go values.
func qdrantValues(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, value := range payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[k] = v.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = v.BoolValue
		case *qdrant.Value_ListValue:
			if v.ListValue == nil {
				out[k] = nil
				continue
			}
			list := make([]any, len(v.ListValue.Values))
			for i, item := range v.ListValue.Values {
				switch iv := item.Kind.(type) {
				case *qdrant.Value_StringValue:
					list[i] = iv.StringValue
				case *qdrant.Value_IntegerValue:
					list[i] = iv.IntegerValue
				case *qdrant.Value_DoubleValue:
					list[i] = iv.DoubleValue
				case *qdrant.Value_BoolValue:
					list[i] = iv.BoolValue
				default:
					list[i] = item
				}
			}
			out[k] = list
		default:
			out[k] = value
		}
	}
	return out
}

var _ Store = (*Qdrant)(nil)
