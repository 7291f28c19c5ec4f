package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/nidhogg/finsight/internal/embedding"
	"go.uber.org/zap"
)

// DefaultCollection holds archived analyses.
const DefaultCollection = "finsight_analyses"

// archiveNamespace seeds the deterministic point ids.
var archiveNamespace = uuid.MustParse("6f1c7c1e-5a43-4b8e-9d7a-2f0b8e4d9a11")

// snippetLimit bounds the result text kept in the payload.
const snippetLimit = 2000

type pointStore interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points ...Point) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]SearchResult, error)
}

// Hit is an archived analysis matching a search.
type Hit struct {
	AnalysisID int64   `json:"analysis_id"`
	Query      string  `json:"query"`
	Snippet    string  `json:"snippet"`
	Score      float32 `json:"score"`
}

// Archive embeds analyses and stores them in a vector collection.
type Archive struct {
	points     pointStore
	embedder   embedding.Provider
	collection string
	logger     *zap.Logger
}

// NewArchive creates an archive over a Qdrant client.
func NewArchive(client *Client, embedder embedding.Provider, collection string, logger *zap.Logger) *Archive {
	return newArchive(client, embedder, collection, logger)
}

func newArchive(points pointStore, embedder embedding.Provider, collection string, logger *zap.Logger) *Archive {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Archive{points: points, embedder: embedder, collection: collection, logger: logger}
}

// Init creates the collection sized for the embedder.
func (a *Archive) Init(ctx context.Context) error {
	dim := a.embedder.Dimension()
	if dim <= 0 {
		return fmt.Errorf("archive: embedder reports no dimension")
	}
	return a.points.EnsureCollection(ctx, a.collection, uint64(dim))
}

// PointID returns the point id used for an analysis.
func PointID(analysisID int64) string {
	return uuid.NewSHA1(archiveNamespace, []byte(strconv.FormatInt(analysisID, 10))).String()
}

// Index stores one analysis. Re-indexing the same id overwrites it.
func (a *Archive) Index(ctx context.Context, id int64, query, result string) error {
	vectors, err := a.embedder.Embed(ctx, []string{query + "\n" + result})
	if err != nil {
		return fmt.Errorf("archive embed: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("archive embed: got %d vectors", len(vectors))
	}
	err = a.points.Upsert(ctx, a.collection, Point{
		ID:     PointID(id),
		Vector: vectors[0],
		Payload: map[string]any{
			"analysis_id": id,
			"query":       query,
			"snippet":     clip(result, snippetLimit),
		},
	})
	if err != nil {
		return err
	}
	a.logger.Debug("analysis archived", zap.Int64("id", id), zap.String("collection", a.collection))
	return nil
}

// Search finds archived analyses similar to text.
func (a *Archive) Search(ctx context.Context, text string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	vectors, err := a.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("archive embed: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("archive embed: got %d vectors", len(vectors))
	}
	results, err := a.points.Search(ctx, a.collection, vectors[0], uint64(limit))
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		h := Hit{Score: r.Score}
		h.AnalysisID, _ = r.Payload["analysis_id"].(int64)
		h.Query, _ = r.Payload["query"].(string)
		h.Snippet, _ = r.Payload["snippet"].(string)
		hits = append(hits, h)
	}
	return hits, nil
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
