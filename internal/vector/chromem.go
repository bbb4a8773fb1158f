package vector

import (
	"context"
	"fmt"
	"math"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "memkit"

// ChromemIndex implements Index on chromem-go, a pure-Go embedded vector
// database. One collection holds both nodes and runs; records carry their
// context in metadata and scope filtering happens over that.
type ChromemIndex struct {
	col *chromem.Collection
}

// NewChromemIndex opens a persistent chromem database under dir. An empty
// dir keeps everything in memory (used by tests).
func NewChromemIndex(dir string) (*ChromemIndex, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open vector collection: %w", err)
	}
	return &ChromemIndex{col: col}, nil
}

// Upsert stores a record's embedding and metadata, replacing any previous
// entry for the same id.
func (c *ChromemIndex) Upsert(ctx context.Context, id string, vec []float32, meta map[string]string) error {
	err := c.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Embedding: vec,
		Metadata:  meta,
		Content:   meta[MetaTitle] + " " + meta[MetaGoal],
	})
	if err != nil {
		return fmt.Errorf("vector upsert: %w", err)
	}
	return nil
}

// Search returns up to k nearest neighbors. chromem's where-filter only
// matches a single equality, so multi-context scope sets are filtered here
// after an oversampled query.
func (c *ChromemIndex) Search(ctx context.Context, vec []float32, k int, scope []string) ([]Hit, error) {
	count := c.col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}

	n := k
	var where map[string]string
	switch len(scope) {
	case 0:
		// Unrestricted.
	case 1:
		where = map[string]string{MetaContextID: scope[0]}
	default:
		// Post-filtering eats results; oversample.
		n = k * 5
	}
	if n > count {
		n = count
	}

	// chromem rejects nResults larger than the candidate set left after the
	// where filter, and does not report that count up front. Walk the limit
	// down until the query fits.
	var results []chromem.Result
	var err error
	for ; n >= 1; n-- {
		results, err = c.col.QueryEmbedding(ctx, vec, n, where, nil)
		if err == nil {
			break
		}
		if !insufficientDocs(err) {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		if n == 1 {
			return nil, nil
		}
	}

	inScope := func(id string) bool { return true }
	if len(scope) > 1 {
		set := make(map[string]bool, len(scope))
		for _, s := range scope {
			set[s] = true
		}
		inScope = func(id string) bool { return set[id] }
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if !inScope(r.Metadata[MetaContextID]) {
			continue
		}
		hits = append(hits, Hit{
			RefID:    r.ID,
			Distance: similarityToDistance(float64(r.Similarity)),
			Meta:     r.Metadata,
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

func insufficientDocs(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

// similarityToDistance converts cosine similarity to Euclidean distance
// between normalized vectors: d = sqrt(2(1-s)).
func similarityToDistance(sim float64) float64 {
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return math.Sqrt(2 * (1 - sim))
}
