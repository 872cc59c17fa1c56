// Package retrieval provides nearest-neighbour strategies that narrow a
// target pool to the candidates worth classifying.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

var (
	// ErrInvalidConfig indicates invalid strategy arguments.
	ErrInvalidConfig = errors.New("invalid retrieval configuration")

	// ErrNoStrategy is returned when the configuration names a marker rather
	// than a strategy (source stores are configured as "custom").
	ErrNoStrategy = errors.New("configuration does not name a retrieval strategy")

	// ErrDimensionMismatch indicates a query and pool of different sizes.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ScoredElement is a candidate with its similarity to the query.
type ScoredElement struct {
	Element *knowledge.Element
	Score   float32
}

// Strategy selects the pool entries most similar to a query.
//
// Implementations must return results in a deterministic order for equal
// inputs and must only return elements taken from pool. An element that
// occurs in pool more than once is returned once per occurrence, like any
// other candidate.
type Strategy interface {
	FindSimilarElements(ctx context.Context, query knowledge.Entry, pool []knowledge.Entry) ([]ScoredElement, error)
	Name() string
}

// Unlimited disables the result cap ("max_results": "infinity").
const Unlimited = -1

// sortScored orders by descending score, then ascending element id.
func sortScored(results []ScoredElement) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Element.ID() < results[j].Element.ID()
	})
}

// truncate caps results at limit; Unlimited keeps everything.
func truncate(results []ScoredElement, limit int) []ScoredElement {
	if limit == Unlimited || limit >= len(results) {
		return results
	}
	return results[:limit]
}

func checkDimensions(query knowledge.Entry, pool []knowledge.Entry) error {
	dim := query.Embedding.Dimension()
	for _, e := range pool {
		if e.Embedding.Dimension() != dim {
			return fmt.Errorf("%w: query %s has %d, candidate %s has %d",
				ErrDimensionMismatch, query.Element.ID(), dim, e.Element.ID(), e.Embedding.Dimension())
		}
	}
	return nil
}

// occurrences indexes pool by element id. distinct holds the first entry of
// every id in pool order; index-backed strategies store only those and fan
// each hit back out to all of its occurrences.
type occurrences struct {
	distinct []knowledge.Entry
	byID     map[string][]*knowledge.Element
}

func indexPool(pool []knowledge.Entry) occurrences {
	occ := occurrences{byID: make(map[string][]*knowledge.Element, len(pool))}
	for _, e := range pool {
		id := e.Element.ID()
		if _, seen := occ.byID[id]; !seen {
			occ.distinct = append(occ.distinct, e)
		}
		occ.byID[id] = append(occ.byID[id], e.Element)
	}
	return occ
}

// fanOut appends one result per occurrence of id. It reports false for ids
// outside the pool.
func (o occurrences) fanOut(results []ScoredElement, id string, score float32) ([]ScoredElement, bool) {
	elements, ok := o.byID[id]
	for _, el := range elements {
		results = append(results, ScoredElement{Element: el, Score: score})
	}
	return results, ok
}
