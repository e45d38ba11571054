// Package vectorsearch provides a trivial in-memory domain.VectorSearchEngine
// for running a node's local-search step (C12) without wiring in a real
// embedding index. It scores documents by term overlap with
// internal/namematch, the same fuzzy matcher C11 uses for keyword
// routing, rather than anything resembling a vector similarity.
package vectorsearch

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/namematch"
)

// Document is one indexed unit of local content.
type Document struct {
	ID         string
	Content    string
	Collection string
	ModelClass string
	ModelType  string
	Metadata   map[string]interface{}
}

// Engine implements domain.VectorSearchEngine over an in-memory document
// set. Swap in a real embedding-backed engine for production use; this
// exists so the fabric is runnable end to end without one.
type Engine struct {
	mu   sync.RWMutex
	docs []Document
}

// New returns an empty Engine. Call Index to populate it.
func New() *Engine {
	return &Engine{}
}

// Index replaces the document set searched by this engine.
func (e *Engine) Index(docs []Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs = docs
}

// Search implements domain.VectorSearchEngine.
func (e *Engine) Search(ctx context.Context, query string, collections []string, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	allowed := make(map[string]bool, len(collections))
	for _, c := range collections {
		allowed[namematch.Normalize(c)] = true
	}

	terms := strings.Fields(query)
	var results []domain.SearchResult
	for _, d := range e.docs {
		if len(allowed) > 0 && !allowed[namematch.Normalize(d.Collection)] {
			continue
		}
		score := scoreDocument(d, terms)
		if score <= 0 {
			continue
		}
		if opts.Threshold > 0 && score < opts.Threshold {
			continue
		}
		results = append(results, domain.SearchResult{
			ID:         d.ID,
			Content:    d.Content,
			Score:      score,
			ModelClass: d.ModelClass,
			ModelType:  d.ModelType,
			Metadata:   d.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// scoreDocument averages the best per-term namematch.Score against the
// document's content, normalized to a 0..1 range.
func scoreDocument(d Document, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	words := strings.Fields(d.Content)
	total := 0
	for _, term := range terms {
		best := 0
		for _, w := range words {
			if s := namematch.Score(w, term, nil); s > best {
				best = s
			}
		}
		total += best
	}
	return float64(total) / float64(len(terms)) / 100.0
}
