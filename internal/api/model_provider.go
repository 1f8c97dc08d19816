package api

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/samcharles93/tokenloop/internal/toy"
)

// DefaultMaxModels is the number of toy models a CachedModelProvider keeps
// when no size is given.
const DefaultMaxModels = 8

// ModelSpec identifies a toy model by its shape and weight seed.
type ModelSpec struct {
	Vocab  int
	Hidden int
	Seed   uint64
}

type ModelProvider interface {
	// WithModel runs fn with exclusive use of the model for spec. The model's
	// cache is empty when fn starts.
	WithModel(ctx context.Context, spec ModelSpec, fn func(m *toy.ToyLM) error) error
}

// CachedModelProvider builds each distinct model once and serialises use of
// it, since a model's cache belongs to one generation at a time. At most
// maxModels models are kept; the least recently used one is dropped first.
type CachedModelProvider struct {
	mu    sync.Mutex
	cache *lru.Cache[ModelSpec, *modelEntry]
}

type modelEntry struct {
	model *toy.ToyLM
	mu    sync.Mutex
}

// NewCachedModelProvider returns a provider keeping up to maxModels models.
// A non-positive maxModels means DefaultMaxModels.
func NewCachedModelProvider(maxModels int) *CachedModelProvider {
	if maxModels <= 0 {
		maxModels = DefaultMaxModels
	}
	cache, err := lru.New[ModelSpec, *modelEntry](maxModels)
	if err != nil {
		panic(err)
	}
	return &CachedModelProvider{cache: cache}
}

func (p *CachedModelProvider) WithModel(ctx context.Context, spec ModelSpec, fn func(m *toy.ToyLM) error) error {
	entry := p.getOrBuild(spec)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	entry.model.Reset()
	return fn(entry.model)
}

// getOrBuild holds p.mu across lookup and insert so concurrent requests for
// one spec share a single model. An evicted entry stays valid for callers
// already holding it.
func (p *CachedModelProvider) getOrBuild(spec ModelSpec) *modelEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.cache.Get(spec); ok {
		return entry
	}
	entry := &modelEntry{model: toy.NewToyLM(spec.Vocab, spec.Hidden, spec.Seed)}
	p.cache.Add(spec, entry)
	return entry
}

// Len returns the number of cached models.
func (p *CachedModelProvider) Len() int {
	return p.cache.Len()
}
