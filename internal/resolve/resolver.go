// Package resolve walks the ancestor chain of a context node and produces its
// merged, inheritance-annotated view.
package resolve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ports/taskhive/internal/cache"
	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/merge"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/store"
)

// Resolver composes the store and cache into inheritance-aware reads.
type Resolver struct {
	store *store.Store
	cache *cache.Cache

	mu     sync.RWMutex
	policy merge.Policy
}

// New constructs a Resolver. All dependencies are injected; the resolver owns
// no hidden state beyond the merge policy.
func New(st *store.Store, c *cache.Cache, policy merge.Policy) *Resolver {
	return &Resolver{store: st, cache: c, policy: policy}
}

// Policy returns the current merge policy.
func (r *Resolver) Policy() merge.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// SetPolicy swaps the merge policy and purges the cache, since cached views
// were merged under the old policy.
func (r *Resolver) SetPolicy(p merge.Policy) {
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()
	r.cache.Purge()
}

// Resolve returns the effective (inherited) view of the node at level/id.
// forceRefresh bypasses the cached entry and re-reads the whole chain.
func (r *Resolver) Resolve(ctx context.Context, level models.Level, id string, forceRefresh bool) (*models.ResolvedContext, error) {
	if !level.Valid() {
		return nil, &errs.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", level)}
	}
	if id == "" {
		return nil, &errs.ValidationError{Field: "context_id", Reason: "must not be empty"}
	}

	key := cache.Key{Level: level, ID: id}
	if forceRefresh {
		r.cache.Invalidate(level, id)
	}
	return r.cache.GetOrCompute(key, func() (*models.ResolvedContext, []models.Node, error) {
		return r.resolveChain(ctx, level, id)
	})
}

// resolveChain fetches every record from the node up to the global root and
// merges them root-to-leaf.
func (r *Resolver) resolveChain(ctx context.Context, level models.Level, id string) (*models.ResolvedContext, []models.Node, error) {
	records, err := r.fetchChain(ctx, level, id)
	if err != nil {
		return nil, nil, err
	}

	// A node with inheritance disabled cuts the chain: nothing above it is
	// merged into views at or below it.
	start := 0
	var disabledAt models.Level
	for i, rec := range records {
		if rec.InheritanceDisabled && i > 0 {
			start = i
			disabledAt = rec.Level
		}
	}

	policy := r.Policy()
	acc := make(models.ContextData)
	sources := make(map[string]models.Level)
	chain := make([]models.Node, 0, len(records)-start)
	for _, rec := range records[start:] {
		var touched []string
		acc, touched = merge.Apply(acc, rec.Data, policy)
		for _, cat := range touched {
			sources[cat] = rec.Level
		}
		chain = append(chain, models.Node{Level: rec.Level, ID: rec.ID})
	}

	leaf := records[len(records)-1]
	resolved := &models.ResolvedContext{
		Level:      level,
		ID:         id,
		Data:       acc,
		Insights:   leaf.Insights,
		Progress:   leaf.Progress,
		Version:    leaf.Version,
		ResolvedAt: time.Now().UTC(),
		Inheritance: models.Inheritance{
			Chain:      chain,
			Sources:    sources,
			DisabledAt: disabledAt,
		},
	}
	return resolved, chain, nil
}

// fetchChain returns the records from the global root down to the requested
// node. The node itself being absent is NotFound; a hole above it is a
// DependencyError naming the missing ancestor rather than a silent skip.
func (r *Resolver) fetchChain(ctx context.Context, level models.Level, id string) ([]*models.Context, error) {
	node, err := r.store.Get(ctx, level, id)
	if err != nil {
		return nil, err
	}

	records := []*models.Context{node}
	cur := node
	for {
		parentLevel, ok := cur.Level.Parent()
		if !ok {
			break
		}
		parent, err := r.store.Get(ctx, parentLevel, cur.ParentID)
		if err != nil {
			if errs.IsNotFound(err) {
				return nil, &errs.DependencyError{
					MissingLevel: parentLevel,
					MissingID:    cur.ParentID,
					Remediation: fmt.Sprintf("the %s context %q references it as parent; create it first: create(level=%s, context_id=%s)",
						cur.Level, cur.ID, parentLevel, cur.ParentID),
				}
			}
			return nil, err
		}
		records = append(records, parent)
		cur = parent
	}

	// Reverse to root-to-leaf order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
