// Package delegation propagates local context knowledge upward to an
// ancestor level with recorded provenance.
package delegation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ports/taskhive/internal/cache"
	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/store"
)

// appendRetries bounds the read-modify-write retry loop. Delegation appends
// are commutative, so losing an optimistic race is resolved by re-reading,
// unlike caller-driven updates where intent may have changed.
const appendRetries = 3

// Engine appends delegated data to ancestor contexts.
type Engine struct {
	store *store.Store
	cache *cache.Cache
}

// New constructs an Engine.
func New(st *store.Store, c *cache.Cache) *Engine {
	return &Engine{store: st, cache: c}
}

// Result describes a completed delegation.
type Result struct {
	DelegationID string       `json:"delegation_id"`
	TargetLevel  models.Level `json:"target_level"`
	TargetID     string       `json:"target_id"`
	SourceLevel  models.Level `json:"source_level"`
	SourceID     string       `json:"source_id"`
}

// Delegate moves data from the context at level/id to the ancestor context at
// targetLevel, recording provenance that names the true originating node.
// On success the target's cache entry and every view that depended on it are
// invalidated before returning.
func (e *Engine) Delegate(ctx context.Context, level models.Level, id string, targetLevel models.Level, data map[string]any, reason string) (*Result, error) {
	if !level.Valid() {
		return nil, &errs.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", level)}
	}
	if !targetLevel.Valid() {
		return nil, &errs.ValidationError{Field: "target_level", Reason: fmt.Sprintf("unknown level %q", targetLevel)}
	}
	if !targetLevel.IsAncestorOf(level) {
		return nil, &errs.ValidationError{
			Field:  "target_level",
			Reason: fmt.Sprintf("%s is not an ancestor of %s; delegation only flows upward", targetLevel, level),
		}
	}
	if len(data) == 0 {
		return nil, &errs.ValidationError{Field: "data", Reason: "must not be empty"}
	}

	targetID, err := e.findTargetID(ctx, level, id, targetLevel)
	if err != nil {
		return nil, err
	}

	record := models.DelegationRecord{
		ID:          models.NewID(),
		SourceLevel: level,
		SourceID:    id,
		Reason:      reason,
		Data:        data,
		DelegatedAt: time.Now().UTC(),
	}

	if err := e.appendToTarget(ctx, targetLevel, targetID, record); err != nil {
		return nil, err
	}

	// Invalidation cascades through the dependent index, so every task or
	// branch that resolved through the target re-reads it next time.
	e.cache.Invalidate(targetLevel, targetID)

	return &Result{
		DelegationID: record.ID,
		TargetLevel:  targetLevel,
		TargetID:     targetID,
		SourceLevel:  level,
		SourceID:     id,
	}, nil
}

// findTargetID walks the parent chain from the source node until it reaches
// targetLevel.
func (e *Engine) findTargetID(ctx context.Context, level models.Level, id string, targetLevel models.Level) (string, error) {
	cur, err := e.store.Get(ctx, level, id)
	if err != nil {
		return "", err
	}
	for cur.Level != targetLevel {
		parentLevel, ok := cur.Level.Parent()
		if !ok {
			return "", &errs.DependencyError{
				MissingLevel: targetLevel,
				MissingID:    "",
				Remediation:  fmt.Sprintf("no %s ancestor reachable from %s %q", targetLevel, level, id),
			}
		}
		parent, err := e.store.Get(ctx, parentLevel, cur.ParentID)
		if err != nil {
			if errs.IsNotFound(err) {
				return "", &errs.DependencyError{
					MissingLevel: parentLevel,
					MissingID:    cur.ParentID,
					Remediation:  fmt.Sprintf("ancestor chain of %s %q is broken at %s %q", level, id, parentLevel, cur.ParentID),
				}
			}
			return "", err
		}
		cur = parent
	}
	return cur.ID, nil
}

// appendToTarget appends record to the target's delegation category under
// optimistic versioning, retrying a bounded number of times on conflict.
func (e *Engine) appendToTarget(ctx context.Context, targetLevel models.Level, targetID string, record models.DelegationRecord) error {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		target, err := e.store.Get(ctx, targetLevel, targetID)
		if err != nil {
			return err
		}

		updated := *target
		updated.Data = target.Data.Clone()
		if updated.Data == nil {
			updated.Data = make(models.ContextData)
		}
		cat := updated.Data[models.CategoryDelegation]
		if cat == nil {
			cat = make(map[string]any)
			updated.Data[models.CategoryDelegation] = cat
		}
		inbound, _ := cat[models.DelegationInboundKey].([]any)
		cat[models.DelegationInboundKey] = append(inbound, delegationToMap(record))

		if _, err := e.store.Update(ctx, &updated, target.Version); err != nil {
			if errs.IsConflict(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// delegationToMap flattens a record into the plain-map shape stored inside
// the delegation category, matching what a JSON round-trip would produce.
func delegationToMap(r models.DelegationRecord) map[string]any {
	return map[string]any{
		"id":           r.ID,
		"source_level": string(r.SourceLevel),
		"source_id":    r.SourceID,
		"reason":       r.Reason,
		"data":         r.Data,
		"delegated_at": r.DelegatedAt.Format(time.RFC3339Nano),
	}
}
