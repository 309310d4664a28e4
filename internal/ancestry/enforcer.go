// Package ancestry validates, and optionally repairs, the ancestor chain of a
// context before it is created.
package ancestry

import (
	"context"
	"fmt"

	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/store"
)

// Enforcer checks that every ancestor of a new context exists, synthesizing
// minimal ancestors top-down when policy and caller both allow it.
type Enforcer struct {
	store *store.Store
	// autoCreateFloor is the highest level that may be synthesized; "" means
	// never synthesize.
	autoCreateFloor models.Level
}

// New constructs an Enforcer. policy is the configured auto_create value:
// "none", "project" or "branch"; anything unrecognised behaves as "none".
func New(st *store.Store, policy string) *Enforcer {
	var floor models.Level
	switch models.Level(policy) {
	case models.LevelProject:
		floor = models.LevelProject
	case models.LevelBranch:
		floor = models.LevelBranch
	}
	return &Enforcer{store: st, autoCreateFloor: floor}
}

// EnsureGlobal creates the global singleton with empty categories if it does
// not exist yet. Losing a creation race to another process is fine.
func (e *Enforcer) EnsureGlobal(ctx context.Context) error {
	ok, err := e.store.Exists(ctx, models.LevelGlobal, models.GlobalID)
	if err != nil || ok {
		return err
	}
	_, err = e.store.Create(ctx, &models.Context{
		Level: models.LevelGlobal,
		ID:    models.GlobalID,
		Data:  make(models.ContextData),
	})
	if err != nil && errs.IsValidation(err) {
		// Another writer created it between Exists and Create.
		return nil
	}
	return err
}

// EnsureAncestors verifies the chain above a context about to be created at
// childLevel with parent parentID. When a link is missing and both the
// configured policy and the caller's opt-in allow it, the missing ancestors
// are synthesized with empty categories, top-down. Otherwise the check fails
// with a DependencyError naming the missing node and the exact remediation.
func (e *Enforcer) EnsureAncestors(ctx context.Context, childLevel models.Level, parentID string, autoCreate bool) error {
	parentLevel, ok := childLevel.Parent()
	if !ok {
		return nil // global has no ancestors
	}
	if parentID == "" {
		return &errs.ValidationError{
			Field:  string(parentLevel) + "_id",
			Reason: fmt.Sprintf("required to create a %s context", childLevel),
		}
	}

	// Walk upward collecting the missing stretch of the chain.
	type missing struct {
		level    models.Level
		id       string
		parentID string
	}
	var toCreate []missing

	level, id := parentLevel, parentID
	for level != models.LevelGlobal {
		exists, err := e.store.Exists(ctx, level, id)
		if err != nil {
			return err
		}
		if exists {
			break
		}

		if !autoCreate || !e.mayCreate(level) {
			return &errs.DependencyError{
				MissingLevel: level,
				MissingID:    id,
				Remediation:  fmt.Sprintf("create the %s context first: create(level=%s, context_id=%s)", level, level, id),
			}
		}

		// Synthesizing this node needs its own parent id; the registry is the
		// only place that knows it when the context row is absent.
		pid, known, err := e.store.LookupParent(ctx, level, id)
		if err != nil {
			return err
		}
		if !known {
			return &errs.DependencyError{
				MissingLevel: level,
				MissingID:    id,
				Remediation: fmt.Sprintf("no registered %s %q to derive the chain from; create the %s context explicitly: create(level=%s, context_id=%s)",
					level, id, level, level, id),
			}
		}

		toCreate = append(toCreate, missing{level: level, id: id, parentID: pid})
		up, _ := level.Parent()
		level, id = up, pid
	}

	if err := e.EnsureGlobal(ctx); err != nil {
		return err
	}

	// Create top-down so each synthesized node's parent exists first.
	for i := len(toCreate) - 1; i >= 0; i-- {
		m := toCreate[i]
		_, err := e.store.Create(ctx, &models.Context{
			Level:    m.level,
			ID:       m.id,
			ParentID: m.parentID,
			Data:     make(models.ContextData),
		})
		if err != nil && !errs.IsValidation(err) {
			return err
		}
	}
	return nil
}

// mayCreate reports whether policy allows synthesizing a context at level.
func (e *Enforcer) mayCreate(level models.Level) bool {
	if e.autoCreateFloor == "" {
		return false
	}
	return level.Depth() >= e.autoCreateFloor.Depth()
}
