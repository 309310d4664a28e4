// Package models defines the core data types for the context hierarchy.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Level identifies a tier of the context hierarchy.
type Level string

// The four levels, root first. The chain is total and linear: every project
// hangs off the global singleton, every branch off a project, every task off
// a branch.
const (
	LevelGlobal  Level = "global"
	LevelProject Level = "project"
	LevelBranch  Level = "branch"
	LevelTask    Level = "task"
)

// GlobalID is the well-known id of the global singleton context.
const GlobalID = "global_singleton"

// Chain lists the levels in root-to-leaf order.
var Chain = []Level{LevelGlobal, LevelProject, LevelBranch, LevelTask}

// depth maps each level to its position in Chain.
var depth = map[Level]int{
	LevelGlobal:  0,
	LevelProject: 1,
	LevelBranch:  2,
	LevelTask:    3,
}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	_, ok := depth[l]
	return ok
}

// Depth returns the level's position in the chain (global = 0).
func (l Level) Depth() int { return depth[l] }

// Parent returns the level directly above l. ok is false for global and for
// unknown levels.
func (l Level) Parent() (Level, bool) {
	d, known := depth[l]
	if !known || d == 0 {
		return "", false
	}
	return Chain[d-1], true
}

// IsAncestorOf reports whether l is a strict ancestor of other.
func (l Level) IsAncestorOf(other Level) bool {
	if !l.Valid() || !other.Valid() {
		return false
	}
	return depth[l] < depth[other]
}

// ParseLevel validates a level string supplied by a caller.
func ParseLevel(s string) (Level, bool) {
	l := Level(s)
	return l, l.Valid()
}

// ---------------------------------------------------------------------------
// Context records
// ---------------------------------------------------------------------------

// Well-known data category names. Categories outside this set are stored and
// merged all the same; these are the ones the system itself writes or that
// tooling offers completion for.
const (
	CategorySettings   = "settings"
	CategoryStandards  = "standards"
	CategoryWorkflow   = "workflow"
	CategoryDelegation = "delegation"
)

// DelegationInboundKey is the key inside the delegation category that holds
// the append-only list of inbound delegation records.
const DelegationInboundKey = "inbound"

// ContextData is the set of named categories carried by a context record.
// Each category is a structured mapping, not an opaque blob.
type ContextData map[string]map[string]any

// Clone returns a deep copy of d. Mutating the copy never aliases the
// original's nested maps or slices.
func (d ContextData) Clone() ContextData {
	if d == nil {
		return nil
	}
	out := make(ContextData, len(d))
	for cat, m := range d {
		cloned := deepCloneMap(m)
		out[cat] = cloned
	}
	return out
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Insight is an append-only observation recorded on a context.
type Insight struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Category   string    `json:"category,omitempty"`
	Importance string    `json:"importance,omitempty"` // "low" | "medium" | "high"
	CreatedAt  time.Time `json:"created_at"`
}

// ProgressEntry is one row of a context's structured progress log.
type ProgressEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Status    string    `json:"status,omitempty"` // e.g. "in_progress", "done"
	Agent     string    `json:"agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DelegationRecord is one inbound delegation stored under the target's
// delegation category. SourceLevel/SourceID always name the true originating
// node, never an intermediate.
type DelegationRecord struct {
	ID          string         `json:"id"`
	SourceLevel Level          `json:"source_level"`
	SourceID    string         `json:"source_id"`
	Reason      string         `json:"reason"`
	Data        map[string]any `json:"data"`
	DelegatedAt time.Time      `json:"delegated_at"`
}

// Context is a fully materialised per-level context record.
type Context struct {
	Level               Level
	ID                  string
	ParentID            string // empty for global
	Data                ContextData
	Insights            []Insight
	Progress            []ProgressEntry
	InheritanceDisabled bool
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Summary is the enumeration view returned by list: no inheritance merge,
// just identity and shape.
type Summary struct {
	Level               Level     `json:"level"`
	ID                  string    `json:"id"`
	ParentID            string    `json:"parent_id,omitempty"`
	Categories          []string  `json:"categories"`
	InsightCount        int       `json:"insight_count"`
	ProgressCount       int       `json:"progress_count"`
	InheritanceDisabled bool      `json:"inheritance_disabled"`
	Version             int64     `json:"version"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ---------------------------------------------------------------------------
// Resolved views
// ---------------------------------------------------------------------------

// Node identifies one context record in a chain.
type Node struct {
	Level Level  `json:"level"`
	ID    string `json:"id"`
}

// Inheritance is the metadata block attached to a resolved context: which
// nodes were actually merged and which level contributed each top-level
// category.
type Inheritance struct {
	Chain []Node `json:"chain"`
	// Sources maps category name to the most specific level that defined or
	// overrode keys in it.
	Sources map[string]Level `json:"sources"`
	// DisabledAt names the level whose inheritance_disabled flag cut the
	// chain, if any.
	DisabledAt Level `json:"disabled_at,omitempty"`
}

// ResolvedContext is the merged, inheritance-aware view of a node.
type ResolvedContext struct {
	Level       Level           `json:"level"`
	ID          string          `json:"id"`
	Data        ContextData     `json:"data"`
	Insights    []Insight       `json:"insights"`
	Progress    []ProgressEntry `json:"progress"`
	Version     int64           `json:"version"`
	ResolvedAt  time.Time       `json:"resolved_at"`
	Inheritance Inheritance     `json:"_inheritance"`
}

// ---------------------------------------------------------------------------
// Registry entities
// ---------------------------------------------------------------------------

// Project is a tracked project.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Branch is a work branch within a project.
type Branch struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a unit of agent work on a branch.
type Task struct {
	ID          string    `json:"id"`
	BranchID    string    `json:"branch_id"`
	Title       string    `json:"title"`
	Status      string    `json:"status"` // "todo" | "in_progress" | "done"
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"` // zero until done
}

// NewID returns a fresh random id for insights, progress entries, delegations
// and registry entities.
func NewID() string { return uuid.NewString() }
