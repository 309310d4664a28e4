// Package merge implements the category-aware merge used by hierarchy
// resolution.
package merge

import "github.com/go-ports/taskhive/internal/models"

// Policy selects how a category defined at both an ancestor and a descendant
// level is combined.
type Policy string

const (
	// PolicyDeep merges nested structures recursively; keys at the more
	// specific level override same-named ancestor keys. Default.
	PolicyDeep Policy = "deep"
	// PolicyOverride replaces an ancestor category wholesale when the
	// descendant defines a category of the same name.
	PolicyOverride Policy = "override"
)

// ParsePolicy returns the Policy for s, falling back to PolicyDeep for
// unknown values.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyOverride {
		return PolicyOverride
	}
	return PolicyDeep
}

// Apply merges overlay into base (both unmodified) and returns the combined
// data plus the set of category names the overlay defined or overrode.
// base is the accumulated ancestor view; overlay is the more specific level.
func Apply(base, overlay models.ContextData, policy Policy) (models.ContextData, []string) {
	out := base.Clone()
	if out == nil {
		out = make(models.ContextData)
	}
	touched := make([]string, 0, len(overlay))
	for cat, m := range overlay {
		if m == nil {
			continue
		}
		existing, ok := out[cat]
		if !ok || policy == PolicyOverride {
			out[cat] = cloneValue(m).(map[string]any)
			touched = append(touched, cat)
			continue
		}
		out[cat] = deepMerge(existing, m)
		touched = append(touched, cat)
	}
	return out, touched
}

// deepMerge merges src into dst recursively. dst is owned by the caller (a
// clone); src is read-only. Scalars, slices and type-mismatched values from
// src replace dst values.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, sv := range src {
		sm, srcIsMap := sv.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = deepMerge(dm, sm)
			continue
		}
		dst[k] = cloneValue(sv)
	}
	return dst
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
