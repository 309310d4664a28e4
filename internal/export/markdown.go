// Package export renders resolved contexts as markdown for agent prompt
// injection.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-ports/taskhive/internal/models"
)

// Markdown renders rc as a markdown document: the inheritance chain, each
// data category with the level that contributed it, then insights and
// progress newest-last.
func Markdown(rc *models.ResolvedContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Context: %s %s\n\n", rc.Level, rc.ID)

	chainParts := make([]string, 0, len(rc.Inheritance.Chain))
	for _, node := range rc.Inheritance.Chain {
		chainParts = append(chainParts, fmt.Sprintf("%s(%s)", node.Level, node.ID))
	}
	fmt.Fprintf(&b, "Inheritance: %s\n", strings.Join(chainParts, " → "))
	if rc.Inheritance.DisabledAt != "" {
		fmt.Fprintf(&b, "Inheritance disabled at %s; ancestors above it are not merged.\n", rc.Inheritance.DisabledAt)
	}
	b.WriteString("\n")

	cats := make([]string, 0, len(rc.Data))
	for cat := range rc.Data {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	for _, cat := range cats {
		source := rc.Inheritance.Sources[cat]
		if source != "" && source != rc.Level {
			fmt.Fprintf(&b, "### %s (from %s)\n\n", cat, source)
		} else {
			fmt.Fprintf(&b, "### %s\n\n", cat)
		}
		writeMap(&b, rc.Data[cat], 0)
		b.WriteString("\n")
	}

	if len(rc.Insights) > 0 {
		b.WriteString("### Insights\n\n")
		for _, ins := range rc.Insights {
			label := ins.Category
			if label == "" {
				label = "insight"
			}
			fmt.Fprintf(&b, "- [%s/%s] %s\n", label, ins.Importance, ins.Content)
		}
		b.WriteString("\n")
	}

	if len(rc.Progress) > 0 {
		b.WriteString("### Progress\n\n")
		for _, p := range rc.Progress {
			if p.Status != "" {
				fmt.Fprintf(&b, "- (%s) %s\n", p.Status, p.Content)
			} else {
				fmt.Fprintf(&b, "- %s\n", p.Content)
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// writeMap renders a category mapping as an indented bullet list with sorted
// keys, recursing into nested maps.
func writeMap(b *strings.Builder, m map[string]any, depth int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	indent := strings.Repeat("  ", depth)
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]any:
			fmt.Fprintf(b, "%s- %s:\n", indent, k)
			writeMap(b, v, depth+1)
		case []any:
			fmt.Fprintf(b, "%s- %s:\n", indent, k)
			for _, e := range v {
				fmt.Fprintf(b, "%s  - %v\n", indent, e)
			}
		default:
			fmt.Fprintf(b, "%s- %s: %v\n", indent, k, v)
		}
	}
}
