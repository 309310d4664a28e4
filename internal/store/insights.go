package store

import (
	"context"
	"strings"

	"github.com/go-ports/taskhive/internal/models"
)

// InsightHit is a single full-text search hit over indexed insights.
type InsightHit struct {
	InsightID  string  `json:"insight_id"`
	Level      string  `json:"level"`
	ContextID  string  `json:"context_id"`
	Content    string  `json:"content"`
	Category   string  `json:"category,omitempty"`
	Importance string  `json:"importance,omitempty"`
	CreatedAt  string  `json:"created_at"`
	Score      float64 `json:"score"`
}

// IndexInsight mirrors an appended insight into the FTS index. The embedded
// JSON list on the context row stays the source of truth; the index only
// serves search.
func (s *Store) IndexInsight(ctx context.Context, level models.Level, contextID string, ins models.Insight) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO insight_rows (insight_id, level, context_id, content, category, importance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ins.ID, string(level), contextID, ins.Content, ins.Category, ins.Importance,
		fmtTime(ins.CreatedAt),
	)
	if err != nil {
		return mapStoreErr("IndexInsight", err)
	}
	return nil
}

// SearchInsights performs a BM25 full-text search over indexed insights,
// optionally filtered by level and/or context id.
func (s *Store) SearchInsights(ctx context.Context, query string, level models.Level, contextID string, limit int) ([]InsightHit, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	// Build "term1"* OR "term2"* FTS5 query.
	terms := strings.Fields(query)
	ftsParts := make([]string, len(terms))
	for i, t := range terms {
		ftsParts[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"*`
	}
	ftsQuery := strings.Join(ftsParts, " OR ")

	q := `
		SELECT r.insight_id, r.level, r.context_id, r.content, r.category, r.importance, r.created_at, -fts.rank AS score
		FROM insights_fts fts
		JOIN insight_rows r ON r.rowid = fts.rowid
		WHERE fts.insights_fts MATCH ?`
	params := []any{ftsQuery}
	if level != "" {
		q += " AND r.level = ?"
		params = append(params, string(level))
	}
	if contextID != "" {
		q += " AND r.context_id = ?"
		params = append(params, contextID)
	}
	q += "\n\t\tORDER BY fts.rank\n\t\tLIMIT ?" // #nosec G202 -- AND clauses use hardcoded column names only; values flow through ? bound parameters
	params = append(params, limit)

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, mapStoreErr("SearchInsights", err)
	}
	defer rows.Close()

	hits := make([]InsightHit, 0)
	for rows.Next() {
		var h InsightHit
		var category, importance *string
		if err := rows.Scan(&h.InsightID, &h.Level, &h.ContextID, &h.Content, &category, &importance, &h.CreatedAt, &h.Score); err != nil {
			return nil, mapStoreErr("SearchInsights", err)
		}
		if category != nil {
			h.Category = *category
		}
		if importance != nil {
			h.Importance = *importance
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
