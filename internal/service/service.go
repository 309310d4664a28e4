// Package service implements the context facade that wires together
// configuration, store, cache, resolver, delegation engine and ancestor
// enforcer.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/yalp/jsonpath"

	"github.com/go-ports/taskhive/internal/ancestry"
	"github.com/go-ports/taskhive/internal/cache"
	"github.com/go-ports/taskhive/internal/config"
	"github.com/go-ports/taskhive/internal/delegation"
	"github.com/go-ports/taskhive/internal/errs"
	"github.com/go-ports/taskhive/internal/merge"
	"github.com/go-ports/taskhive/internal/models"
	"github.com/go-ports/taskhive/internal/redaction"
	"github.com/go-ports/taskhive/internal/resolve"
	"github.com/go-ports/taskhive/internal/store"
)

// appendRetries bounds the internal read-modify-write loops for insight and
// progress appends. Caller-driven updates are never auto-retried on conflict.
const appendRetries = 3

// Service is the single orchestration entry point for all context operations.
type Service struct {
	HiveHome string
	Config   *config.HiveConfig

	store     *store.Store
	cache     *cache.Cache
	resolver  *resolve.Resolver
	delegator *delegation.Engine
	enforcer  *ancestry.Enforcer

	mu             sync.Mutex
	ignorePatterns []*regexp.Regexp
}

// New initialises a Service rooted at hiveHome.
// If hiveHome is empty it is resolved via config.GetHiveHome. The global
// singleton context is ensured to exist before New returns.
func New(hiveHome string) (*Service, error) {
	if hiveHome == "" {
		hiveHome = config.GetHiveHome()
	}
	if err := os.MkdirAll(hiveHome, 0o755); err != nil {
		return nil, fmt.Errorf("service.New: create hive home: %w", err)
	}

	cfg, err := config.Load(filepath.Join(hiveHome, "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("service.New: load config: %w", err)
	}

	st, err := store.Open(filepath.Join(hiveHome, "hive.db"), cfg.Store.Timeout())
	if err != nil {
		return nil, fmt.Errorf("service.New: open store: %w", err)
	}

	c := cache.New(cfg.Cache.TTL())
	if cfg.Cache.Janitor {
		c.StartJanitor()
	}

	s := &Service{
		HiveHome:  hiveHome,
		Config:    cfg,
		store:     st,
		cache:     c,
		resolver:  resolve.New(st, c, merge.ParsePolicy(cfg.Merge.Policy)),
		delegator: delegation.New(st, c),
		enforcer:  ancestry.New(st, cfg.Ancestry.AutoCreate),
	}

	if err := s.enforcer.EnsureGlobal(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("service.New: ensure global context: %w", err)
	}
	return s, nil
}

// Close releases all resources held by the service.
func (s *Service) Close() error {
	s.cache.StopJanitor()
	return s.store.Close()
}

// Store exposes the underlying store for collaborators (the registry use
// cases share the same database).
func (s *Service) Store() *store.Store { return s.store }

// ApplyConfig applies a reloaded configuration in place: cache TTL and merge
// policy take effect immediately; store timeout and auto-create policy apply
// to the next service start.
func (s *Service) ApplyConfig(cfg *config.HiveConfig) {
	s.mu.Lock()
	s.Config = cfg
	s.mu.Unlock()

	s.cache.SetTTL(cfg.Cache.TTL())
	if p := merge.ParsePolicy(cfg.Merge.Policy); p != s.resolver.Policy() {
		s.resolver.SetPolicy(p)
	}
}

// ---------------------------------------------------------------------------
// Lazy helpers
// ---------------------------------------------------------------------------

// getIgnorePatterns returns redaction patterns, lazily loaded from .taskhiveignore.
func (s *Service) getIgnorePatterns() []*regexp.Regexp {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ignorePatterns != nil {
		return s.ignorePatterns
	}
	patterns, err := redaction.LoadIgnoreFile(filepath.Join(s.HiveHome, ".taskhiveignore"))
	if err != nil {
		slog.Warn("failed to load .taskhiveignore", "err", err)
	}
	if patterns == nil {
		patterns = make([]*regexp.Regexp, 0)
	}
	s.ignorePatterns = patterns
	return patterns
}

// retryTransient runs op, retrying only transient store failures up to the
// configured bound with a short linear backoff. Deterministic errors surface
// immediately.
func (s *Service) retryTransient(op func() error) error {
	retries := s.Config.Store.Retries
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !errs.IsTransient(err) || attempt >= retries {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// CRUD
// ---------------------------------------------------------------------------

// Create creates a context at level/id. parentID is ignored for the global
// level. When autoCreate is true, missing ancestors are synthesized subject
// to the configured auto_create policy; otherwise a missing ancestor fails
// with a DependencyError carrying the remediation call.
func (s *Service) Create(ctx context.Context, level models.Level, id, parentID string, data models.ContextData, autoCreate bool) (*models.Context, error) {
	if !level.Valid() {
		return nil, &errs.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", level)}
	}
	if level == models.LevelGlobal {
		parentID = ""
		if id == "" {
			id = models.GlobalID
		}
	}

	if level != models.LevelGlobal {
		if err := s.enforcer.EnsureAncestors(ctx, level, parentID, autoCreate); err != nil {
			return nil, err
		}
	}

	var created *models.Context
	err := s.retryTransient(func() error {
		var err error
		created, err = s.store.Create(ctx, &models.Context{
			Level:    level,
			ID:       id,
			ParentID: parentID,
			Data:     data,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(level, id)
	return created, nil
}

// Get fetches the raw context record at level/id, no inheritance applied.
func (s *Service) Get(ctx context.Context, level models.Level, id string) (*models.Context, error) {
	var c *models.Context
	err := s.retryTransient(func() error {
		var err error
		c, err = s.store.Get(ctx, level, id)
		return err
	})
	return c, err
}

// Update replaces the context's data categories under optimistic versioning.
// expectedVersion must be the version the caller last read; a stale version
// fails with Conflict and is never retried here; the caller re-reads and
// decides whether the write still applies.
func (s *Service) Update(ctx context.Context, level models.Level, id string, data models.ContextData, inheritanceDisabled *bool, expectedVersion int64) (*models.Context, error) {
	current, err := s.Get(ctx, level, id)
	if err != nil {
		return nil, err
	}

	updated := *current
	updated.Data = data
	if inheritanceDisabled != nil {
		updated.InheritanceDisabled = *inheritanceDisabled
	}

	var out *models.Context
	err = s.retryTransient(func() error {
		var err error
		out, err = s.store.Update(ctx, &updated, expectedVersion)
		return err
	})
	if err != nil {
		return nil, err
	}
	// Invalidation must complete before the write reports success.
	s.cache.Invalidate(level, id)
	return out, nil
}

// Delete removes a context record. The global singleton cannot be deleted.
// Cascading deletion of descendants is the caller's responsibility.
func (s *Service) Delete(ctx context.Context, level models.Level, id string) (bool, error) {
	var deleted bool
	err := s.retryTransient(func() error {
		var err error
		deleted, err = s.store.Delete(ctx, level, id)
		return err
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.cache.Invalidate(level, id)
	}
	return deleted, nil
}

// Resolve returns the inheritance-merged view of the node at level/id.
func (s *Service) Resolve(ctx context.Context, level models.Level, id string, forceRefresh bool) (*models.ResolvedContext, error) {
	var rc *models.ResolvedContext
	err := s.retryTransient(func() error {
		var err error
		rc, err = s.resolver.Resolve(ctx, level, id, forceRefresh)
		return err
	})
	return rc, err
}

// Delegate propagates data from the context at level/id to its ancestor at
// targetLevel with recorded provenance. The reason is redacted like any
// other free text.
func (s *Service) Delegate(ctx context.Context, level models.Level, id string, targetLevel models.Level, data map[string]any, reason string) (*delegation.Result, error) {
	reason = redaction.Redact(reason, s.getIgnorePatterns())
	var res *delegation.Result
	err := s.retryTransient(func() error {
		var err error
		res, err = s.delegator.Delegate(ctx, level, id, targetLevel, data, reason)
		return err
	})
	return res, err
}

// List returns summaries at level, optionally restricted to a parent id, with
// no inheritance merge. filter, when non-empty, is a JSONPath expression
// evaluated against each summary; summaries where it yields nothing (or a
// false/empty value) are excluded.
func (s *Service) List(ctx context.Context, level models.Level, parentID, filter string) ([]models.Summary, error) {
	var summaries []models.Summary
	err := s.retryTransient(func() error {
		var err error
		summaries, err = s.store.List(ctx, level, parentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return summaries, nil
	}

	path, err := jsonpath.Prepare(filter)
	if err != nil {
		return nil, &errs.ValidationError{Field: "filter", Reason: fmt.Sprintf("bad JSONPath %q: %v", filter, err)}
	}

	out := make([]models.Summary, 0, len(summaries))
	for _, sum := range summaries {
		doc, err := toDocument(sum)
		if err != nil {
			return nil, err
		}
		v, err := path(doc)
		if err != nil || !truthy(v) {
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Insights & progress
// ---------------------------------------------------------------------------

// validImportance lists the accepted insight importance values.
var validImportance = map[string]bool{"low": true, "medium": true, "high": true}

// AddInsight appends a structured insight to the context at level/id. The
// append is a read-modify-write under the same optimistic-version discipline
// as update; since appends commute, a lost race is retried a bounded number
// of times internally. The FTS index write is best-effort.
func (s *Service) AddInsight(ctx context.Context, level models.Level, id, content, category, importance string) (*models.Insight, error) {
	if content == "" {
		return nil, &errs.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if importance == "" {
		importance = "medium"
	}
	if !validImportance[importance] {
		return nil, &errs.ValidationError{Field: "importance", Reason: fmt.Sprintf("%q is not one of low, medium, high", importance)}
	}

	ins := models.Insight{
		ID:         models.NewID(),
		Content:    redaction.Redact(content, s.getIgnorePatterns()),
		Category:   category,
		Importance: importance,
		CreatedAt:  time.Now().UTC(),
	}

	err := s.appendWithRetry(ctx, level, id, func(c *models.Context) {
		c.Insights = append(c.Insights, ins)
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.IndexInsight(ctx, level, id, ins); err != nil {
		slog.Warn("AddInsight: index write failed", "err", err)
	}
	return &ins, nil
}

// AddProgress appends a structured progress entry to the context at level/id,
// under the same discipline as AddInsight.
func (s *Service) AddProgress(ctx context.Context, level models.Level, id, content, status, agent string) (*models.ProgressEntry, error) {
	if content == "" {
		return nil, &errs.ValidationError{Field: "content", Reason: "must not be empty"}
	}

	entry := models.ProgressEntry{
		ID:        models.NewID(),
		Content:   redaction.Redact(content, s.getIgnorePatterns()),
		Status:    status,
		Agent:     agent,
		CreatedAt: time.Now().UTC(),
	}

	err := s.appendWithRetry(ctx, level, id, func(c *models.Context) {
		c.Progress = append(c.Progress, entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// SearchInsights runs a full-text search over indexed insights. level and
// contextID narrow the scope when non-empty.
func (s *Service) SearchInsights(ctx context.Context, query string, level models.Level, contextID string, limit int) ([]store.InsightHit, error) {
	if level != "" && !level.Valid() {
		return nil, &errs.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", level)}
	}
	var hits []store.InsightHit
	err := s.retryTransient(func() error {
		var err error
		hits, err = s.store.SearchInsights(ctx, query, level, contextID, limit)
		return err
	})
	return hits, err
}

// appendWithRetry implements the bounded read-modify-write loop shared by
// insight and progress appends, invalidating the node's cache entry on
// success.
func (s *Service) appendWithRetry(ctx context.Context, level models.Level, id string, mutate func(*models.Context)) error {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		current, err := s.Get(ctx, level, id)
		if err != nil {
			return err
		}

		updated := *current
		updated.Insights = append([]models.Insight(nil), current.Insights...)
		updated.Progress = append([]models.ProgressEntry(nil), current.Progress...)
		mutate(&updated)

		err = s.retryTransient(func() error {
			_, err := s.store.Update(ctx, &updated, current.Version)
			return err
		})
		if err != nil {
			if errs.IsConflict(err) {
				lastErr = err
				continue
			}
			return err
		}
		s.cache.Invalidate(level, id)
		return nil
	}
	return lastErr
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// toDocument converts a summary to the generic map shape jsonpath operates on.
func toDocument(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("List: encode summary: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("List: decode summary: %w", err)
	}
	return doc, nil
}

// truthy reports whether a JSONPath result selects the summary: nil, false,
// empty strings and empty collections do not.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
