package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/searchsync/internal/backend"
	"github.com/Aman-CERP/searchsync/internal/mapping"
	"github.com/Aman-CERP/searchsync/internal/query"
)

// checkPageSize is the number of ids fetched per backend query while
// listing an index.
const checkPageSize = 500

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphan indicates a document without a stored entity.
	// Queries silently drop such hits during hydration.
	InconsistencyOrphan InconsistencyType = iota
	// InconsistencyMissing indicates a stored entity that is not indexed.
	InconsistencyMissing
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphan:
		return "orphan"
	case InconsistencyMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Inconsistency represents one drifted entity.
type Inconsistency struct {
	Type InconsistencyType
	Kind string
	Key  string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Kind string
	// Stored is the number of entities in the primary store.
	Stored int
	// Indexed is the number of documents in the index.
	Indexed         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// KeyLister lists the keys of every stored entity of a kind.
type KeyLister interface {
	Keys(ctx context.Context, kind string) ([]string, error)
}

// ConsistencyChecker compares the index of a kind against the primary
// store, which is the source of truth.
type ConsistencyChecker struct {
	coord *Coordinator
	keys  KeyLister
	load  query.Hydrator
}

// NewConsistencyChecker creates a checker. load is used by Repair to
// re-index missing entities.
func NewConsistencyChecker(coord *Coordinator, keys KeyLister, load query.Hydrator) *ConsistencyChecker {
	return &ConsistencyChecker{coord: coord, keys: keys, load: load}
}

// Check lists both sides and reports the difference.
func (c *ConsistencyChecker) Check(ctx context.Context, kind string) (*CheckResult, error) {
	start := time.Now()

	stored, err := c.keys.Keys(ctx, kind)
	if err != nil {
		return nil, err
	}
	indexed, err := c.indexedIDs(ctx, kind)
	if err != nil {
		return nil, err
	}

	storedSet := make(map[string]bool, len(stored))
	for _, k := range stored {
		storedSet[k] = true
	}
	indexedSet := make(map[string]bool, len(indexed))
	for _, id := range indexed {
		indexedSet[id] = true
	}

	var issues []Inconsistency
	for _, id := range indexed {
		if !storedSet[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphan, Kind: kind, Key: id})
		}
	}
	for _, k := range stored {
		if !indexedSet[k] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissing, Kind: kind, Key: k})
		}
	}

	return &CheckResult{
		Kind:            kind,
		Stored:          len(stored),
		Indexed:         len(indexed),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// indexedIDs pages through every document id of kind.
func (c *ConsistencyChecker) indexedIDs(ctx context.Context, kind string) ([]string, error) {
	em := c.coord.registry.Mapping(kind)
	var ids []string
	for from := 0; ; from += checkPageSize {
		raw, err := c.coord.client.ExecuteQuery(ctx, em.IndexName, backend.SearchRequest{
			TypeName: em.TypeName,
			Filter:   backend.MatchAll(),
			From:     from,
			Size:     checkPageSize,
			IDsOnly:  true,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, raw.IDs()...)
		if len(raw.Hits) < checkPageSize || uint64(len(ids)) >= raw.Total {
			return ids, nil
		}
	}
}

// Repair fixes detected inconsistencies, best-effort.
//   - Orphans are deleted from the index.
//   - Missing entities are loaded from the store and indexed.
//
// It returns the number of issues fixed.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) int {
	fixed := 0
	missing := make(map[string][]string)

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphan:
			em := c.coord.registry.Mapping(issue.Kind)
			if err := c.coord.client.DeleteDocument(ctx, em.IndexName, em.TypeName, issue.Key); err != nil {
				slog.Warn("failed to delete orphan document",
					slog.String("kind", issue.Kind),
					slog.String("key", issue.Key),
					slog.String("error", err.Error()))
				continue
			}
			fixed++
		case InconsistencyMissing:
			missing[issue.Kind] = append(missing[issue.Kind], issue.Key)
		}
	}

	for kind, keys := range missing {
		models, err := c.load.LoadByIDs(ctx, kind, keys)
		if err != nil {
			slog.Warn("failed to load missing entities",
				slog.String("kind", kind),
				slog.Int("count", len(keys)),
				slog.String("error", err.Error()))
			continue
		}
		fixed += c.indexAll(ctx, models)
	}

	if fixed > 0 {
		slog.Info("consistency_repaired", slog.Int("fixed", fixed), slog.Int("issues", len(issues)))
	}
	return fixed
}

func (c *ConsistencyChecker) indexAll(ctx context.Context, models []mapping.Model) int {
	n := 0
	for _, m := range models {
		if err := c.coord.IndexModel(ctx, m); err != nil {
			slog.Warn("failed to index missing entity",
				slog.String("kind", m.Kind()),
				slog.String("key", m.Key()),
				slog.String("error", err.Error()))
			continue
		}
		n++
	}
	return n
}

// QuickCheck only compares counts. It returns true when they match.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context, kind string) (bool, error) {
	stored, err := c.keys.Keys(ctx, kind)
	if err != nil {
		return false, err
	}
	em := c.coord.registry.Mapping(kind)
	raw, err := c.coord.client.ExecuteQuery(ctx, em.IndexName, backend.SearchRequest{
		TypeName: em.TypeName,
		Filter:   backend.MatchAll(),
		Size:     0,
		From:     -1,
		IDsOnly:  true,
	})
	if err != nil {
		return false, err
	}

	consistent := uint64(len(stored)) == raw.Total
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.String("kind", kind),
			slog.Int("stored", len(stored)),
			slog.Uint64("indexed", raw.Total))
	}
	return consistent, nil
}
