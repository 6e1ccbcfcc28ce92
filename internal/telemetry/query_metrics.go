// Package telemetry aggregates query statistics per entity kind and keeps
// them in the primary store's database. Nothing is reported externally.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/searchsync/internal/backend"
	"github.com/Aman-CERP/searchsync/internal/query"
)

// Clause names the top-level clause of a query filter.
type Clause string

const (
	ClauseMatchAll    Clause = "match_all"
	ClauseMatch       Clause = "match"
	ClauseTerm        Clause = "term"
	ClauseIDs         Clause = "ids"
	ClauseQueryString Clause = "query_string"
	ClauseRange       Clause = "range"
	ClauseBool        Clause = "bool"
	ClauseInvalid     Clause = "invalid"
)

// ClauseOf returns the clause f uses.
func ClauseOf(f backend.Filter) Clause {
	switch {
	case f.Validate() != nil:
		return ClauseInvalid
	case f.MatchAll:
		return ClauseMatchAll
	case f.Match != nil:
		return ClauseMatch
	case f.Term != nil:
		return ClauseTerm
	case f.IDs != nil:
		return ClauseIDs
	case f.QueryString != "":
		return ClauseQueryString
	case f.Range != nil:
		return ClauseRange
	default:
		return ClauseBool
	}
}

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

var stopWords = map[string]bool{"and": true, "not": true}

// ExtractTerms returns the lower-cased words of at least three letters
// that f searches for. Field names of query strings are dropped.
func ExtractTerms(f backend.Filter) []string {
	var terms []string
	add := func(text string) {
		for _, w := range strings.FieldsFunc(text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ':'
		}) {
			if i := strings.LastIndexByte(w, ':'); i >= 0 {
				w = w[i+1:]
			}
			w = strings.ToLower(w)
			if len(w) >= 3 && !stopWords[w] {
				terms = append(terms, w)
			}
		}
	}

	var walk func(f backend.Filter)
	walk = func(f backend.Filter) {
		switch {
		case f.Match != nil:
			add(f.Match.Value)
		case f.Term != nil:
			add(f.Term.Value)
		case f.QueryString != "":
			add(f.QueryString)
		case f.Bool != nil:
			for _, group := range [][]backend.Filter{f.Bool.Must, f.Bool.Should} {
				for _, sub := range group {
					walk(sub)
				}
			}
		}
	}
	walk(f)
	return terms
}

// Describe renders f compactly for the zero-result log.
func Describe(f backend.Filter) string {
	if f.QueryString != "" {
		return f.QueryString
	}
	data, err := json.Marshal(f.DSL())
	if err != nil {
		return string(ClauseOf(f))
	}
	return string(data)
}

// QueryEvent is one query as recorded by the collector.
type QueryEvent struct {
	Kind   string
	Clause Clause
	Text   string
	Terms  []string

	Hits   int
	Count  int
	Failed bool

	Latency   time.Duration
	Timestamp time.Time
}

// EventFromObservation converts a finished fetch into an event.
func EventFromObservation(o query.Observation) QueryEvent {
	return QueryEvent{
		Kind:      o.Kind,
		Clause:    ClauseOf(o.Filter),
		Text:      Describe(o.Filter),
		Terms:     ExtractTerms(o.Filter),
		Hits:      o.Hits,
		Count:     o.Count,
		Failed:    o.Err != nil,
		Latency:   o.Latency,
		Timestamp: time.Now(),
	}
}

// IsZeroResult reports whether a successful query produced no models.
func (e QueryEvent) IsZeroResult() bool {
	return !e.Failed && e.Count == 0
}

// HasHydrationGap reports whether the index returned ids the store no
// longer has.
func (e QueryEvent) HasHydrationGap() bool {
	return !e.Failed && e.Count < e.Hits
}

// KindStats are the counters kept per entity kind.
type KindStats struct {
	Queries       int64 `json:"queries"`
	ZeroResults   int64 `json:"zero_results"`
	Failures      int64 `json:"failures"`
	HydrationGaps int64 `json:"hydration_gaps"`
}

func (k *KindStats) add(o KindStats) {
	k.Queries += o.Queries
	k.ZeroResults += o.ZeroResults
	k.Failures += o.Failures
	k.HydrationGaps += o.HydrationGaps
}

// TermCount is a search term and how often it was used.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ZeroResult is a query that found nothing.
type ZeroResult struct {
	Kind  string    `json:"kind"`
	Query string    `json:"query"`
	At    time.Time `json:"at"`
}

// Snapshot is a copy of the collector's counters since it started.
type Snapshot struct {
	Kinds               map[string]KindStats    `json:"kinds"`
	Clauses             map[Clause]int64        `json:"clauses"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []ZeroResult            `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of queries that found nothing.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	var zero int64
	for _, k := range s.Kinds {
		zero += k.ZeroResults
	}
	return float64(zero) / float64(s.TotalQueries) * 100
}

// MetricsStore persists aggregated counters.
type MetricsStore interface {
	// SaveKindStats adds counts to the totals of date.
	SaveKindStats(date string, stats map[string]KindStats) error
	GetKindStats(from, to string) (map[string]KindStats, error)

	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)

	// AddZeroResultQueries appends queries, keeping only the newest.
	AddZeroResultQueries(queries []ZeroResult) error
	GetZeroResultQueries(limit int) ([]ZeroResult, error)

	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
}

// QueryMetricsConfig configures the collector.
type QueryMetricsConfig struct {
	TopTermsCapacity      int           // terms tracked in memory
	ZeroResultsCapacity   int           // zero-result queries kept in memory
	RecentQueriesCapacity int           // queries remembered for repeat detection
	FlushInterval         time.Duration // 0 disables the background flush
}

// DefaultQueryMetricsConfig returns the defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// pending holds what has been recorded since the last flush.
type pending struct {
	kinds     map[string]KindStats
	terms     map[string]int64
	zero      []ZeroResult
	latencies map[LatencyBucket]int64
}

func newPending() pending {
	return pending{
		kinds:     make(map[string]KindStats),
		terms:     make(map[string]int64),
		latencies: make(map[LatencyBucket]int64),
	}
}

func (p pending) empty() bool {
	return len(p.kinds) == 0 && len(p.terms) == 0 && len(p.zero) == 0 && len(p.latencies) == 0
}

// merge puts back counts a failed flush could not write.
func (p *pending) merge(o pending) {
	for k, v := range o.kinds {
		s := p.kinds[k]
		s.add(v)
		p.kinds[k] = s
	}
	for t, n := range o.terms {
		p.terms[t] += n
	}
	for b, n := range o.latencies {
		p.latencies[b] += n
	}
	p.zero = append(o.zero, p.zero...)
}

// QueryMetrics collects query telemetry. It implements query.Observer.
// Safe for concurrent use.
type QueryMetrics struct {
	mu     sync.Mutex
	config QueryMetricsConfig
	store  MetricsStore

	kinds         map[string]KindStats
	clauses       map[Clause]int64
	latencies     map[LatencyBucket]int64
	topTerms      *lru.Cache[string, int64]
	zeroResults   *CircularBuffer[ZeroResult]
	recentQueries *lru.Cache[string, struct{}]
	total         int64
	repeats       int64
	since         time.Time

	unflushed pending

	closed bool
	stopCh chan struct{}
	done   chan struct{}
}

// NewQueryMetrics returns a collector. store may be nil to keep counters
// in memory only.
func NewQueryMetrics(cfg QueryMetricsConfig, store MetricsStore) (*QueryMetrics, error) {
	def := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	topTerms, err := lru.New[string, int64](cfg.TopTermsCapacity)
	if err != nil {
		return nil, fmt.Errorf("create term cache: %w", err)
	}
	recent, err := lru.New[string, struct{}](cfg.RecentQueriesCapacity)
	if err != nil {
		return nil, fmt.Errorf("create recent query cache: %w", err)
	}

	m := &QueryMetrics{
		config:        cfg,
		store:         store,
		kinds:         make(map[string]KindStats),
		clauses:       make(map[Clause]int64),
		latencies:     make(map[LatencyBucket]int64),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[ZeroResult](cfg.ZeroResultsCapacity),
		recentQueries: recent,
		since:         time.Now(),
		unflushed:     newPending(),
	}

	if store != nil && cfg.FlushInterval > 0 {
		m.stopCh = make(chan struct{})
		m.done = make(chan struct{})
		go m.flushLoop(cfg.FlushInterval)
	}
	return m, nil
}

func (m *QueryMetrics) flushLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// ObserveQuery implements query.Observer.
func (m *QueryMetrics) ObserveQuery(o query.Observation) {
	m.Record(EventFromObservation(o))
}

// Record adds one query to the counters.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	delta := KindStats{Queries: 1}
	if event.Failed {
		delta.Failures = 1
	}
	if event.IsZeroResult() {
		delta.ZeroResults = 1
		zr := ZeroResult{Kind: event.Kind, Query: event.Text, At: event.Timestamp}
		m.zeroResults.Add(zr)
		m.unflushed.zero = append(m.unflushed.zero, zr)
	}
	if event.HasHydrationGap() {
		delta.HydrationGaps = 1
	}
	k := m.kinds[event.Kind]
	k.add(delta)
	m.kinds[event.Kind] = k
	u := m.unflushed.kinds[event.Kind]
	u.add(delta)
	m.unflushed.kinds[event.Kind] = u

	m.total++
	m.clauses[event.Clause]++

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.unflushed.latencies[bucket]++

	for _, term := range event.Terms {
		n, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, n+1)
		m.unflushed.terms[term]++
	}

	h := hashQuery(event.Kind, event.Text)
	if m.recentQueries.Contains(h) {
		m.repeats++
	}
	m.recentQueries.Add(h, struct{}{})
}

func hashQuery(kind, text string) string {
	sum := sha256.Sum256([]byte(kind + "\x00" + strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the counters recorded since the collector started.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, t := range m.topTerms.Keys() {
		if n, ok := m.topTerms.Peek(t); ok {
			terms = append(terms, TermCount{Term: t, Count: n})
		}
	}
	sortTerms(terms)

	return &Snapshot{
		Kinds:               maps.Clone(m.kinds),
		Clauses:             maps.Clone(m.clauses),
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: maps.Clone(m.latencies),
		TotalQueries:        m.total,
		ExactRepeatCount:    m.repeats,
		Since:               m.since,
	}
}

func sortTerms(terms []TermCount) {
	slices.SortStableFunc(terms, func(a, b TermCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Term, b.Term)
	})
}

// Flush writes the counts recorded since the previous flush. Counts that
// fail to write are kept for the next attempt.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	batch := m.unflushed
	m.unflushed = newPending()
	m.mu.Unlock()
	if batch.empty() {
		return nil
	}

	today := time.Now().Format("2006-01-02")
	err := m.store.SaveKindStats(today, batch.kinds)
	if err == nil {
		err = m.store.SaveLatencyCounts(today, batch.latencies)
	}
	if err == nil {
		err = m.store.UpsertTermCounts(batch.terms)
	}
	if err == nil {
		err = m.store.AddZeroResultQueries(batch.zero)
	}
	if err != nil {
		// Partial writes are possible; re-adding may double count them.
		m.mu.Lock()
		m.unflushed.merge(batch)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the background flush and flushes once more.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.stopCh != nil {
		close(m.stopCh)
		<-m.done
	}
	return m.Flush()
}

// Report is the persisted history of a date range.
type Report struct {
	Kinds               map[string]KindStats    `json:"kinds"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []ZeroResult            `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
}

// LoadReport reads the persisted counters for the last days days,
// including today, with at most limit terms and zero-result queries.
func LoadReport(store MetricsStore, days, limit int) (*Report, error) {
	if days < 1 {
		days = 1
	}
	now := time.Now()
	from := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
	to := now.Format("2006-01-02")

	kinds, err := store.GetKindStats(from, to)
	if err != nil {
		return nil, err
	}
	latencies, err := store.GetLatencyCounts(from, to)
	if err != nil {
		return nil, err
	}
	terms, err := store.GetTopTerms(limit)
	if err != nil {
		return nil, err
	}
	zero, err := store.GetZeroResultQueries(limit)
	if err != nil {
		return nil, err
	}
	return &Report{Kinds: kinds, TopTerms: terms, ZeroResultQueries: zero, LatencyDistribution: latencies}, nil
}
