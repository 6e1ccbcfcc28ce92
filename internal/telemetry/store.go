package telemetry

import (
	"database/sql"
	"fmt"
)

// maxZeroResultRows bounds the persisted zero-result log.
const maxZeroResultRows = 100

// SQLiteMetricsStore implements MetricsStore on a shared SQLite database.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore creates the telemetry tables in db if needed.
// db stays owned by the caller.
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteMetricsStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_kind_stats (
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		queries INTEGER NOT NULL DEFAULT 0,
		zero_results INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		hydration_gaps INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, kind)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		query TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *SQLiteMetricsStore) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SaveKindStats implements MetricsStore.
func (s *SQLiteMetricsStore) SaveKindStats(date string, stats map[string]KindStats) error {
	if len(stats) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO query_kind_stats (date, kind, queries, zero_results, failures, hydration_gaps)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(date, kind) DO UPDATE SET
				queries = queries + excluded.queries,
				zero_results = zero_results + excluded.zero_results,
				failures = failures + excluded.failures,
				hydration_gaps = hydration_gaps + excluded.hydration_gaps
		`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for kind, k := range stats {
			if _, err := stmt.Exec(date, kind, k.Queries, k.ZeroResults, k.Failures, k.HydrationGaps); err != nil {
				return fmt.Errorf("save stats of %s: %w", kind, err)
			}
		}
		return nil
	})
}

// GetKindStats implements MetricsStore.
func (s *SQLiteMetricsStore) GetKindStats(from, to string) (map[string]KindStats, error) {
	rows, err := s.db.Query(`
		SELECT kind, SUM(queries), SUM(zero_results), SUM(failures), SUM(hydration_gaps)
		FROM query_kind_stats
		WHERE date >= ? AND date <= ?
		GROUP BY kind
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query kind stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]KindStats)
	for rows.Next() {
		var kind string
		var k KindStats
		if err := rows.Scan(&kind, &k.Queries, &k.ZeroResults, &k.Failures, &k.HydrationGaps); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[kind] = k
	}
	return out, rows.Err()
}

// UpsertTermCounts implements MetricsStore.
func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO query_terms (term, count, last_seen)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(term) DO UPDATE SET
				count = count + excluded.count,
				last_seen = CURRENT_TIMESTAMP
		`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for term, n := range terms {
			if _, err := stmt.Exec(term, n); err != nil {
				return fmt.Errorf("upsert term count: %w", err)
			}
		}
		return nil
	})
}

// GetTopTerms implements MetricsStore.
func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count FROM query_terms
		ORDER BY count DESC, term
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQueries implements MetricsStore.
func (s *SQLiteMetricsStore) AddZeroResultQueries(queries []ZeroResult) error {
	if len(queries) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		for _, q := range queries {
			if _, err := tx.Exec(`INSERT INTO zero_result_queries (kind, query, timestamp) VALUES (?, ?, ?)`,
				q.Kind, q.Query, q.At.UTC()); err != nil {
				return fmt.Errorf("insert zero-result query: %w", err)
			}
		}
		_, err := tx.Exec(`
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)
		`, maxZeroResultRows)
		if err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
		return nil
	})
}

// GetZeroResultQueries implements MetricsStore. Newest first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]ZeroResult, error) {
	rows, err := s.db.Query(`
		SELECT kind, query, timestamp FROM zero_result_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var out []ZeroResult
	for rows.Next() {
		var zr ZeroResult
		if err := rows.Scan(&zr.Kind, &zr.Query, &zr.At); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, zr)
	}
	return out, rows.Err()
}

// SaveLatencyCounts implements MetricsStore.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO query_latency_stats (date, bucket, count)
			VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
		`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for bucket, n := range counts {
			if _, err := stmt.Exec(date, string(bucket), n); err != nil {
				return fmt.Errorf("insert latency count: %w", err)
			}
		}
		return nil
	})
}

// GetLatencyCounts implements MetricsStore.
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	out := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var n int64
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[LatencyBucket(bucket)] = n
	}
	return out, rows.Err()
}
