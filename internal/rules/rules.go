// Package rules holds the cache rule table: the set of `?`-templated
// SQL patterns the proxy is allowed to cache, each with its own TTL.
// The table is refreshed periodically from an external MySQL table and
// published as a single read-mostly snapshot, the way replica.Pool
// publishes its replica list under a RWMutex.
package rules

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mevdschee/mysqlcacheproxy/internal/logging"
	"github.com/mevdschee/mysqlcacheproxy/internal/metrics"
	"github.com/mevdschee/mysqlcacheproxy/internal/sqlmatch"
)

// MinTTL is the floor applied to every rule's duration: nothing is
// ever cached for less than this, matching the source proxy's own
// cache-TTL clamp.
const MinTTL = 60 * time.Second

// CacheRule is one row of the cache_config table: a SQL template with
// `?` placeholders and how long a match should live in the cache.
type CacheRule struct {
	ID       int64
	Template string
	Tokens   []sqlmatch.Token // FilterSignificant(Tokenize(strings.ToUpper(Template))), precomputed once
	TTL      time.Duration
	Name     string
}

// Table is a process-wide snapshot of enabled cache rules, swapped
// atomically on refresh so request-handling goroutines never block on
// the refresh loop.
type Table struct {
	mu    sync.RWMutex
	rules []CacheRule
	log   *logging.Logger
}

// NewTable returns an empty table. Match finds nothing until rules are
// published into it with Replace (which a running Refresher does).
func NewTable(log *logging.Logger) *Table {
	return &Table{log: log}
}

// Match returns the first rule whose template matches query's filtered
// tokens, or ok=false if nothing matches. The rule's TTL is used as
// stored; the MinTTL floor is applied when the Refresher loads rules.
func (t *Table) Match(query []sqlmatch.Token) (rule CacheRule, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.rules {
		if sqlmatch.Match(r.Tokens, query) {
			return r, true
		}
	}
	return CacheRule{}, false
}

// Snapshot returns a copy of the current rule list, for diagnostics.
func (t *Table) Snapshot() []CacheRule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]CacheRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Replace swaps in a whole new rule list in one atomic step. Refresher
// is the production caller; tests may also call it directly to seed a
// table without standing up a meta database.
func (t *Table) Replace(rules []CacheRule) {
	t.mu.Lock()
	t.rules = rules
	t.mu.Unlock()
}

// Refresher polls the meta database's cache_config table and publishes
// new snapshots into a Table on an interval, the way meta.rs's
// enable_meta_refresh_job polls on a background thread.
type Refresher struct {
	db       *sql.DB
	table    *Table
	interval time.Duration
	log      *logging.Logger
}

// NewRefresher opens (lazily; database/sql defers the real dial) a
// connection to the meta database described by dsn.
func NewRefresher(dsn string, interval time.Duration, table *Table, log *logging.Logger) (*Refresher, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("rules: open meta db: %w", err)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{db: db, table: table, interval: interval, log: log}, nil
}

// Close releases the meta database connection pool.
func (r *Refresher) Close() error {
	return r.db.Close()
}

// Run refreshes the table immediately, then on every tick, until ctx is
// canceled. It logs and keeps the previous snapshot on a failed poll
// rather than clearing the table.
func (r *Refresher) Run(ctx context.Context) {
	r.refreshOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce(ctx)
		}
	}
}

func (r *Refresher) refreshOnce(ctx context.Context) {
	rules, err := r.loadRules(ctx)
	if err != nil {
		r.log.Printf("refresh failed, keeping previous rule set: %v", err)
		return
	}
	r.table.Replace(rules)
	metrics.RuleCount.Set(float64(len(rules)))
	r.log.Printf("refreshed %d cache rule(s)", len(rules))
}

func (r *Refresher) loadRules(ctx context.Context) ([]CacheRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, sql_template, duration FROM cache_config WHERE enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("query cache_config: %w", err)
	}
	defer rows.Close()

	var out []CacheRule
	for rows.Next() {
		var (
			id           int64
			template     string
			durationSecs int64
		)
		if err := rows.Scan(&id, &template, &durationSecs); err != nil {
			return nil, fmt.Errorf("scan cache_config row: %w", err)
		}
		ttl := time.Duration(durationSecs) * time.Second
		if ttl < MinTTL {
			ttl = MinTTL
		}
		out = append(out, CacheRule{
			ID:       id,
			Template: template,
			Tokens:   sqlmatch.FilterSignificant(sqlmatch.Tokenize(strings.ToUpper(template))),
			TTL:      ttl,
		})
	}
	return out, rows.Err()
}
