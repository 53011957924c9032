package rules

import (
	"testing"
	"time"

	"github.com/mevdschee/mysqlcacheproxy/internal/logging"
	"github.com/mevdschee/mysqlcacheproxy/internal/sqlmatch"
)

func TestTable_MatchFindsRule(t *testing.T) {
	table := NewTable(logging.New("rules"))
	template := "SELECT * FROM article WHERE article_id = ?"
	table.Replace([]CacheRule{
		{
			ID:       1,
			Template: template,
			Tokens:   sqlmatch.FilterSignificant(sqlmatch.Tokenize(template)),
			TTL:      60 * time.Second,
		},
	})

	query := sqlmatch.FilterSignificant(sqlmatch.Tokenize("SELECT * FROM article WHERE article_id = 42"))
	rule, ok := table.Match(query)
	if !ok {
		t.Fatal("Match() = false, want true")
	}
	if rule.ID != 1 {
		t.Errorf("Match() returned rule %d, want 1", rule.ID)
	}
}

func TestTable_MatchNoRules(t *testing.T) {
	table := NewTable(logging.New("rules"))
	query := sqlmatch.FilterSignificant(sqlmatch.Tokenize("SELECT 1"))
	if _, ok := table.Match(query); ok {
		t.Error("Match() on empty table = true, want false")
	}
}

func TestTable_SnapshotIsACopy(t *testing.T) {
	table := NewTable(logging.New("rules"))
	table.Replace([]CacheRule{{ID: 1, Template: "SELECT 1"}})

	snap := table.Snapshot()
	snap[0].ID = 99

	if got, _ := table.Match(nil); got.ID == 99 {
		t.Error("mutating Snapshot() result affected the table")
	}
}
