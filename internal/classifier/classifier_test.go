package classifier

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	cachepkg "github.com/mevdschee/mysqlcacheproxy/internal/cache"
	"github.com/mevdschee/mysqlcacheproxy/internal/logging"
	"github.com/mevdschee/mysqlcacheproxy/internal/rules"
	"github.com/mevdschee/mysqlcacheproxy/internal/sqlmatch"
	"github.com/mevdschee/mysqlcacheproxy/internal/wire"
)

func newHarness(t *testing.T, template string) (*rules.Table, *cachepkg.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := cachepkg.New(mr.Addr())
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	table := rules.NewTable(logging.New("rules"))
	if template != "" {
		rule := rules.CacheRule{
			ID:       1,
			Template: template,
			Tokens:   sqlmatch.FilterSignificant(sqlmatch.Tokenize(strings.ToUpper(template))),
			TTL:      time.Minute,
		}
		table.Replace([]rules.CacheRule{rule})
	}
	return table, store
}

func queryPacket(sql string) wire.Packet {
	payload := append([]byte{wire.ComQuery}, []byte(sql)...)
	pkt := make(wire.Packet, wire.HeaderLen+len(payload))
	copy(pkt[wire.HeaderLen:], payload)
	return pkt
}

func TestClassify_NoRuleMatchForwards(t *testing.T) {
	table, store := newHarness(t, "")
	d := Classify(context.Background(), queryPacket("SELECT * FROM t WHERE id = 1"), table, store)
	if d.Action != Forward {
		t.Errorf("Action = %v, want Forward", d.Action)
	}
}

func TestClassify_NonSelectForwards(t *testing.T) {
	table, store := newHarness(t, "")
	d := Classify(context.Background(), queryPacket("UPDATE t SET x = 1"), table, store)
	if d.Action != Forward {
		t.Errorf("Action = %v, want Forward", d.Action)
	}
}

func TestClassify_MultiStatementSentinelForwards(t *testing.T) {
	table, store := newHarness(t, "SELECT * FROM t WHERE id = ?")
	sql := "SELECT * FROM t WHERE id = 1\x00\x00\x00\x03SELECT 2"
	d := Classify(context.Background(), queryPacket(sql), table, store)
	if d.Action != Forward {
		t.Errorf("Action = %v, want Forward", d.Action)
	}
}

func TestClassify_MatchedRuleCacheMissMarksUpdate(t *testing.T) {
	table, store := newHarness(t, "SELECT * FROM t WHERE id = ?")
	d := Classify(context.Background(), queryPacket("SELECT * FROM t WHERE id = 1"), table, store)
	if d.Action != Forward || !d.ShouldUpdateCache {
		t.Errorf("got %+v, want Forward with ShouldUpdateCache", d)
	}
	if d.CacheKey == "" {
		t.Error("CacheKey is empty")
	}
}

func TestClassify_LeadingCommentStillMatchesSelect(t *testing.T) {
	table, store := newHarness(t, "SELECT * FROM t WHERE id = ?")
	sql := "-- hint\nSELECT * FROM t WHERE id = 1"
	d := Classify(context.Background(), queryPacket(sql), table, store)
	if d.Action != Forward || !d.ShouldUpdateCache {
		t.Errorf("got %+v, want Forward with ShouldUpdateCache", d)
	}
}

func TestClassify_CaseInsensitiveMatch(t *testing.T) {
	table, store := newHarness(t, "SELECT * FROM t WHERE id = ?")
	d := Classify(context.Background(), queryPacket("select * from t where id = 1"), table, store)
	if d.Action != Forward || !d.ShouldUpdateCache {
		t.Errorf("got %+v, want Forward with ShouldUpdateCache", d)
	}
}

func TestClassify_InvalidUTF8Forwards(t *testing.T) {
	table, store := newHarness(t, "SELECT * FROM t WHERE id = ?")
	payload := append([]byte{wire.ComQuery}, []byte("SELECT * FROM t WHERE id = ")...)
	payload = append(payload, 0xff, 0xfe)
	pkt := make(wire.Packet, wire.HeaderLen+len(payload))
	copy(pkt[wire.HeaderLen:], payload)
	d := Classify(context.Background(), pkt, table, store)
	if d.Action != Forward || d.ShouldUpdateCache {
		t.Errorf("got %+v, want plain Forward", d)
	}
}

func TestClassify_MatchedRuleCacheHitReplies(t *testing.T) {
	table, store := newHarness(t, "SELECT * FROM t WHERE id = ?")
	key := CacheKey("SELECT * FROM t WHERE id = 1")
	if err := store.SetWithTTL(context.Background(), key, []byte("cached-response"), time.Minute); err != nil {
		t.Fatalf("SetWithTTL() error = %v", err)
	}
	d := Classify(context.Background(), queryPacket("SELECT * FROM t WHERE id = 1"), table, store)
	if d.Action != Reply {
		t.Fatalf("Action = %v, want Reply", d.Action)
	}
	if string(d.ReplyBytes) != "cached-response" {
		t.Errorf("ReplyBytes = %q", d.ReplyBytes)
	}
}
