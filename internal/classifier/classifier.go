// Package classifier decides, for each client request packet, whether
// the proxy can answer it from cache, must forward it upstream, or
// (for symmetry with the source's Action enum) should simply be
// dropped. It is grounded on VirtDBConnectionHandler::handle_request
// in the source proxy.
package classifier

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mevdschee/mysqlcacheproxy/internal/cache"
	"github.com/mevdschee/mysqlcacheproxy/internal/rules"
	"github.com/mevdschee/mysqlcacheproxy/internal/sqlmatch"
	"github.com/mevdschee/mysqlcacheproxy/internal/wire"
)

// Action is the classifier's verdict on a request packet.
type Action int

const (
	// Forward sends the packet upstream unchanged.
	Forward Action = iota
	// Drop discards the packet without forwarding or replying.
	Drop
	// Reply answers the client directly from the cache, without
	// talking to the upstream server at all.
	Reply
)

// Decision is the outcome of classifying one request packet.
type Decision struct {
	Action            Action
	ReplyBytes        []byte
	ShouldUpdateCache bool
	CacheKey          string
	TTL               time.Duration
}

// multiStatementSentinel is the raw byte pattern a stacked/multi-statement
// query embeds in its payload; such requests are never cached, since the
// classifier can't know which of several statements produced which rows.
var multiStatementSentinel = []byte{0, 0, 0, 3}

// Classify inspects one request packet and decides how the proxy
// should handle it. store may be nil (cache unreachable at startup);
// a nil store always forwards.
func Classify(ctx context.Context, pkt wire.Packet, table *rules.Table, store *cache.Client) Decision {
	opcode, ok := pkt.Opcode()
	if !ok || store == nil {
		return Decision{Action: Forward}
	}

	switch opcode {
	case wire.ComQuery:
		return classifyQuery(ctx, pkt.Payload()[1:], table, store)
	default:
		return Decision{Action: Forward}
	}
}

func classifyQuery(ctx context.Context, sqlBytes []byte, table *rules.Table, store *cache.Client) Decision {
	if bytes.Contains(sqlBytes, multiStatementSentinel) {
		return Decision{Action: Forward}
	}

	if !utf8.Valid(sqlBytes) {
		return Decision{Action: Forward}
	}

	sql := strings.TrimSpace(string(sqlBytes))
	upper := strings.ToUpper(sql)
	tokens := sqlmatch.FilterSignificant(sqlmatch.Tokenize(upper))
	if !startsWithSelect(tokens) {
		return Decision{Action: Forward}
	}

	rule, matched := table.Match(tokens)
	if !matched {
		return Decision{Action: Forward}
	}

	key := CacheKey(sql)

	exists, err := store.Exists(ctx, key)
	if err != nil || !exists {
		return Decision{Action: Forward, ShouldUpdateCache: true, CacheKey: key, TTL: rule.TTL}
	}

	value, ok, err := store.Get(ctx, key)
	if err != nil || !ok || len(value) == 0 {
		return Decision{Action: Forward, ShouldUpdateCache: true, CacheKey: key, TTL: rule.TTL}
	}

	return Decision{Action: Reply, ReplyBytes: value}
}

// CacheKey derives the cache key for a literal SQL string, matching
// the source proxy's `cache:"<sql>"` convention.
func CacheKey(sql string) string {
	return fmt.Sprintf("cache:%q", sql)
}

// startsWithSelect reports whether the first significant token (leading
// comments already stripped by FilterSignificant) is the word SELECT.
func startsWithSelect(tokens []sqlmatch.Token) bool {
	if len(tokens) == 0 {
		return false
	}
	return tokens[0].Kind == sqlmatch.Word && tokens[0].Value == "SELECT"
}
