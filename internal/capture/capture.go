// Package capture implements the response-side half of the proxy: it
// watches bytes flowing from the upstream server back to the client,
// accumulates them against whichever request produced them, and hands
// off a finished response once the next request's context arrives.
// This mirrors the remote_to_client loop in the source proxy, which
// holds one "cached_ctx"/"cached_buf" pair at a time and finalizes it
// only when a new context shows up on its mpsc channel.
package capture

import (
	"time"

	"github.com/mevdschee/mysqlcacheproxy/internal/classifier"
)

// RequestContext is the scratch state handed from the client-facing
// goroutine to the response capturer for one request, mirroring the
// source's ProxyContext.
type RequestContext struct {
	SQL               string
	ShouldUpdateCache bool
	CacheKey          string
	TTL               time.Duration
	StartTime         time.Time
	UpstreamStart     time.Time
	FromCache         bool
	CacheLookupTook   time.Duration
}

// NewRequestContext builds the context for a forwarded request from a
// classifier decision.
func NewRequestContext(sql string, d classifier.Decision, start time.Time) RequestContext {
	return RequestContext{
		SQL:               sql,
		ShouldUpdateCache: d.ShouldUpdateCache,
		CacheKey:          d.CacheKey,
		TTL:               d.TTL,
		StartTime:         start,
	}
}

// FinishedResponse is a request/response pair ready for cache-write
// and metric-emission handling.
type FinishedResponse struct {
	Ctx           RequestContext
	Body          []byte
	MySQLDuration time.Duration
	TotalDuration time.Duration
}

// Capturer accumulates upstream bytes against the one in-flight
// request they belong to. It is not safe for concurrent use: a single
// Capturer is owned by one connection's upstream-reading goroutine.
type Capturer struct {
	pending *RequestContext
	buf     []byte
}

// New returns an empty Capturer.
func New() *Capturer {
	return &Capturer{}
}

// Advance is called once per request context received from the
// client-facing goroutine (on its own handoff channel). If a previous
// request was pending, it is finalized and returned; the new context
// becomes the pending one with an empty buffer.
func (c *Capturer) Advance(next RequestContext, now time.Time) (FinishedResponse, bool) {
	if c.pending == nil {
		pending := next
		c.pending = &pending
		c.buf = nil
		return FinishedResponse{}, false
	}

	finished := c.finalize(now)
	pending := next
	c.pending = &pending
	c.buf = nil
	return finished, true
}

// Append feeds bytes read from the upstream connection into whichever
// request is currently pending. It is a no-op if no request is
// pending yet (the handshake, or bytes arriving before the first
// request context).
func (c *Capturer) Append(b []byte) {
	if c.pending == nil || !c.pending.ShouldUpdateCache {
		return
	}
	c.buf = append(c.buf, b...)
}

// Flush finalizes whatever is currently pending, for use when the
// connection is closing and no further request context will arrive.
func (c *Capturer) Flush(now time.Time) (FinishedResponse, bool) {
	if c.pending == nil {
		return FinishedResponse{}, false
	}
	return c.finalize(now), true
}

func (c *Capturer) finalize(now time.Time) FinishedResponse {
	ctx := *c.pending
	body := c.buf
	return FinishedResponse{
		Ctx:           ctx,
		Body:          body,
		MySQLDuration: now.Sub(ctx.UpstreamStart),
		TotalDuration: now.Sub(ctx.StartTime),
	}
}
