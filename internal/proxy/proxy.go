// Package proxy wires the framer, classifier, cache and response
// capturer together into a running TCP proxy, one goroutine pair per
// connection. It is grounded on handle_client in the source proxy:
// a client-to-upstream goroutine that classifies and maybe
// short-circuits each request, and an upstream-to-client goroutine
// that accumulates bytes against whichever request produced them,
// handed off between the two over a size-1 channel.
package proxy

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mevdschee/mysqlcacheproxy/internal/cache"
	"github.com/mevdschee/mysqlcacheproxy/internal/capture"
	"github.com/mevdschee/mysqlcacheproxy/internal/classifier"
	"github.com/mevdschee/mysqlcacheproxy/internal/fingerprint"
	"github.com/mevdschee/mysqlcacheproxy/internal/logging"
	"github.com/mevdschee/mysqlcacheproxy/internal/metrics"
	"github.com/mevdschee/mysqlcacheproxy/internal/rules"
	"github.com/mevdschee/mysqlcacheproxy/internal/wire"
)

// Server accepts client connections and proxies each one to a single
// upstream MySQL server, consulting the rule table and cache along
// the way.
type Server struct {
	upstreamAddr string
	table        *rules.Table
	store        *cache.Client
	writer       *cache.Writer
	reporter     *metrics.Reporter
	log          *logging.Logger
}

// New builds a Server. store and writer may be nil if the cache is
// unreachable at startup: every request then just forwards.
func New(upstreamAddr string, table *rules.Table, store *cache.Client, writer *cache.Writer, reporter *metrics.Reporter, log *logging.Logger) *Server {
	return &Server{
		upstreamAddr: upstreamAddr,
		table:        table,
		store:        store,
		writer:       writer,
		reporter:     reporter,
		log:          log,
	}
}

// Serve accepts connections on ln until ctx is canceled or Accept
// fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, client net.Conn) {
	defer client.Close()

	upstream, err := net.Dial("tcp", s.upstreamAddr)
	if err != nil {
		s.log.Printf("dial upstream %s: %v", s.upstreamAddr, err)
		return
	}
	defer upstream.Close()

	handoff := make(chan capture.RequestContext, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(handoff)
		// Closing upstream ends the other half's blocking read.
		defer upstream.Close()
		s.clientToUpstream(ctx, client, upstream, handoff)
	}()
	go func() {
		defer wg.Done()
		// Closing client ends the other half's blocking read.
		defer client.Close()
		s.upstreamToClient(upstream, client, handoff)
	}()
	wg.Wait()
}

// clientToUpstream reads whole request packets from client, classifies
// each one, and either answers it directly from cache or forwards it
// upstream while handing the request's bookkeeping context to the
// response-capturing goroutine.
func (s *Server) clientToUpstream(ctx context.Context, client, upstream net.Conn, handoff chan<- capture.RequestContext) {
	framer := wire.NewFramer(client)
	for {
		pkt, err := framer.Next()
		if err != nil {
			return
		}

		opcode, hasOpcode := pkt.Opcode()
		start := time.Now()

		if !hasOpcode || opcode != wire.ComQuery {
			if _, err := upstream.Write(pkt); err != nil {
				return
			}
			continue
		}

		decision := classifier.Classify(ctx, pkt, s.table, s.store)
		switch decision.Action {
		case classifier.Reply:
			metrics.CacheHits.Inc()
			metrics.QueryTotal.WithLabelValues("true").Inc()
			if _, err := client.Write(decision.ReplyBytes); err != nil {
				return
			}
			continue
		case classifier.Drop:
			continue
		default:
			if decision.ShouldUpdateCache {
				metrics.CacheMisses.Inc()
			}
			metrics.QueryTotal.WithLabelValues("false").Inc()
		}

		reqCtx := capture.NewRequestContext(sqlFromPayload(pkt), decision, start)
		reqCtx.UpstreamStart = time.Now()

		select {
		case handoff <- reqCtx:
		case <-ctx.Done():
			return
		}

		if _, err := upstream.Write(pkt); err != nil {
			return
		}
	}
}

// upstreamToClient forwards raw bytes from upstream to client,
// accumulating them against whichever request context is currently
// pending and finalizing it (cache write + metric record) the moment
// the next one arrives.
func (s *Server) upstreamToClient(upstream io.Reader, client io.Writer, handoff <-chan capture.RequestContext) {
	cap := capture.New()
	buf := make([]byte, 32*1024)

	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			select {
			case next, ok := <-handoff:
				if ok {
					if finished, done := cap.Advance(next, time.Now()); done {
						s.finalize(finished)
					}
				}
			default:
			}

			cap.Append(buf[:n])
			if _, err := client.Write(buf[:n]); err != nil {
				return
			}
		}
		if readErr != nil {
			if finished, done := cap.Flush(time.Now()); done {
				s.finalize(finished)
			}
			return
		}
	}
}

func (s *Server) finalize(finished capture.FinishedResponse) {
	if finished.Ctx.SQL == "" {
		return
	}

	if finished.Ctx.ShouldUpdateCache && s.writer != nil && len(finished.Body) > 0 {
		s.writer.Enqueue(cache.WriteRequest{
			Key:   finished.Ctx.CacheKey,
			Value: finished.Body,
			TTL:   finished.Ctx.TTL,
		})
	}

	if s.reporter != nil && fingerprint.IsSelect(finished.Ctx.SQL) {
		s.reporter.Record(metrics.ExecLogRecord{
			SQL:           finished.Ctx.SQL,
			TotalDuration: finished.TotalDuration,
			MySQLDuration: finished.MySQLDuration,
			FromCache:     finished.Ctx.FromCache,
		})
	}

	label := "false"
	if finished.Ctx.FromCache {
		label = "true"
	}
	metrics.QueryLatency.WithLabelValues(label).Observe(finished.TotalDuration.Seconds())
}

func sqlFromPayload(pkt wire.Packet) string {
	payload := pkt.Payload()
	if len(payload) < 1 {
		return ""
	}
	return string(payload[1:])
}
