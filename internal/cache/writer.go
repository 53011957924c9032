package cache

import (
	"context"
	"time"

	"github.com/mevdschee/mysqlcacheproxy/internal/logging"
)

// WriteRequest is one deferred cache write: a captured response body
// to store once the hot path has already returned it to the client.
type WriteRequest struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Writer drains a queue of WriteRequests on its own goroutine so a
// slow SET never blocks response capture, mirroring the source
// proxy's enable_cache_task_handle_job background thread.
type Writer struct {
	client *Client
	queue  chan WriteRequest
	log    *logging.Logger
}

// NewWriter creates a Writer with the given queue depth. A full queue
// makes Enqueue drop the write rather than block the caller; a dropped
// write just means that response stays uncached until the next match.
func NewWriter(client *Client, queueDepth int, log *logging.Logger) *Writer {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	return &Writer{
		client: client,
		queue:  make(chan WriteRequest, queueDepth),
		log:    log,
	}
}

// Enqueue submits a write without blocking. It returns false if the
// queue was full and the write was dropped.
func (w *Writer) Enqueue(req WriteRequest) bool {
	select {
	case w.queue <- req:
		return true
	default:
		w.log.Printf("cache write queue full, dropping write for key %q", req.Key)
		return false
	}
}

// Run drains the queue until ctx is canceled, performing each SET with
// its own short-lived context so one slow write can't wedge the loop
// forever.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.queue:
			w.write(req)
		}
	}
}

func (w *Writer) write(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.SetWithTTL(ctx, req.Key, req.Value, req.TTL); err != nil {
		w.log.Printf("deferred cache write failed: %v", err)
	}
}
