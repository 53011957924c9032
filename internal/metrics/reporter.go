package metrics

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mevdschee/mysqlcacheproxy/internal/admin"
	"github.com/mevdschee/mysqlcacheproxy/internal/fingerprint"
	"github.com/mevdschee/mysqlcacheproxy/internal/logging"
)

// ExecLogRecord is one completed request/response cycle's timing,
// recorded by the proxy's connection handler for later aggregation.
type ExecLogRecord struct {
	SQL           string
	TotalDuration time.Duration
	MySQLDuration time.Duration
	RedisDuration time.Duration
	FromCache     bool
}

// Reporter batches ExecLogRecords and periodically aggregates them by
// SQL fingerprint, posting the result to the admin service. Record is
// safe to call from any connection-handling goroutine.
type Reporter struct {
	mu       sync.Mutex
	records  []ExecLogRecord
	client   *admin.Client
	port     uint16
	interval time.Duration
	log      *logging.Logger
}

// NewReporter returns a Reporter that flushes every interval (default
// 5s, matching the source's fixed cadence) to client.
func NewReporter(client *admin.Client, port uint16, interval time.Duration, log *logging.Logger) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reporter{client: client, port: port, interval: interval, log: log}
}

// Record appends one completed request's timing to the batch.
func (r *Reporter) Record(rec ExecLogRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// Run flushes the batch on every tick until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *Reporter) flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.records
	r.records = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	rows := aggregate(batch)
	for i := range rows {
		rows[i].DBServerPort = strconv.FormatUint(uint64(r.port), 10)
	}
	if err := r.client.ReportMetrics(ctx, rows); err != nil {
		r.log.Printf("report metrics failed: %v", err)
	}
}

// aggregate groups records by their SQL fingerprint and computes the
// avg/min/max/exec_count/cache_hit_count bucket the admin service
// expects, mirroring enable_metric_writing_job's group_by pipeline.
func aggregate(records []ExecLogRecord) []admin.MetricHistoryRow {
	type bucket struct {
		sum       time.Duration
		max       time.Duration
		min       time.Duration
		count     int
		cacheHits int
	}
	buckets := make(map[string]*bucket)
	var order []string

	for _, rec := range records {
		key := fingerprint.Fingerprint(rec.SQL)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{min: rec.TotalDuration}
			buckets[key] = b
			order = append(order, key)
		}
		b.sum += rec.TotalDuration
		b.count++
		if rec.TotalDuration > b.max {
			b.max = rec.TotalDuration
		}
		if rec.TotalDuration < b.min {
			b.min = rec.TotalDuration
		}
		if rec.FromCache {
			b.cacheHits++
		}
	}

	sort.Strings(order)

	now := time.Now().Unix()
	rows := make([]admin.MetricHistoryRow, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		rows = append(rows, admin.MetricHistoryRow{
			SQLStr:        key,
			AvgDuration:   int64(b.sum/time.Duration(b.count)) / int64(time.Millisecond),
			MaxDuration:   int64(b.max / time.Millisecond),
			MinDuration:   int64(b.min / time.Millisecond),
			ExecCount:     b.count,
			CacheHitCount: b.cacheHits,
			CreatedAt:     now,
		})
	}
	return rows
}
