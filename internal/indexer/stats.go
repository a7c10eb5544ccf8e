package indexer

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/doppelganger/personaprep/internal/filter"
	"github.com/doppelganger/personaprep/pkg/telemetry"
)

// Snapshot is a point-in-time copy of the run statistics
type Snapshot struct {
	RowsSeen          int64            `json:"rows_seen"`
	MalformedRows     int64            `json:"malformed_rows"`
	Posts             int64            `json:"posts"`
	Replies           int64            `json:"replies"`
	PostsRetained     int64            `json:"posts_retained"`
	DuplicatePosts    int64            `json:"duplicate_posts"`
	Rejections        map[string]int64 `json:"rejections"`
	Users             int64            `json:"users"`
	IndexedMessages   int64            `json:"indexed_messages"`
	CandidateThreads  int64            `json:"threads_before_root_filter"`
	Threads           int64            `json:"threads_after_root_filter"`
	RootlessThreads   int64            `json:"rootless_threads"`
	DroppedThreads    int64            `json:"dropped_threads"`
	UndersizedThreads int64            `json:"undersized_threads"`
	AssemblyErrors    int64            `json:"assembly_errors"`
	ThreadMessages    int64            `json:"thread_messages"`
	MinThreadSize     int              `json:"min_thread_size"`
	MaxThreadSize     int              `json:"max_thread_size"`
	AvgThreadSize     float64          `json:"avg_thread_size"`
}

// RetentionRate is the share of posts that passed the quality filter
func (s Snapshot) RetentionRate() float64 {
	if s.Posts == 0 {
		return 0
	}
	return float64(s.PostsRetained) / float64(s.Posts)
}

// StatsCollector accumulates run counters. Counters only grow; the average
// thread size is derived when a snapshot is taken.
type StatsCollector struct {
	mu sync.Mutex
	s  Snapshot

	rows       metric.Int64Counter
	rejections metric.Int64Counter
	threads    metric.Int64Counter
}

// NewStatsCollector creates a collector whose counters are mirrored into the
// installed otel meter provider
func NewStatsCollector() *StatsCollector {
	c := &StatsCollector{s: Snapshot{Rejections: make(map[string]int64)}}

	meter := telemetry.Meter()
	c.rows, _ = meter.Int64Counter("personaprep.rows",
		metric.WithDescription("Source rows read, by outcome"))
	c.rejections, _ = meter.Int64Counter("personaprep.filter.rejections",
		metric.WithDescription("Posts rejected by the quality filter, by reason"))
	c.threads, _ = meter.Int64Counter("personaprep.threads",
		metric.WithDescription("Candidate threads, by outcome"))
	return c
}

func (c *StatsCollector) add(counter metric.Int64Counter, n int64, key, value string) {
	if counter == nil || n == 0 {
		return
	}
	counter.Add(context.Background(), n, metric.WithAttributes(attribute.String(key, value)))
}

// RecordRows counts source rows read and rows skipped as malformed
func (c *StatsCollector) RecordRows(read, malformed int) {
	c.mu.Lock()
	c.s.RowsSeen += int64(read + malformed)
	c.s.MalformedRows += int64(malformed)
	c.mu.Unlock()
	c.add(c.rows, int64(read), "outcome", "read")
	c.add(c.rows, int64(malformed), "outcome", "malformed")
}

// RecordPartition counts rows routed to each table
func (c *StatsCollector) RecordPartition(posts, replies int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Posts += int64(posts)
	c.s.Replies += int64(replies)
}

// RecordVerdict counts one quality filter decision on a post. Accepted
// posts are counted by RecordRetained once deduplicated.
func (c *StatsCollector) RecordVerdict(v filter.Verdict) {
	if v.Accepted {
		return
	}
	c.mu.Lock()
	c.s.Rejections[string(v.Reason)]++
	c.mu.Unlock()
	c.add(c.rejections, 1, "reason", string(v.Reason))
}

// RecordRetained counts accepted posts written out and accepted posts
// dropped because their id was already retained
func (c *StatsCollector) RecordRetained(kept, duplicates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.PostsRetained += int64(kept)
	c.s.DuplicatePosts += int64(duplicates)
}

// RecordUsers sets the number of grouped authors
func (c *StatsCollector) RecordUsers(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Users = n
}

// RecordIndexed counts messages added to the thread index
func (c *StatsCollector) RecordIndexed(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.IndexedMessages += n
}

// RecordCandidate counts a thread discovered in the index
func (c *StatsCollector) RecordCandidate() {
	c.mu.Lock()
	c.s.CandidateThreads++
	c.mu.Unlock()
	c.add(c.threads, 1, "outcome", "candidate")
}

// RecordThread counts an emitted thread of the given size
func (c *StatsCollector) RecordThread(size int, rootless bool) {
	c.mu.Lock()
	c.s.Threads++
	c.s.ThreadMessages += int64(size)
	if rootless {
		c.s.RootlessThreads++
	}
	if c.s.MinThreadSize == 0 || size < c.s.MinThreadSize {
		c.s.MinThreadSize = size
	}
	if size > c.s.MaxThreadSize {
		c.s.MaxThreadSize = size
	}
	c.mu.Unlock()
	c.add(c.threads, 1, "outcome", "emitted")
}

// RecordDropped counts a thread dropped by the root policy
func (c *StatsCollector) RecordDropped() {
	c.mu.Lock()
	c.s.DroppedThreads++
	c.mu.Unlock()
	c.add(c.threads, 1, "outcome", "dropped")
}

// RecordUndersized counts a thread that ended below the minimum size
func (c *StatsCollector) RecordUndersized() {
	c.mu.Lock()
	c.s.UndersizedThreads++
	c.mu.Unlock()
	c.add(c.threads, 1, "outcome", "undersized")
}

// RecordAssemblyError counts a thread skipped because assembly failed
func (c *StatsCollector) RecordAssemblyError() {
	c.mu.Lock()
	c.s.AssemblyErrors++
	c.mu.Unlock()
	c.add(c.threads, 1, "outcome", "error")
}

// Snapshot returns a copy of the counters with the average computed now
func (c *StatsCollector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.s
	s.Rejections = make(map[string]int64, len(c.s.Rejections))
	for k, v := range c.s.Rejections {
		s.Rejections[k] = v
	}
	if s.Threads > 0 {
		s.AvgThreadSize = float64(s.ThreadMessages) / float64(s.Threads)
	}
	return s
}
