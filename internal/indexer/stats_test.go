package indexer

import (
	"testing"

	"github.com/doppelganger/personaprep/internal/filter"
)

func TestStatsSnapshotEmpty(t *testing.T) {
	s := NewStatsCollector().Snapshot()
	if s.AvgThreadSize != 0 || s.MinThreadSize != 0 || s.RetentionRate() != 0 {
		t.Errorf("empty snapshot = %+v", s)
	}
}

func TestStatsCollector(t *testing.T) {
	c := NewStatsCollector()
	c.RecordRows(10, 2)
	c.RecordPartition(6, 4)
	c.RecordVerdict(filter.Verdict{Accepted: true})
	c.RecordVerdict(filter.Verdict{Accepted: true})
	c.RecordVerdict(filter.Verdict{Reason: filter.ReasonURL})
	c.RecordVerdict(filter.Verdict{Reason: filter.ReasonURL})
	c.RecordVerdict(filter.Verdict{Reason: filter.ReasonLanguage})
	c.RecordVerdict(filter.Verdict{Accepted: true})
	c.RecordRetained(3, 1)
	c.RecordUsers(2)
	c.RecordCandidate()
	c.RecordCandidate()
	c.RecordCandidate()
	c.RecordThread(2, false)
	c.RecordThread(5, true)
	c.RecordDropped()

	s := c.Snapshot()
	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"rows seen", s.RowsSeen, 12},
		{"malformed", s.MalformedRows, 2},
		{"posts", s.Posts, 6},
		{"replies", s.Replies, 4},
		{"retained", s.PostsRetained, 3},
		{"duplicates", s.DuplicatePosts, 1},
		{"users", s.Users, 2},
		{"url rejections", s.Rejections[string(filter.ReasonURL)], 2},
		{"language rejections", s.Rejections[string(filter.ReasonLanguage)], 1},
		{"candidates", s.CandidateThreads, 3},
		{"threads", s.Threads, 2},
		{"rootless", s.RootlessThreads, 1},
		{"dropped", s.DroppedThreads, 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
	if s.MinThreadSize != 2 || s.MaxThreadSize != 5 || s.AvgThreadSize != 3.5 {
		t.Errorf("thread sizes min=%d max=%d avg=%v, want 2 5 3.5", s.MinThreadSize, s.MaxThreadSize, s.AvgThreadSize)
	}
	if s.RetentionRate() != 0.5 {
		t.Errorf("RetentionRate() = %v, want 0.5", s.RetentionRate())
	}

	// snapshots are copies
	s.Rejections["url"] = 100
	if c.Snapshot().Rejections["url"] != 2 {
		t.Error("Snapshot() should not share the rejection map")
	}
}
