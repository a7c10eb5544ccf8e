package dataset

import (
	"errors"
	"testing"

	"github.com/doppelganger/personaprep/internal/indexer"
	"github.com/doppelganger/personaprep/internal/models"
	"github.com/doppelganger/personaprep/internal/output"
)

func member(id, target, author string) models.ThreadMember {
	m := models.ThreadMember{ID: id, AuthorID: author, CreatedAt: "2018-10-10 20:00:0" + id, Text: "text " + id}
	if target != "" {
		m.ReplyTargetID = &target
	}
	return m
}

func writeDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	l := output.Layout{Dir: dir, Prefix: "processed"}

	users, err := output.CreateObject(l.UsersPath(), false)
	if err != nil {
		t.Fatalf("CreateObject() error = %v", err)
	}
	_ = users.WriteEntry("A", []models.PostSummary{{ID: "1", Text: "one"}, {ID: "4", Text: "four"}, {ID: "5", Text: "five"}})
	_ = users.WriteEntry("B", []models.PostSummary{{ID: "7", Text: "seven"}})
	if err := users.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	convs, err := output.CreateObject(l.ConversationsPath(), true)
	if err != nil {
		t.Fatalf("CreateObject() error = %v", err)
	}
	_ = convs.WriteEntry("9", []models.ThreadMember{member("2", "9", "B"), member("3", "9", "A")})
	_ = convs.WriteEntry("1", []models.ThreadMember{member("1", "", "A"), member("2", "1", "B"), member("3", "1", "C"), member("4", "2", "A")})
	if err := convs.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	if err := output.WriteJSONFileAtomic(l.StatsPath(), indexer.Snapshot{Threads: 2, AvgThreadSize: 3}, true); err != nil {
		t.Fatalf("WriteJSONFileAtomic() error = %v", err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	d, err := Load(writeDataset(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if users := d.Users(); len(users) != 2 || users[0] != "A" {
		t.Errorf("Users() = %v, want [A B]", users)
	}
	if d.ThreadCount() != 2 {
		t.Errorf("ThreadCount() = %d, want 2", d.ThreadCount())
	}
	s, err := d.Stats()
	if err != nil || s.Threads != 2 {
		t.Errorf("Stats() = %+v, %v", s, err)
	}
}

func TestLoadEmptyDir(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load() should fail without a dataset")
	}
}

func TestPosts(t *testing.T) {
	d, err := Load(writeDataset(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		author string
		n      int
		want   int
	}{
		{"A", 2, 2},
		{"A", 0, 3},
		{"A", 10, 3},
		{"B", 1, 1},
	}
	for _, tt := range tests {
		posts, err := d.Posts(tt.author, tt.n)
		if err != nil {
			t.Fatalf("Posts(%q, %d) error = %v", tt.author, tt.n, err)
		}
		if len(posts) != tt.want {
			t.Errorf("Posts(%q, %d) returned %d posts, want %d", tt.author, tt.n, len(posts), tt.want)
		}
	}
	if _, err := d.Posts("nobody", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Posts(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestConversations(t *testing.T) {
	d, err := Load(writeDataset(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	convs, err := d.Conversations("A", 0)
	if err != nil {
		t.Fatalf("Conversations(A) error = %v", err)
	}
	if len(convs) != 2 || convs[0].RootID != "1" {
		t.Errorf("Conversations(A) = %+v, want largest thread 1 first", convs)
	}
	convs, _ = d.Conversations("A", 1)
	if len(convs) != 1 {
		t.Errorf("Conversations(A, 1) returned %d", len(convs))
	}
	convs, _ = d.Conversations("C", 5)
	if len(convs) != 1 || convs[0].RootID != "1" {
		t.Errorf("Conversations(C) = %+v", convs)
	}
	if _, err := d.Conversations("Z", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Conversations(Z) error = %v, want ErrNotFound", err)
	}

	if _, err := d.Thread("404"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Thread(404) error = %v, want ErrNotFound", err)
	}
	members, err := d.Thread("1")
	if err != nil || len(members) != 4 {
		t.Errorf("Thread(1) = %d members, %v", len(members), err)
	}
}

func TestReplyContexts(t *testing.T) {
	members := []models.ThreadMember{member("1", "", "A"), member("2", "1", "B"), member("3", "1", "C"), member("4", "2", "A"), member("5", "77", "D")}

	tests := []struct {
		name    string
		window  int
		target  string
		parent  string
		history []string
	}{
		{"direct reply to root", 0, "2", "1", []string{"1"}},
		{"reply to root after sibling", 0, "3", "1", []string{"1", "2"}},
		{"nested reply", 0, "4", "2", []string{"1", "2", "3"}},
		{"target outside thread", 0, "5", "4", []string{"1", "2", "3", "4"}},
		{"windowed history", 2, "4", "2", []string{"2", "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *ReplyContext
			for _, c := range ReplyContexts(members, tt.window) {
				if c.Target.ID == tt.target {
					c := c
					got = &c
				}
			}
			if got == nil {
				t.Fatalf("no context for %s", tt.target)
			}
			if got.Parent == nil || got.Parent.ID != tt.parent {
				t.Errorf("Parent = %+v, want %s", got.Parent, tt.parent)
			}
			if len(got.History) != len(tt.history) {
				t.Fatalf("History has %d members, want %v", len(got.History), tt.history)
			}
			for i, id := range tt.history {
				if got.History[i].ID != id {
					t.Errorf("History[%d] = %s, want %s", i, got.History[i].ID, id)
				}
			}
		})
	}

	if ReplyContexts(members[:1], 3) != nil {
		t.Error("a single message has no reply contexts")
	}
}
