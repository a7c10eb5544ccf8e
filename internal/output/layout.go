package output

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/doppelganger/personaprep/pkg/config"
)

const timestampLayout = "20060102_150405"

// Layout names every artifact of one run
type Layout struct {
	Dir    string
	Prefix string
}

// NewLayout resolves the output directory. An explicit directory wins;
// otherwise runs land in Results/processed_data_<ts> or Tests/test_data_<ts>
// under BaseDir.
func NewLayout(cfg *config.OutputConfig, now time.Time) Layout {
	prefix, base, dirPrefix := "processed", "Results", "processed_data"
	if cfg.Test {
		prefix, base, dirPrefix = "test", "Tests", "test_data"
	}
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(cfg.BaseDir, base, fmt.Sprintf("%s_%s", dirPrefix, now.Format(timestampLayout)))
	}
	return Layout{Dir: dir, Prefix: prefix}
}

func (l Layout) file(name string) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_%s", l.Prefix, name))
}

// PostsPath is the filtered posts table
func (l Layout) PostsPath() string { return l.file("posts.csv") }

// RepliesPath is the replies table
func (l Layout) RepliesPath() string { return l.file("replies.csv") }

// UsersPath is the user grouping document
func (l Layout) UsersPath() string { return l.file("users.json") }

// ConversationsPath is the conversation document
func (l Layout) ConversationsPath() string { return l.file("conversations.json") }

// StatsPath is the run statistics document
func (l Layout) StatsPath() string { return l.file("stats.json") }

// IntermediatePostsPath holds every root post before filtering
func (l Layout) IntermediatePostsPath() string {
	return filepath.Join(l.Dir, "intermediate_posts.csv")
}

// IntermediateRepliesPath holds every reply as partitioned
func (l Layout) IntermediateRepliesPath() string {
	return filepath.Join(l.Dir, "intermediate_replies.csv")
}

// IndexPath is the sqlite thread index
func (l Layout) IndexPath() string {
	return filepath.Join(l.Dir, "conversations.db")
}

// FindLayout locates the artifacts of a finished run in dir, whichever
// prefix it was written with
func FindLayout(dir string) (Layout, error) {
	for _, prefix := range []string{"processed", "test"} {
		l := Layout{Dir: dir, Prefix: prefix}
		if FileExists(l.UsersPath()) || FileExists(l.ConversationsPath()) {
			return l, nil
		}
	}
	return Layout{}, fmt.Errorf("no dataset found in %s", dir)
}
