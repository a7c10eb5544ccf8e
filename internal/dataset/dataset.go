package dataset

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/doppelganger/personaprep/internal/indexer"
	"github.com/doppelganger/personaprep/internal/models"
	"github.com/doppelganger/personaprep/internal/output"
)

// ErrNotFound is returned for unknown authors and threads
var ErrNotFound = errors.New("not found")

// Conversation is one thread of the conversation document
type Conversation struct {
	RootID  string                `json:"root_id"`
	Members []models.ThreadMember `json:"members"`
}

// Dataset is a finished run loaded for downstream consumers: persona
// analysis reads per-user posts and conversations, generation and
// evaluation read single threads as reply contexts.
type Dataset struct {
	layout output.Layout

	users     map[string][]models.PostSummary
	userOrder []string

	threads     map[string][]models.ThreadMember
	threadOrder []string
	byAuthor    map[string][]string

	stats *indexer.Snapshot
}

// Load reads the user and conversation documents of the run in dir. A
// missing conversation or stats document leaves that part empty.
func Load(dir string) (*Dataset, error) {
	layout, err := output.FindLayout(dir)
	if err != nil {
		return nil, err
	}

	d := &Dataset{
		layout:   layout,
		users:    make(map[string][]models.PostSummary),
		threads:  make(map[string][]models.ThreadMember),
		byAuthor: make(map[string][]string),
	}

	if output.FileExists(layout.UsersPath()) {
		err := output.ReadObjectFile(layout.UsersPath(), func(author string, raw json.RawMessage) error {
			var posts []models.PostSummary
			if err := json.Unmarshal(raw, &posts); err != nil {
				return fmt.Errorf("user %s: %w", author, err)
			}
			d.users[author] = posts
			d.userOrder = append(d.userOrder, author)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", layout.UsersPath(), err)
		}
	}

	if output.FileExists(layout.ConversationsPath()) {
		err := output.ReadObjectFile(layout.ConversationsPath(), func(root string, raw json.RawMessage) error {
			var members []models.ThreadMember
			if err := json.Unmarshal(raw, &members); err != nil {
				return fmt.Errorf("thread %s: %w", root, err)
			}
			d.threads[root] = members
			d.threadOrder = append(d.threadOrder, root)

			seen := make(map[string]bool)
			for _, m := range members {
				if m.AuthorID == "" || seen[m.AuthorID] {
					continue
				}
				seen[m.AuthorID] = true
				d.byAuthor[m.AuthorID] = append(d.byAuthor[m.AuthorID], root)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", layout.ConversationsPath(), err)
		}
	}

	if b, err := os.ReadFile(layout.StatsPath()); err == nil {
		var s indexer.Snapshot
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("load %s: %w", layout.StatsPath(), err)
		}
		d.stats = &s
	}

	return d, nil
}

// Dir returns the dataset directory
func (d *Dataset) Dir() string {
	return d.layout.Dir
}

// Users returns grouped authors in document order
func (d *Dataset) Users() []string {
	return d.userOrder
}

// ThreadCount returns the number of threads
func (d *Dataset) ThreadCount() int {
	return len(d.threadOrder)
}

// Posts returns up to n of the author's posts; n <= 0 returns all of them
func (d *Dataset) Posts(author string, n int) ([]models.PostSummary, error) {
	posts, ok := d.users[author]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", author, ErrNotFound)
	}
	return limit(posts, n), nil
}

// Thread returns the members of one thread in chronological order
func (d *Dataset) Thread(rootID string) ([]models.ThreadMember, error) {
	members, ok := d.threads[rootID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", rootID, ErrNotFound)
	}
	return members, nil
}

// Conversations returns up to n threads the author took part in, largest
// first; n <= 0 returns all of them
func (d *Dataset) Conversations(author string, n int) ([]Conversation, error) {
	roots, ok := d.byAuthor[author]
	if !ok {
		return nil, fmt.Errorf("conversations of %s: %w", author, ErrNotFound)
	}
	out := make([]Conversation, 0, len(roots))
	for _, root := range roots {
		out = append(out, Conversation{RootID: root, Members: d.threads[root]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Members) > len(out[j].Members)
	})
	return limit(out, n), nil
}

// Stats returns the run statistics, if the run wrote them
func (d *Dataset) Stats() (*indexer.Snapshot, error) {
	if d.stats == nil {
		return nil, fmt.Errorf("stats: %w", ErrNotFound)
	}
	return d.stats, nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && n < len(items) {
		return items[:n]
	}
	return items
}
