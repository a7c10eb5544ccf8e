package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/doppelganger/personaprep/internal/models"
	"github.com/doppelganger/personaprep/internal/output"
	"github.com/doppelganger/personaprep/pkg/config"
)

type englishDetector struct{}

func (englishDetector) Detect(string) (string, error) { return "en", nil }

var sourceRows = [][]string{
	{"tweet_id", "full_text", "created_at", "original_user_id", "reply_to_id", "reply_to_user"},
	{"1", "Hello world this is long enough", "2018-10-10 20:00:00", "100", "", ""},
	{"2.0", "@A yes indeed totally agree with you", "2018-10-10 20:01:00", "200", "1", "100"},
	{"3", "😀😀😀", "2018-10-10 20:02:00", "100", "", ""},
	{"4", "check this out http://bit.ly/xyz", "2018-10-10 20:03:00", "300", "", ""},
	{"5", "replying to something that is gone", "2018-10-10 20:04:00", "200", "99", ""},
	{"6", "me too, whatever it was", "2018-10-10 20:05:00", "300", "99.0", ""},
	{"7", "a reply to the reply", "2018-10-10 20:06:00", "400", "2", ""},
	{"8", "this row has a broken timestamp", "yesterday-ish", "400", "", ""},
	{"9", "Another post that is long enough to pass", "2018-10-10 20:08:00", "", "", ""},
	{"10", "reply by user only, no target id", "2018-10-10 20:09:00", "500", "", "someone"},
}

func writeSource(t *testing.T, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := csv.NewWriter(f).WriteAll(rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func testConfig(t *testing.T, input string) *config.Config {
	return &config.Config{
		Input:  config.InputConfig{Path: input},
		Output: config.OutputConfig{Dir: filepath.Join(t.TempDir(), "out")},
		Preprocess: config.PreprocessConfig{
			ChunkSize:      3,
			MinThreadSize:  2,
			MinTextLength:  25,
			MaxMentions:    1,
			TargetLanguage: "en",
			RootPolicy:     config.RootPolicyKeepRootless,
			ThreadMode:     config.ThreadModeTransitive,
			MaxRootDepth:   32,
			FetchBatch:     2,
			ProgressEvery:  1,
		},
		Index:   config.IndexConfig{Driver: config.DriverSQLite},
		Logging: config.LoggingConfig{Level: "error"},
	}
}

func runPipeline(t *testing.T, cfg *config.Config) *Result {
	t.Helper()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p := New(cfg, Deps{Detector: englishDetector{}, Now: func() time.Time { return now }}, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func readTable(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func readConversations(t *testing.T, path string) ([]string, map[string][]models.ThreadMember) {
	t.Helper()
	var order []string
	threads := make(map[string][]models.ThreadMember)
	err := output.ReadObjectFile(path, func(key string, raw json.RawMessage) error {
		var members []models.ThreadMember
		if err := json.Unmarshal(raw, &members); err != nil {
			return err
		}
		order = append(order, key)
		threads[key] = members
		return nil
	})
	if err != nil {
		t.Fatalf("read conversations: %v", err)
	}
	return order, threads
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t, writeSource(t, sourceRows))
	res := runPipeline(t, cfg)
	l := res.Layout

	posts := readTable(t, l.PostsPath())
	if len(posts) != 3 || posts[1][0] != "1" || posts[2][0] != "9" {
		t.Errorf("filtered posts = %v, want header + posts 1 and 9", posts)
	}
	if posts[0][0] != "tweet_id" {
		t.Errorf("posts header = %v", posts[0])
	}
	replies := readTable(t, l.RepliesPath())
	if len(replies) != 6 {
		t.Errorf("replies table has %d records, want header + 5", len(replies))
	}

	b, err := os.ReadFile(l.UsersPath())
	if err != nil {
		t.Fatalf("read users: %v", err)
	}
	var users map[string][]models.PostSummary
	if err := json.Unmarshal(b, &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 1 || len(users["100"]) != 1 || users["100"][0].ID != "1" {
		t.Errorf("users = %+v, want only author 100 with post 1", users)
	}

	order, threads := readConversations(t, l.ConversationsPath())
	if len(order) != 2 || order[0] != "1" || order[1] != "99" {
		t.Fatalf("conversation keys = %v, want [1 99]", order)
	}
	var ids []string
	for _, m := range threads["1"] {
		ids = append(ids, m.ID)
	}
	if len(ids) != 3 || ids[0] != "1" || ids[1] != "2" || ids[2] != "7" {
		t.Errorf("thread 1 members = %v, want [1 2 7]", ids)
	}
	if threads["1"][0].ReplyTargetID != nil {
		t.Errorf("root entry reply_target_id = %q, want null", *threads["1"][0].ReplyTargetID)
	}
	if r := threads["1"][1]; r.ReplyTargetID == nil || *r.ReplyTargetID != "1" || r.AuthorID != "200" {
		t.Errorf("reply entry = %+v", threads["1"][1])
	}
	if len(threads["99"]) != 2 {
		t.Errorf("rootless thread 99 has %d members, want 2", len(threads["99"]))
	}
	for root, members := range threads {
		if len(members) < cfg.Preprocess.MinThreadSize {
			t.Errorf("thread %s below minimum size", root)
		}
		for i := 1; i < len(members); i++ {
			if members[i].CreatedAt < members[i-1].CreatedAt {
				t.Errorf("thread %s out of order at %d", root, i)
			}
		}
	}

	s := res.Stats
	if s.RowsSeen != 10 || s.MalformedRows != 1 {
		t.Errorf("rows seen=%d malformed=%d, want 10 and 1", s.RowsSeen, s.MalformedRows)
	}
	if s.Posts+s.Replies != s.RowsSeen-s.MalformedRows {
		t.Errorf("partition lost rows: posts=%d replies=%d", s.Posts, s.Replies)
	}
	if s.PostsRetained != 2 || s.Threads != 2 || s.RootlessThreads != 1 {
		t.Errorf("stats = %+v", s)
	}

	for _, scratch := range []string{l.IntermediatePostsPath(), l.IntermediateRepliesPath(), l.IndexPath()} {
		if output.FileExists(scratch) {
			t.Errorf("scratch file %s should be removed", scratch)
		}
	}
	if !output.FileExists(l.StatsPath()) {
		t.Error("stats document missing")
	}
}

func TestRunDuplicateRootFirstWins(t *testing.T) {
	rows := [][]string{
		sourceRows[0],
		{"1", "The first copy of this post is the one kept", "2018-10-10 20:00:00", "100", "", ""},
		{"2", "a reply to the first post in the thread", "2018-10-10 20:01:00", "200", "1", ""},
		{"4", "short", "2018-10-10 20:02:00", "300", "", ""},
		{"5", "tiny", "2018-10-10 20:03:00", "300", "", ""},
		{"1.0", "A later copy of the same post id is ignored", "2018-10-10 20:04:00", "100", "", ""},
	}
	cfg := testConfig(t, writeSource(t, rows))
	res := runPipeline(t, cfg)
	l := res.Layout

	posts := readTable(t, l.PostsPath())
	if len(posts) != 2 || posts[1][1] != rows[1][1] {
		t.Errorf("filtered posts = %v, want header + the first copy of post 1", posts)
	}

	b, err := os.ReadFile(l.UsersPath())
	if err != nil {
		t.Fatalf("read users: %v", err)
	}
	var users map[string][]models.PostSummary
	if err := json.Unmarshal(b, &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users["100"]) != 1 {
		t.Fatalf("users[100] = %+v, want one entry", users["100"])
	}
	if got := users["100"][0]; got.ID != "1" || got.Text != rows[1][1] {
		t.Errorf("users[100][0] = %+v, want the first copy of post 1", got)
	}

	_, threads := readConversations(t, l.ConversationsPath())
	members := threads["1"]
	if len(members) != 2 || members[0].ID != "1" || members[1].ID != "2" || members[0].Text != rows[1][1] {
		t.Errorf("thread 1 = %+v, want first copy of 1 then 2", members)
	}

	s := res.Stats
	if s.PostsRetained != 1 || s.DuplicatePosts != 1 || s.Users != 1 {
		t.Errorf("stats retained=%d duplicates=%d users=%d, want 1 1 1", s.PostsRetained, s.DuplicatePosts, s.Users)
	}
}

func TestRunDropPolicy(t *testing.T) {
	cfg := testConfig(t, writeSource(t, sourceRows))
	cfg.Preprocess.RootPolicy = config.RootPolicyDrop
	cfg.Output.KeepIndex = true
	cfg.Output.KeepIntermediates = true
	res := runPipeline(t, cfg)

	order, _ := readConversations(t, res.Layout.ConversationsPath())
	if len(order) != 1 || order[0] != "1" {
		t.Errorf("conversation keys = %v, want [1]", order)
	}
	if res.Stats.DroppedThreads != 1 {
		t.Errorf("DroppedThreads = %d, want 1", res.Stats.DroppedThreads)
	}
	for _, kept := range []string{res.Layout.IntermediatePostsPath(), res.Layout.IndexPath()} {
		if !output.FileExists(kept) {
			t.Errorf("%s should be kept", kept)
		}
	}
}

func TestRunTwiceDoesNotDuplicate(t *testing.T) {
	cfg := testConfig(t, writeSource(t, sourceRows))
	cfg.Output.KeepIndex = true

	first := runPipeline(t, cfg)
	second := runPipeline(t, cfg)

	inputRows := len(sourceRows) - 1
	out := len(readTable(t, second.Layout.PostsPath())) - 1 + len(readTable(t, second.Layout.RepliesPath())) - 1
	if out > inputRows {
		t.Errorf("rerun wrote %d rows from %d input rows", out, inputRows)
	}
	if first.Stats.IndexedMessages != second.Stats.IndexedMessages {
		t.Errorf("indexed %d then %d messages", first.Stats.IndexedMessages, second.Stats.IndexedMessages)
	}
	order, _ := readConversations(t, second.Layout.ConversationsPath())
	if len(order) != 2 {
		t.Errorf("rerun produced %d threads, want 2", len(order))
	}
}

func TestRunMissingInput(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing.csv"))
	p := New(cfg, Deps{Detector: englishDetector{}}, nil)
	_, err := p.Run(context.Background())

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Run() error = %v, want *StageError", err)
	}
	if stageErr.Stage != StagePartition {
		t.Errorf("Stage = %s, want %s", stageErr.Stage, StagePartition)
	}
}
