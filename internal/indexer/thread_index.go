package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/doppelganger/personaprep/internal/db"
	"github.com/doppelganger/personaprep/internal/ingest"
	"github.com/doppelganger/personaprep/internal/models"
	"github.com/doppelganger/personaprep/pkg/config"
)

// IndexOptions configures the thread index
type IndexOptions struct {
	Mode         string // config.ThreadModeTransitive or config.ThreadModeDirect
	MaxRootDepth int
	FetchBatch   int
	InsertBatch  int
}

// DefaultIndexOptions returns the transitive-mode defaults
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		Mode:         config.ThreadModeTransitive,
		MaxRootDepth: 32,
		FetchBatch:   500,
		InsertBatch:  500,
	}
}

// ThreadGroup is one candidate thread: a root id and the ids resolved to it
type ThreadGroup struct {
	RootID    string
	MemberIDs []string
	// Err is set when the member ids of RootID could not be loaded
	Err error
}

// ResolveResult reports what root resolution did
type ResolveResult struct {
	Rounds   int
	Detached int64
}

// ThreadIndex is the disk-backed reply index. Messages are keyed by
// normalized id and carry the root they resolve to.
type ThreadIndex struct {
	repo   *db.MessageRepository
	opts   IndexOptions
	logger *zap.Logger
}

// NewThreadIndex creates a thread index over repo
func NewThreadIndex(repo *db.MessageRepository, opts IndexOptions, logger *zap.Logger) *ThreadIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Mode == "" {
		opts.Mode = config.ThreadModeTransitive
	}
	if opts.MaxRootDepth <= 0 {
		opts.MaxRootDepth = 32
	}
	if opts.FetchBatch <= 0 {
		opts.FetchBatch = 500
	}
	if opts.InsertBatch <= 0 {
		opts.InsertBatch = 500
	}
	return &ThreadIndex{
		repo:   repo,
		opts:   opts,
		logger: logger.With(zap.String("component", "thread-index")),
	}
}

// InsertBatch adds posts to the index. Re-inserting an id is a no-op, so the
// first record seen for an id wins. Posts whose ids cannot be normalized are
// skipped. It returns the number of new rows.
func (ti *ThreadIndex) InsertBatch(ctx context.Context, posts []models.Post) (int64, error) {
	msgs := make([]models.IndexedMessage, 0, len(posts))
	for i := range posts {
		p := posts[i]
		id, err := ingest.NormalizeID(p.ID)
		if err != nil {
			ti.logger.Warn("Skipping message with invalid id", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		target, err := ingest.NormalizeOptionalID(p.ReplyTargetID)
		if err != nil {
			ti.logger.Warn("Skipping message with invalid reply target",
				zap.String("id", id), zap.String("reply_target_id", p.ReplyTargetID), zap.Error(err))
			continue
		}
		p.ID, p.ReplyTargetID = id, target
		msgs = append(msgs, models.NewIndexedMessage(&p))
	}

	n, err := ti.repo.Insert(ctx, msgs, ti.opts.InsertBatch)
	if err != nil {
		return n, fmt.Errorf("failed to index %d messages: %w", len(msgs), err)
	}
	return n, nil
}

// ResolveRoots points every reply at the top of its chain. In direct mode
// replies stay grouped under their immediate target and nothing is done.
// Rounds stop once a jump no longer reduces the unresolved rows; whatever is
// left then, or after MaxRootDepth rounds, sits in a reply cycle and is
// detached from any thread.
func (ti *ThreadIndex) ResolveRoots(ctx context.Context) (ResolveResult, error) {
	var res ResolveResult
	if ti.opts.Mode == config.ThreadModeDirect {
		return res, nil
	}

	pending, err := ti.repo.CountUnresolved(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to count unresolved replies: %w", err)
	}
	for res.Rounds < ti.opts.MaxRootDepth && pending > 0 {
		moved, err := ti.repo.JumpRoots(ctx)
		if err != nil {
			return res, fmt.Errorf("root resolution round %d: %w", res.Rounds+1, err)
		}
		if moved == 0 {
			break
		}
		res.Rounds++
		left, err := ti.repo.CountUnresolved(ctx)
		if err != nil {
			return res, fmt.Errorf("failed to count unresolved replies: %w", err)
		}
		ti.logger.Debug("Root resolution round",
			zap.Int("round", res.Rounds), zap.Int64("moved", moved), zap.Int64("unresolved", left))
		if left >= pending {
			break
		}
		pending = left
	}

	detached, err := ti.repo.DetachUnresolved(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to detach unresolved replies: %w", err)
	}
	res.Detached = detached
	if detached > 0 {
		ti.logger.Warn("Detached replies caught in reply cycles", zap.Int64("count", detached))
	}

	ti.logger.Info("Roots resolved", zap.Int("rounds", res.Rounds), zap.Int64("detached", detached))
	return res, nil
}

// ThreadsWithMinSize returns every root with at least n resolved rows, largest
// first and then by root id.
func (ti *ThreadIndex) ThreadsWithMinSize(ctx context.Context, n int) ([]ThreadGroup, error) {
	var groups []ThreadGroup
	err := ti.ForEachThread(ctx, n, func(g ThreadGroup) error {
		if g.Err != nil {
			return g.Err
		}
		groups = append(groups, g)
		return nil
	})
	return groups, err
}

// ForEachThread calls fn for each thread ThreadsWithMinSize would return,
// loading member ids one thread at a time. A thread whose members fail to
// load is still passed to fn with Err set. An error from fn stops iteration
// and is returned unchanged.
func (ti *ThreadIndex) ForEachThread(ctx context.Context, n int, fn func(ThreadGroup) error) error {
	roots, err := ti.repo.RootCounts(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to list candidate threads: %w", err)
	}
	for _, rc := range roots {
		if err := ctx.Err(); err != nil {
			return err
		}
		g := ThreadGroup{RootID: rc.RootID}
		ids, err := ti.repo.MemberIDs(ctx, rc.RootID)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			g.Err = fmt.Errorf("failed to load members of %s: %w", rc.RootID, err)
		}
		g.MemberIDs = ids
		if err := fn(g); err != nil {
			return err
		}
	}
	return nil
}

// FetchRecords returns the indexed posts for ids, querying FetchBatch ids at
// a time. Ids not in the index are absent from the result.
func (ti *ThreadIndex) FetchRecords(ctx context.Context, ids []string) ([]models.Post, error) {
	keys := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id, err := ingest.NormalizeID(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, id)
	}

	msgs, err := ti.repo.GetByIDs(ctx, keys, ti.opts.FetchBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %d records: %w", len(keys), err)
	}
	posts := make([]models.Post, len(msgs))
	for i := range msgs {
		posts[i] = msgs[i].Post()
	}
	return posts, nil
}

// Count returns the number of indexed messages
func (ti *ThreadIndex) Count(ctx context.Context) (int64, error) {
	return ti.repo.Count(ctx)
}
