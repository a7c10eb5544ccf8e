package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/doppelganger/personaprep/internal/db"
	"github.com/doppelganger/personaprep/internal/ingest"
	"github.com/doppelganger/personaprep/internal/models"
)

// UserGrouper groups accepted root posts by author. Posts are kept in the
// index database rather than in memory, and an id already grouped is never
// grouped again.
type UserGrouper struct {
	repo      *db.AcceptedPostRepository
	batchSize int
	seq       int64
	logger    *zap.Logger
}

// NewUserGrouper creates a grouper over repo
func NewUserGrouper(repo *db.AcceptedPostRepository, batchSize int, logger *zap.Logger) *UserGrouper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &UserGrouper{
		repo:      repo,
		batchSize: batchSize,
		logger:    logger.With(zap.String("component", "user-grouper")),
	}
}

// Add records a batch of accepted posts and returns the indices of the posts
// seen for the first time. A post whose normalized id was already added, in
// this batch or an earlier one, is left out. Posts without an author take
// part in deduplication but are not grouped.
func (ug *UserGrouper) Add(ctx context.Context, posts []models.Post) ([]int, error) {
	ids := make([]string, len(posts))
	keys := make([]string, 0, len(posts))
	for i := range posts {
		id, err := ingest.NormalizeID(posts[i].ID)
		if err != nil {
			id = posts[i].ID
		}
		ids[i] = id
		keys = append(keys, id)
	}

	existing, err := ug.repo.ExistingIDs(ctx, keys, ug.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %d accepted posts: %w", len(keys), err)
	}

	fresh := make([]int, 0, len(posts))
	rows := make([]models.AcceptedPost, 0, len(posts))
	for i := range posts {
		if _, dup := existing[ids[i]]; dup {
			ug.logger.Debug("Skipping duplicate post", zap.String("id", ids[i]))
			continue
		}
		existing[ids[i]] = struct{}{}

		p := posts[i]
		p.ID = ids[i]
		ug.seq++
		rows = append(rows, models.NewAcceptedPost(&p, ug.seq))
		fresh = append(fresh, i)
	}

	if _, err := ug.repo.Insert(ctx, rows, ug.batchSize); err != nil {
		return nil, fmt.Errorf("failed to store %d accepted posts: %w", len(rows), err)
	}
	return fresh, nil
}

// Users returns the number of authors with at least one grouped post
func (ug *UserGrouper) Users(ctx context.Context) (int64, error) {
	return ug.repo.CountAuthors(ctx)
}

// ForEachUser calls fn for each author in order of their first grouped post,
// with that author's posts in the order they were added
func (ug *UserGrouper) ForEachUser(ctx context.Context, fn func(author string, posts []models.PostSummary) error) error {
	return ug.repo.ForEachAuthor(ctx, fn)
}
