package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doppelganger/personaprep/internal/models"
)

// AcceptedPostRepository stores the root posts that passed the quality
// filter, keyed by id, for per-author grouping
type AcceptedPostRepository struct {
	db *gorm.DB
}

// NewAcceptedPostRepository creates a new accepted post repository
func NewAcceptedPostRepository(db *gorm.DB) *AcceptedPostRepository {
	return &AcceptedPostRepository{db: db}
}

// Insert stores posts, ignoring ids that already exist (first write wins).
// It returns the number of rows actually inserted.
func (r *AcceptedPostRepository) Insert(ctx context.Context, posts []models.AcceptedPost, batchSize int) (int64, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&posts, batchSize)
	return res.RowsAffected, res.Error
}

// ExistingIDs returns which of ids are already stored, querying batchSize ids
// at a time
func (r *AcceptedPostRepository) ExistingIDs(ctx context.Context, ids []string, batchSize int) (map[string]struct{}, error) {
	if batchSize <= 0 {
		batchSize = len(ids)
	}
	found := make(map[string]struct{})
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		var chunk []string
		err := r.db.WithContext(ctx).
			Model(&models.AcceptedPost{}).
			Where("id IN ?", ids[start:end]).
			Pluck("id", &chunk).Error
		if err != nil {
			return nil, err
		}
		for _, id := range chunk {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

// CountAuthors returns the number of distinct authors with a stored post
func (r *AcceptedPostRepository) CountAuthors(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.AcceptedPost{}).
		Where("original_user_id IS NOT NULL").
		Distinct("original_user_id").
		Count(&n).Error
	return n, err
}

// ForEachAuthor streams stored posts grouped by author. Authors come in the
// order of their first accepted post and each author's posts in acceptance
// order. Only one author's posts are held in memory at a time. An error from
// fn stops iteration and is returned unchanged.
func (r *AcceptedPostRepository) ForEachAuthor(ctx context.Context, fn func(author string, posts []models.PostSummary) error) error {
	rows, err := r.db.WithContext(ctx).Raw(`
		SELECT a.original_user_id, a.id, a.full_text, a.created_at
		FROM accepted_posts a
		JOIN (
			SELECT original_user_id, MIN(seq) AS first_seq
			FROM accepted_posts
			WHERE original_user_id IS NOT NULL
			GROUP BY original_user_id
		) f ON f.original_user_id = a.original_user_id
		ORDER BY f.first_seq, a.seq`).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	var (
		author string
		posts  []models.PostSummary
	)
	for rows.Next() {
		var (
			rowAuthor string
			s         models.PostSummary
		)
		if err := rows.Scan(&rowAuthor, &s.ID, &s.Text, &s.CreatedAt); err != nil {
			return err
		}
		if rowAuthor != author && len(posts) > 0 {
			if err := fn(author, posts); err != nil {
				return err
			}
			posts = nil
		}
		author = rowAuthor
		posts = append(posts, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(posts) > 0 {
		return fn(author, posts)
	}
	return nil
}

// Count returns the number of stored posts
func (r *AcceptedPostRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.AcceptedPost{}).Count(&n).Error
	return n, err
}

// Reset removes every stored post
func (r *AcceptedPostRepository) Reset(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.AcceptedPost{}).Error
}
