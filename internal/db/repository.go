package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doppelganger/personaprep/internal/models"
)

// RootCount is one candidate thread: a root id and how many index rows
// currently resolve to it
type RootCount struct {
	RootID  string `gorm:"column:root_id"`
	Replies int    `gorm:"column:replies"`
}

// MessageRepository provides thread index database operations
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Insert stores messages, ignoring ids that already exist (first write wins).
// It returns the number of rows actually inserted.
func (r *MessageRepository) Insert(ctx context.Context, msgs []models.IndexedMessage, batchSize int) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&msgs, batchSize)
	return res.RowsAffected, res.Error
}

// JumpRoots moves every row whose root is itself a reply one level closer to
// the top: root_id becomes the current root's root_id. Repeated calls converge
// in a logarithmic number of rounds for acyclic chains. Rows whose root would
// not change are skipped, so a self-rooted cycle reports zero moves.
func (r *MessageRepository) JumpRoots(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE thread_messages
		SET root_id = (
			SELECT p.root_id FROM thread_messages p WHERE p.id = thread_messages.root_id
		)
		WHERE root_id IN (
			SELECT r.id FROM thread_messages r WHERE r.reply_target_id IS NOT NULL
		)
		AND root_id <> COALESCE((
			SELECT p.root_id FROM thread_messages p WHERE p.id = thread_messages.root_id
		), '')`)
	return res.RowsAffected, res.Error
}

// CountUnresolved returns the number of rows whose root is still a reply
func (r *MessageRepository) CountUnresolved(ctx context.Context) (int64, error) {
	var n int64
	replies := r.db.Model(&models.IndexedMessage{}).Select("id").Where("reply_target_id IS NOT NULL")
	err := r.db.WithContext(ctx).
		Model(&models.IndexedMessage{}).
		Where("root_id IN (?)", replies).
		Count(&n).Error
	return n, err
}

// DetachUnresolved clears the root of rows whose root is still a reply.
// Only reply cycles survive the jump rounds.
func (r *MessageRepository) DetachUnresolved(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE thread_messages
		SET root_id = NULL
		WHERE root_id IN (
			SELECT r.id FROM thread_messages r WHERE r.reply_target_id IS NOT NULL
		)`)
	return res.RowsAffected, res.Error
}

// RootCounts returns every root with at least minReplies rows, largest first
// and then by id. Ids compare by length first so numeric ids sort numerically.
func (r *MessageRepository) RootCounts(ctx context.Context, minReplies int) ([]RootCount, error) {
	var out []RootCount
	err := r.db.WithContext(ctx).
		Model(&models.IndexedMessage{}).
		Select("root_id, COUNT(*) AS replies").
		Where("root_id IS NOT NULL").
		Group("root_id").
		Having("COUNT(*) >= ?", minReplies).
		Order("replies DESC, LENGTH(root_id) ASC, root_id ASC").
		Scan(&out).Error
	return out, err
}

// MemberIDs returns the ids of rows resolved to rootID
func (r *MessageRepository) MemberIDs(ctx context.Context, rootID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.IndexedMessage{}).
		Where("root_id = ?", rootID).
		Order("created_unix ASC, LENGTH(id) ASC, id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// GetByIDs retrieves messages by id in chunks of batchSize. Unknown ids are
// absent from the result.
func (r *MessageRepository) GetByIDs(ctx context.Context, ids []string, batchSize int) ([]models.IndexedMessage, error) {
	if batchSize <= 0 {
		batchSize = len(ids)
	}
	out := make([]models.IndexedMessage, 0, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		var chunk []models.IndexedMessage
		if err := r.db.WithContext(ctx).Where("id IN ?", ids[start:end]).Find(&chunk).Error; err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// Count returns the number of indexed rows
func (r *MessageRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.IndexedMessage{}).Count(&n).Error
	return n, err
}

// CountReplies returns the number of indexed replies
func (r *MessageRepository) CountReplies(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.IndexedMessage{}).Where("is_reply = ?", true).Count(&n).Error
	return n, err
}

// Reset removes every indexed row
func (r *MessageRepository) Reset(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.IndexedMessage{}).Error
}
