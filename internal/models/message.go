package models

import (
	"database/sql"
	"time"
)

// IndexedMessage is a row of the thread index. Replies and root-candidate
// posts share the table so a thread's members and its root resolve in one
// batched lookup.
type IndexedMessage struct {
	ID            string         `gorm:"primaryKey;type:varchar(64);column:id"`
	ReplyTargetID sql.NullString `gorm:"type:varchar(64);index:idx_thread_messages_reply_target;column:reply_target_id"`
	RootID        sql.NullString `gorm:"type:varchar(64);index:idx_thread_messages_root;column:root_id"`
	IsReply       bool           `gorm:"not null;column:is_reply"`
	PostedAt      string         `gorm:"type:varchar(64);column:created_at"`
	PostedUnix    int64          `gorm:"not null;column:created_unix"`
	Text          string         `gorm:"type:text;column:full_text"`
	AuthorID      sql.NullString `gorm:"type:varchar(64);column:original_user_id"`
}

// TableName specifies the table name for IndexedMessage
func (IndexedMessage) TableName() string {
	return "thread_messages"
}

// NewIndexedMessage converts a post into an index row. Replies start rooted at
// their direct target; root resolution may move them further up.
func NewIndexedMessage(p *Post) IndexedMessage {
	m := IndexedMessage{
		ID:         p.ID,
		IsReply:    p.IsReply(),
		PostedAt:   p.CreatedAt,
		PostedUnix: p.Created.UnixNano(),
		Text:       p.Text,
	}
	if p.ReplyTargetID != "" {
		m.ReplyTargetID = sql.NullString{String: p.ReplyTargetID, Valid: true}
		m.RootID = m.ReplyTargetID
	}
	if p.AuthorID != "" {
		m.AuthorID = sql.NullString{String: p.AuthorID, Valid: true}
	}
	return m
}

// Post converts the index row back into a post
func (m *IndexedMessage) Post() Post {
	p := Post{
		ID:        m.ID,
		CreatedAt: m.PostedAt,
		Created:   time.Unix(0, m.PostedUnix).UTC(),
		Text:      m.Text,
	}
	if m.ReplyTargetID.Valid {
		p.ReplyTargetID = m.ReplyTargetID.String
	}
	if m.AuthorID.Valid {
		p.AuthorID = m.AuthorID.String
	}
	return p
}
