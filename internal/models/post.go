package models

import (
	"database/sql"
	"time"
)

// Post is a single authored message from the source export. Both root posts
// and replies are Posts; a Post is a root iff it has neither reply target.
type Post struct {
	ID              string
	AuthorID        string // empty when the export has no author
	CreatedAt       string // raw source value, written back unchanged
	Created         time.Time
	Text            string
	ReplyTargetID   string
	ReplyTargetUser string
}

// IsRoot reports whether the post declares no reply target at all
func (p *Post) IsRoot() bool {
	return p.ReplyTargetID == "" && p.ReplyTargetUser == ""
}

// IsReply reports whether the post declares a reply target id or user
func (p *Post) IsReply() bool {
	return !p.IsRoot()
}

// Summary returns the per-user grouping view of the post
func (p *Post) Summary() PostSummary {
	return PostSummary{
		ID:        p.ID,
		Text:      p.Text,
		CreatedAt: p.CreatedAt,
	}
}

// Member returns the conversation document view of the post
func (p *Post) Member() ThreadMember {
	m := ThreadMember{
		ID:        p.ID,
		CreatedAt: p.CreatedAt,
		Text:      p.Text,
		AuthorID:  p.AuthorID,
	}
	if p.ReplyTargetID != "" {
		target := p.ReplyTargetID
		m.ReplyTargetID = &target
	}
	return m
}

// PostSummary is one entry of the user grouping document
type PostSummary struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// AcceptedPost is a root post that passed the quality filter. Seq is the
// order of acceptance; the user document lists authors by their first Seq.
type AcceptedPost struct {
	ID       string         `gorm:"primaryKey;type:varchar(64);column:id"`
	Seq      int64          `gorm:"not null;index:idx_accepted_posts_seq;column:seq"`
	AuthorID sql.NullString `gorm:"type:varchar(64);index:idx_accepted_posts_author;column:original_user_id"`
	PostedAt string         `gorm:"type:varchar(64);column:created_at"`
	Text     string         `gorm:"type:text;column:full_text"`
}

// TableName specifies the table name for AcceptedPost
func (AcceptedPost) TableName() string {
	return "accepted_posts"
}

// NewAcceptedPost converts a post into an accepted_posts row
func NewAcceptedPost(p *Post, seq int64) AcceptedPost {
	a := AcceptedPost{
		ID:       p.ID,
		Seq:      seq,
		PostedAt: p.CreatedAt,
		Text:     p.Text,
	}
	if p.AuthorID != "" {
		a.AuthorID = sql.NullString{String: p.AuthorID, Valid: true}
	}
	return a
}
