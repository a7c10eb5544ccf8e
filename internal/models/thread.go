package models

import (
	"strings"
)

// Thread is a root post plus its replies, ordered by (created, id)
type Thread struct {
	RootID  string
	Members []Post
	// Rootless is set when the root record is absent from the members
	Rootless bool
}

// Size returns the number of members
func (t *Thread) Size() int {
	return len(t.Members)
}

// Entries returns the conversation document view of the members
func (t *Thread) Entries() []ThreadMember {
	out := make([]ThreadMember, len(t.Members))
	for i := range t.Members {
		out[i] = t.Members[i].Member()
	}
	return out
}

// ThreadMember is one message of the conversation document. ReplyTargetID
// is nil for the root and for replies addressed only to a user.
type ThreadMember struct {
	ID            string  `json:"id"`
	ReplyTargetID *string `json:"reply_target_id"`
	CreatedAt     string  `json:"created_at"`
	Text          string  `json:"text"`
	AuthorID      string  `json:"author_id"`
}

// CompareIDs orders ids numerically when both are digit strings and
// lexically otherwise. Normalized numeric ids carry no leading zeros, so
// length decides first.
func CompareIDs(a, b string) int {
	if isDigits(a) && isDigits(b) {
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

// LessPost orders posts by creation time then id
func LessPost(a, b *Post) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.Before(b.Created)
	}
	return CompareIDs(a.ID, b.ID) < 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
