package dataset

import (
	"github.com/doppelganger/personaprep/internal/models"
)

// ReplyContext is what a generator sees when producing one reply: the
// message being replied to and the conversation so far
type ReplyContext struct {
	Target  models.ThreadMember   `json:"target"`
	Parent  *models.ThreadMember  `json:"parent,omitempty"`
	History []models.ThreadMember `json:"history"`
}

// ReplyContexts builds a context for every member after the first. History
// holds at most window preceding members (all of them when window <= 0).
// Parent is the member the target replies to when it is in the thread, and
// otherwise the message just before the target.
func ReplyContexts(members []models.ThreadMember, window int) []ReplyContext {
	if len(members) < 2 {
		return nil
	}

	pos := make(map[string]int, len(members))
	for i, m := range members {
		pos[m.ID] = i
	}

	out := make([]ReplyContext, 0, len(members)-1)
	for i := 1; i < len(members); i++ {
		start := 0
		if window > 0 && i > window {
			start = i - window
		}
		ctx := ReplyContext{
			Target:  members[i],
			History: members[start:i],
		}
		parent := i - 1
		if t := members[i].ReplyTargetID; t != nil {
			if j, ok := pos[*t]; ok && j < i {
				parent = j
			}
		}
		p := members[parent]
		ctx.Parent = &p
		out = append(out, ctx)
	}
	return out
}
