package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/gin-gonic/gin"

	ds "github.com/doppelganger/personaprep/internal/dataset"
)

// ErrInvalidParams is returned for missing or malformed parameters
var ErrInvalidParams = errors.New("invalid parameters")

const (
	defaultLimit = 5
	maxLimit     = 1000
)

// ReaderAPI serves a loaded dataset to persona analysis, generation and
// evaluation clients
type ReaderAPI struct {
	data *ds.Dataset
}

// NewReaderAPI creates a new reader API
func NewReaderAPI(data *ds.Dataset) *ReaderAPI {
	return &ReaderAPI{data: data}
}

type authorParams struct {
	Author string `json:"author"`
	Limit  int    `json:"limit"`
}

type threadParams struct {
	RootID string `json:"root_id"`
	Window int    `json:"window"`
}

// decode accepts named parameters as an object or positional ones as an array
func decode(params json.RawMessage, names []string, dst interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if params[0] == '[' {
		var positional []interface{}
		if err := json.Unmarshal(params, &positional); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		named := make(map[string]interface{}, len(positional))
		for i, v := range positional {
			if i < len(names) {
				named[names[i]] = v
			}
		}
		b, err := json.Marshal(named)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		params = b
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func (p *authorParams) validate() error {
	if p.Author == "" {
		return fmt.Errorf("%w: missing required parameter: author", ErrInvalidParams)
	}
	if p.Limit < 0 || p.Limit > maxLimit {
		return fmt.Errorf("%w: limit must be between 0 and %d", ErrInvalidParams, maxLimit)
	}
	if p.Limit == 0 {
		p.Limit = defaultLimit
	}
	return nil
}

func (p *threadParams) validate() error {
	if p.RootID == "" {
		return fmt.Errorf("%w: missing required parameter: root_id", ErrInvalidParams)
	}
	if p.Window < 0 {
		return fmt.Errorf("%w: window must be >= 0", ErrInvalidParams)
	}
	return nil
}

// GetUserPosts handles dataset.get_user_posts
func (a *ReaderAPI) GetUserPosts(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p authorParams
	if err := decode(params, []string{"author", "limit"}, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return a.data.Posts(p.Author, p.Limit)
}

// GetUserConversations handles dataset.get_user_conversations
func (a *ReaderAPI) GetUserConversations(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p authorParams
	if err := decode(params, []string{"author", "limit"}, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return a.data.Conversations(p.Author, p.Limit)
}

// GetThread handles dataset.get_thread
func (a *ReaderAPI) GetThread(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p threadParams
	if err := decode(params, []string{"root_id"}, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	members, err := a.data.Thread(p.RootID)
	if err != nil {
		return nil, err
	}
	return ds.Conversation{RootID: p.RootID, Members: members}, nil
}

// GetReplyContexts handles dataset.get_reply_contexts
func (a *ReaderAPI) GetReplyContexts(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p threadParams
	if err := decode(params, []string{"root_id", "window"}, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	members, err := a.data.Thread(p.RootID)
	if err != nil {
		return nil, err
	}
	contexts := ds.ReplyContexts(members, p.Window)
	if contexts == nil {
		contexts = []ds.ReplyContext{}
	}
	return contexts, nil
}

// GetStats handles dataset.get_stats
func (a *ReaderAPI) GetStats(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	return a.data.Stats()
}

// UserEntry is one row of dataset.list_users
type UserEntry struct {
	Author string `json:"author"`
	Posts  int    `json:"posts"`
}

// ListUsers handles dataset.list_users. Authors are returned in document
// order, or by post count when sort is "posts".
func (a *ReaderAPI) ListUsers(ctx *gin.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Sort  string `json:"sort"`
		Limit int    `json:"limit"`
	}
	if err := decode(params, []string{"sort", "limit"}, &p); err != nil {
		return nil, err
	}
	if p.Sort != "" && p.Sort != "posts" {
		return nil, fmt.Errorf("%w: unknown sort %q", ErrInvalidParams, p.Sort)
	}

	users := a.data.Users()
	out := make([]UserEntry, 0, len(users))
	for _, author := range users {
		posts, err := a.data.Posts(author, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, UserEntry{Author: author, Posts: len(posts)})
	}
	if p.Sort == "posts" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Posts > out[j].Posts })
	}
	if p.Limit > 0 && p.Limit < len(out) {
		out = out[:p.Limit]
	}
	return out, nil
}
