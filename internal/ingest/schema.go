package ingest

import (
	"fmt"
	"strings"

	"github.com/doppelganger/personaprep/internal/models"
)

// Source column names
const (
	ColID              = "tweet_id"
	ColText            = "full_text"
	ColCreatedAt       = "created_at"
	ColAuthorID        = "original_user_id"
	ColReplyTargetID   = "reply_to_id"
	ColReplyTargetUser = "reply_to_user"
)

// RequiredColumns lists the columns every source table must carry
var RequiredColumns = []string{ColID, ColText, ColCreatedAt, ColAuthorID, ColReplyTargetID, ColReplyTargetUser}

// Schema maps required column names onto record positions
type Schema struct {
	header []string
	pos    map[string]int
}

// NewSchema validates a header row
func NewSchema(header []string) (*Schema, error) {
	s := &Schema{
		header: append([]string(nil), header...),
		pos:    make(map[string]int, len(header)),
	}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := s.pos[name]; !dup {
			s.pos[name] = i
		}
	}
	for _, col := range RequiredColumns {
		if _, ok := s.pos[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}
	return s, nil
}

// Header returns the source header
func (s *Schema) Header() []string {
	return s.header
}

// Width returns the expected number of fields per record
func (s *Schema) Width() int {
	return len(s.header)
}

func (s *Schema) cell(record []string, col string) string {
	return record[s.pos[col]]
}

// Row is one source record plus its parsed post. Record keeps every source
// column so derived tables preserve the input schema.
type Row struct {
	Line   int
	Record []string
	Post   models.Post
}

// Parse converts a record into a Row, rejecting records that miss required
// values. The text cell is kept as-is; quality decisions happen later.
func (s *Schema) Parse(line int, record []string) (Row, error) {
	if len(record) != s.Width() {
		return Row{}, &RowError{Line: line, Err: fmt.Errorf("%w: %d fields, want %d", ErrMalformedRow, len(record), s.Width())}
	}

	id, err := NormalizeID(s.cell(record, ColID))
	if err != nil {
		return Row{}, &RowError{Line: line, Field: ColID, Err: err}
	}
	created, err := ParseTimestamp(s.cell(record, ColCreatedAt))
	if err != nil {
		return Row{}, &RowError{Line: line, Field: ColCreatedAt, Err: err}
	}
	target, err := NormalizeOptionalID(s.cell(record, ColReplyTargetID))
	if err != nil {
		return Row{}, &RowError{Line: line, Field: ColReplyTargetID, Err: err}
	}
	author, err := NormalizeOptionalID(s.cell(record, ColAuthorID))
	if err != nil {
		return Row{}, &RowError{Line: line, Field: ColAuthorID, Err: err}
	}

	text := s.cell(record, ColText)
	if IsNull(text) {
		text = ""
	}

	targetUser := strings.TrimSpace(s.cell(record, ColReplyTargetUser))
	if IsNull(targetUser) {
		targetUser = ""
	}

	return Row{
		Line:   line,
		Record: record,
		Post: models.Post{
			ID:              id,
			AuthorID:        author,
			CreatedAt:       strings.TrimSpace(s.cell(record, ColCreatedAt)),
			Created:         created,
			Text:            text,
			ReplyTargetID:   target,
			ReplyTargetUser: targetUser,
		},
	}, nil
}
