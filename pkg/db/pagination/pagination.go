// Package pagination implements keyset paging over snowflake ids, newest first.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrInvalidCursor = errors.New("invalid_cursor")

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=10" validate:"gte=1,lte=250"`
}

type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken     string `json:"next_page_token"`
	PreviousPageToken string `json:"previous_page_token,omitempty"`
	HasMore           bool   `json:"has_more"`
}

// EncodeCursor produces a query-string safe token.
func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(token string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// CursorFor is the token that resumes after the row with id.
func CursorFor(id snowflake.ID, createdAt time.Time) string {
	token, err := EncodeCursor(Cursor{ID: id.String(), CreatedAt: createdAt.UTC().Format(time.RFC3339)})
	if err != nil {
		return ""
	}
	return token
}

// ParseCursorID returns 0 for an empty token.
func ParseCursorID(token string) (snowflake.ID, error) {
	if strings.TrimSpace(token) == "" {
		return 0, nil
	}
	cursor, err := DecodeCursor(token)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	id, err := snowflake.ParseString(strings.TrimSpace(cursor.ID))
	if err != nil || id <= 0 {
		return 0, ErrInvalidCursor
	}
	return id, nil
}

// Page drops the look-ahead row repositories fetch past limit, and nil rows.
func Page[T any](rows []*T, limit int, cursor func(*T) string) ([]T, PageInfo) {
	var info PageInfo
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
		info.HasMore = true
	}

	out := make([]T, 0, len(rows))
	var last *T
	for _, row := range rows {
		if row == nil {
			continue
		}
		out = append(out, *row)
		last = row
	}
	if info.HasMore && last != nil {
		info.NextPageToken = cursor(last)
	}
	return out, info
}
