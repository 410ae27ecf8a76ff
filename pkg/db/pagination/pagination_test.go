package pagination

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorTokenIsURLSafe(t *testing.T) {
	token := CursorFor(snowflake.ID(1779412345678901248), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NotEmpty(t, token)
	assert.False(t, strings.ContainsAny(token, "+/="))

	id, err := ParseCursorID(token)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1779412345678901248), id)
}

func TestParseCursorID(t *testing.T) {
	id, err := ParseCursorID("  ")
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = ParseCursorID("%%%")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	token, err := EncodeCursor(Cursor{ID: "not-a-number"})
	require.NoError(t, err)
	_, err = ParseCursorID(token)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestPage(t *testing.T) {
	type row struct{ id string }
	rows := []*row{{id: "3"}, {id: "2"}, {id: "1"}}

	items, info := Page(rows, 2, func(r *row) string { return r.id })
	assert.Len(t, items, 2)
	assert.True(t, info.HasMore)
	assert.Equal(t, "2", info.NextPageToken)

	items, info = Page(rows, 5, func(r *row) string { return r.id })
	assert.Len(t, items, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)

	items, info = Page([]*row{nil, {id: "9"}}, 5, func(r *row) string { return r.id })
	assert.Len(t, items, 1)
	assert.False(t, info.HasMore)
}
