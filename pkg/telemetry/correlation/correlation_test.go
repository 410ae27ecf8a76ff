package correlation

import (
	"context"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCorrelationID(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	_, err := ulid.ParseStrict(cid)
	require.NoError(t, err)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))

	again, same := EnsureCorrelationID(ctx)
	assert.Equal(t, cid, same)
	assert.Equal(t, cid, ExtractCorrelationID(again))
}

func TestFromHeader(t *testing.T) {
	ctx, cid := FromHeader(context.Background(), " sync-batch-42 ", "req-1")
	assert.Equal(t, "sync-batch-42", cid)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))

	_, cid = FromHeader(context.Background(), "", "req-1")
	assert.Equal(t, "req-1", cid)

	_, cid = FromHeader(context.Background(), strings.Repeat("x", 200), "")
	_, err := ulid.ParseStrict(cid)
	require.NoError(t, err)
}
