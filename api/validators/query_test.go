package validators

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "paid", Sanitize("  paid\n", 10))
	assert.Equal(t, "pa id", Sanitize("pa\x00 id", 10))
	assert.Equal(t, "abc", Sanitize("abcdef", 3))
	assert.Equal(t, "caf", Sanitize("café", 4))
	assert.Equal(t, "café", Sanitize("café", 5))
	assert.Equal(t, "unbounded", Sanitize("unbounded", 0))
}

func TestParseQueryParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/validations?limit=5&period=2024-02&from=2024-02-01T00:00:00Z", nil)

	limit, err := ParseQueryInt(r, "limit", 100, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	month, err := ParseQueryMonth(r, "period")
	require.NoError(t, err)
	assert.Equal(t, "2024-02", month.String())

	from, err := ParseQueryTime(r, "from")
	require.NoError(t, err)
	require.NotNil(t, from)
	assert.Equal(t, 1, from.Day())

	to, err := ParseQueryTime(r, "to")
	require.NoError(t, err)
	assert.Nil(t, to)

	bad := httptest.NewRequest("GET", "/?limit=5000&period=Feb", nil)
	_, err = ParseQueryInt(bad, "limit", 100, 1, 1000)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	_, err = ParseQueryMonth(bad, "period")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = ParseUUID("nope", "build_id")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}
