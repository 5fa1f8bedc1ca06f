package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePatternPlaceholders(t *testing.T) {
	re, err := compilePattern("tools/{name}")
	require.NoError(t, err)

	params, ok := matchParams(re, "tools/list")
	require.True(t, ok)
	assert.Equal(t, "list", params["name"])

	// A placeholder spans exactly one segment.
	_, ok = matchParams(re, "tools/list/extra")
	assert.False(t, ok)

	_, ok = matchParams(re, "tools/")
	assert.False(t, ok)
}

func TestCompilePatternWildcard(t *testing.T) {
	re, err := compilePattern("notifications/*")
	require.NoError(t, err)

	_, ok := matchParams(re, "notifications/progress")
	assert.True(t, ok)

	// Wildcard crosses segment boundaries.
	_, ok = matchParams(re, "notifications/resources/updated")
	assert.True(t, ok)

	_, ok = matchParams(re, "tools/list")
	assert.False(t, ok)
}

func TestCompilePatternLiteralIsAnchored(t *testing.T) {
	re, err := compilePattern("ping")
	require.NoError(t, err)

	_, ok := matchParams(re, "ping")
	assert.True(t, ok)

	_, ok = matchParams(re, "ping/extra")
	assert.False(t, ok)

	_, ok = matchParams(re, "prefix/ping")
	assert.False(t, ok)
}

func TestCompilePatternEscapesMetacharacters(t *testing.T) {
	re, err := compilePattern("tools.list")
	require.NoError(t, err)

	_, ok := matchParams(re, "tools.list")
	assert.True(t, ok)

	// The dot is literal, not a regexp wildcard.
	_, ok = matchParams(re, "toolsXlist")
	assert.False(t, ok)
}

func TestCompilePatternMultiplePlaceholders(t *testing.T) {
	re, err := compilePattern("resources/{kind}/{id}")
	require.NoError(t, err)

	params, ok := matchParams(re, "resources/prompt/42")
	require.True(t, ok)
	assert.Equal(t, "prompt", params["kind"])
	assert.Equal(t, "42", params["id"])
}

func TestCompilePatternRejectsEmpty(t *testing.T) {
	_, err := compilePattern("")
	require.Error(t, err)
}
