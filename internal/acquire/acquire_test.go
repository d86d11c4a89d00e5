package acquire

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultError(t *testing.T) {
	doc := docResult("http", "https://shop.example/p/1", "<html></html>", 200)
	assert.True(t, doc.OK())
	assert.NoError(t, doc.Error())

	blocked := blockedResult("http", "https://shop.example/p/1", 403, BlockCloudflare)
	assert.False(t, blocked.OK())
	err := blocked.Error()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Contains(t, err.Error(), "cloudflare")

	cause := eris.New("acquire: fetch: connection refused")
	failed := failedResult("http", "https://shop.example/p/1", 0, cause)
	assert.False(t, failed.OK())
	assert.Equal(t, cause, failed.Error())

	var nilResult *Result
	assert.False(t, nilResult.OK())
	assert.Error(t, nilResult.Error())
}
