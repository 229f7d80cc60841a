package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	token, err := Encode(Cursor{UserID: "u-7", MatchedUnix: 1714989600000})
	require.NoError(t, err)

	c, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "u-7", c.UserID)
	assert.Equal(t, int64(1714989600000), c.MatchedUnix)
}

func TestDecodeEmptyIsFirstPage(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.True(t, c.IsZero())
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode("%%%")
	assert.Error(t, err)

	_, err = Decode("bm90LWpzb24=") // "not-json"
	assert.Error(t, err)
}
