package cache

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c := InitRedis(mr.Addr())
	require.NotNil(t, c)
	assert.Same(t, c, GetClient())
	require.NoError(t, Close())
	assert.Nil(t, GetClient())

	c = InitRedis("redis://" + mr.Addr() + "/0")
	require.NotNil(t, c)
	require.NoError(t, Close())
}

func TestInitRedis_Unavailable(t *testing.T) {
	assert.Nil(t, InitRedis(""))
	assert.Nil(t, InitRedis("redis://%zz"))
	assert.Nil(t, GetClient())
	assert.NoError(t, Close())
}
