package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyring_RoundTrip(t *testing.T) {
	keyring.MockInit()
	k := NewKeyring("prt-test", "github_token")

	_, ok, err := k.Get()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, k.Set("  ghp_abc123  "))
	token, ok, err := k.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ghp_abc123", token)

	require.NoError(t, k.Delete())
	_, ok, err = k.Get()
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is a no-op.
	assert.NoError(t, k.Delete())
}

func TestKeyring_SetEmpty(t *testing.T) {
	keyring.MockInit()
	assert.Error(t, NewKeyring("prt-test", "github_token").Set(" "))
}

func TestStatic_ReadOnly(t *testing.T) {
	s := &Static{Token: "env-token", From: "env: PRT_GITHUB_TOKEN"}
	token, ok, err := s.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "env-token", token)
	assert.ErrorIs(t, s.Set("x"), ErrReadOnly)
	assert.ErrorIs(t, s.Delete(), ErrReadOnly)
}

func TestChain_PrefersStatic(t *testing.T) {
	mem := &Memory{}
	require.NoError(t, mem.Set("stored"))

	c := NewChain(&Static{Token: "configured", From: "config"}, mem)
	token, ok, err := c.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "configured", token)
	assert.Equal(t, "config", c.Source())
}

func TestChain_FallsBackToWritable(t *testing.T) {
	mem := &Memory{}
	c := NewChain(&Static{}, mem)

	_, ok, err := c.Get()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set("stored"))
	token, ok, err := c.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "stored", token)
	assert.Equal(t, "memory", c.Source())

	require.NoError(t, c.Delete())
	_, ok, err = c.Get()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "***", Mask("abc"))
	assert.Equal(t, "******6789", Mask("0123456789"))
}
