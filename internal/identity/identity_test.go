package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECDHIsSymmetric(t *testing.T) {
	alice, err := New()
	require.NoError(t, err)
	bob, err := New()
	require.NoError(t, err)

	ab, err := alice.ECDH(bob.PublicKey())
	require.NoError(t, err)
	ba, err := bob.ECDH(alice.PublicKey())
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.NotEmpty(t, ab)
}

func TestPublicKeyIsCompressed(t *testing.T) {
	id, err := New()
	require.NoError(t, err)
	assert.Len(t, id.PublicKey(), 33)
}

func TestLoadOrCreateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")

	created, err := LoadOrCreate(path)
	require.NoError(t, err)

	loaded, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, created.PublicKey(), loaded.PublicKey())
}

func TestFromHexRejectsBadInput(t *testing.T) {
	_, err := FromHex("not hex")
	assert.Error(t, err)

	_, err = FromHex("abcd")
	assert.Error(t, err)
}
