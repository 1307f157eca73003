package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalHashIsOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": "two", "z": []int{3}}
	b := map[string]interface{}{"z": []int{3}, "y": "two", "x": 1}

	ha, err := CanonicalHash(a)
	require.NoError(t, err)
	hb, err := CanonicalHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestCanonicalHashDiffersOnContent(t *testing.T) {
	ha, err := CanonicalHash(map[string]int{"x": 1})
	require.NoError(t, err)
	hb, err := CanonicalHash(map[string]int{"x": 2})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestDigestU64Deterministic(t *testing.T) {
	obs := []uint64{4, 1024, 2, 9000}
	assert.Equal(t, DigestU64(obs), DigestU64(obs))
	assert.NotEqual(t, DigestU64(obs), DigestU64([]uint64{4, 1024, 2, 9001}))
	assert.NotEqual(t, DigestU64([]uint64{1, 2}), DigestU64([]uint64{2, 1}))
}

func TestSignAndVerify(t *testing.T) {
	s, err := NewEd25519Signer("peer-1")
	require.NoError(t, err)

	msg := []byte("epoch:100:root:abc")
	sig := s.Sign(msg)
	assert.True(t, Verify(s.PublicKey(), msg, sig))
	assert.False(t, Verify(s.PublicKey(), []byte("tampered"), sig))

	other, err := NewEd25519Signer("peer-2")
	require.NoError(t, err)
	assert.False(t, Verify(other.PublicKey(), msg, sig))
}

func TestParsePublicKeyRoundTrip(t *testing.T) {
	s, err := NewEd25519Signer("peer-1")
	require.NoError(t, err)

	pub, err := ParsePublicKey(s.PublicKeyHex())
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), pub)

	_, err = ParsePublicKey("zz")
	assert.Error(t, err)
	_, err = ParsePublicKey("abcd")
	assert.Error(t, err)
}
