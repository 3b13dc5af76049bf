package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashOrRead(t *testing.T) {
	hash, err := HashOrRead("hunter2")
	require.NoError(t, err)
	assert.True(t, IsBcryptHash(string(hash)))
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))

	again, err := HashOrRead(string(hash))
	require.NoError(t, err)
	assert.Equal(t, hash, again, "an existing hash is kept as is")
}

func TestCheckPasswordRejectsGarbageHash(t *testing.T) {
	assert.False(t, CheckPassword([]byte("not-a-hash"), "anything"))
	assert.False(t, CheckPassword(nil, ""))
}
