package gachaverse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	address, err := NormalizeAddress("  0xABCDEF1234567890ABCDEF1234567890ABCDEF12 ")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef1234567890abcdef1234567890abcdef12", address)

	for _, bad := range []string{
		"",
		"0x123",
		"abcdef1234567890abcdef1234567890abcdef12",
		"0xZZcdef1234567890abcdef1234567890abcdef12",
		"0xabcdef1234567890abcdef1234567890abcdef123",
	} {
		_, err := NormalizeAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, "address: %q", bad)
	}
}

func TestFloor2(t *testing.T) {
	assert.Equal(t, 0.1, Floor2(0.1))
	assert.Equal(t, 1.23, Floor2(1.239))
	assert.Equal(t, 0.0, Floor2(0.0099))
}
