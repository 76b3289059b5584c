package interfaces

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInviteCode(t *testing.T) {
	// Codes are matched byte for byte against the ledger, so case must
	// survive validation untouched.
	code, err := NewInviteCode("AbC123XyZ9kQ")
	require.NoError(t, err)
	assert.Equal(t, "AbC123XyZ9kQ", code)

	code, err = NewInviteCode("  AbC123XyZ9kQ\n")
	require.NoError(t, err)
	assert.Equal(t, "AbC123XyZ9kQ", code)

	for _, raw := range []string{"", "   ", "abc!def", "abc def", "abc-def"} {
		_, err := NewInviteCode(raw)
		assert.True(t, errors.Is(err, ErrInvalidArgument), "input %q", raw)
	}
}

func TestNewOrgNameNormalizes(t *testing.T) {
	name, err := NewOrgName("Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, OrgName("acmecorp"), name)

	_, err = NewOrgName("!!!")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
