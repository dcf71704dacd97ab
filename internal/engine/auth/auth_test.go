package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plcgate/internal/domain"
)

func TestRequireMutate(t *testing.T) {
	assert.NoError(t, RequireMutate(domain.User{Role: domain.RoleAdmin}))
	assert.NoError(t, RequireMutate(domain.User{Role: domain.RolePM}))

	err := RequireMutate(domain.User{Role: domain.RoleViewer})
	var forbidden ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	assert.Equal(t, domain.RoleViewer, forbidden.Role)
	assert.Equal(t, "role viewer not permitted; requires admin or pm", err.Error())
}

func TestPasswordHashing(t *testing.T) {
	h, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "s3cret"))
	assert.False(t, CheckPassword(h, "nope"))
	assert.False(t, CheckPassword("", "s3cret"))

	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestTokenRoundTripAndExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := Tokens{Secret: "k", TTL: time.Hour, Now: func() time.Time { return now }}

	tok, exp, err := tokens.Issue(domain.User{ID: 7, Role: domain.RolePM})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	id, err := tokens.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	other := Tokens{Secret: "other", TTL: time.Hour, Now: tokens.Now}
	_, err = other.Parse(tok)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	later := Tokens{Secret: "k", TTL: time.Hour, Now: func() time.Time { return now.Add(2 * time.Hour) }}
	_, err = later.Parse(tok)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
