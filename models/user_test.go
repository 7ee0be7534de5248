package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

func TestCreateUser_Validation(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "A", f.user.DefaultLetter)

	_, err := CreateUser(f.ctx, NewUser{Username: "x", DefaultLetter: "ab"})
	require.Error(t, err)
	assert.True(t, utils.IsValidation(err))

	_, err = CreateUser(f.ctx, NewUser{Username: "counter"})
	assert.True(t, utils.IsConflict(err))
}

func TestFindActiveUser(t *testing.T) {
	f := newFixture(t)

	user, err := FindActiveUser(f.ctx, " verifier ")
	require.NoError(t, err)
	assert.Equal(t, f.other.ID, user.ID)

	require.NoError(t, f.db.Model(&User{}).Where("id = ?", f.other.ID).Update("is_active", false).Error)
	_, err = FindActiveUser(f.ctx, "verifier")
	assert.True(t, errors.Is(err, ErrUserNotFound))
	assert.True(t, utils.IsNotFound(err))
}
