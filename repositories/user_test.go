package repositories

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"chat-relay/errors"
)

func Test_Create_And_Get_User(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	id, err := repository.CreateUser("alice@example.com", "Alice", "$argon2id$fake")
	req.NoError(err)
	req.NotEmpty(id)

	byEmail, err := repository.GetUserByEmail("alice@example.com")
	req.NoError(err)
	req.Equal(id, byEmail.ID)
	req.Equal("Alice", byEmail.Name)

	byID, err := repository.GetUserByID(id)
	req.NoError(err)
	req.Equal(byEmail, byID)
}

func Test_Create_User_Duplicate_Email(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	_, err := repository.CreateUser("alice@example.com", "Alice", "$argon2id$fake")
	req.NoError(err)

	_, err = repository.CreateUser("alice@example.com", "Imposter", "$argon2id$fake")
	req.ErrorIs(err, errors.ErrUserAlreadyExists)
}

func Test_List_Users_Excludes_Caller(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	aliceID, err := repository.CreateUser("alice@example.com", "Alice", "h")
	req.NoError(err)
	_, err = repository.CreateUser("bob@example.com", "Bob", "h")
	req.NoError(err)
	_, err = repository.CreateUser("clara@example.com", "Clara", "h")
	req.NoError(err)

	users, err := repository.ListUsers(aliceID)
	req.NoError(err)
	req.Len(users, 2)
	names := lo.Map(users, func(u User, _ int) string { return u.Name })
	req.ElementsMatch([]string{"Bob", "Clara"}, names)
}

func Test_Get_Unknown_User(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openTestDB(t))

	_, err := repository.GetUserByEmail("ghost@example.com")
	req.ErrorIs(err, errors.ErrUserNotFound)
}
