package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	args := m.Called(ctx, refreshToken)
	return args.Get(0).(Tokens), args.Error(1)
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-checked"))
	require.NoError(t, err)
	return signed
}

func TestParseUser(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	user, err := ParseUser(token(t, jwt.MapClaims{"user_id": "42", "username": "ana", "exp": exp.Unix()}))
	require.NoError(t, err)
	assert.Equal(t, int64(42), user.Id)
	assert.Equal(t, "ana", user.Username)
	assert.True(t, exp.Equal(user.ExpiresAt))

	user, err = ParseUser(token(t, jwt.MapClaims{"sub": float64(7)}))
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.Id)

	_, err = ParseUser(token(t, jwt.MapClaims{"username": "nobody"}))
	assert.ErrorIs(t, err, ErrMissingUserId)

	_, err = ParseUser("garbage")
	assert.ErrorIs(t, err, ErrInvalidTokenFormat)
}

func TestLoginLogoutNotifies(t *testing.T) {
	s := NewStore(nil)

	var seen []*User
	s.OnChange(func(u *User) { seen = append(seen, u) })

	require.NoError(t, s.Login(token(t, jwt.MapClaims{"user_id": 3}), "r1"))
	assert.Equal(t, int64(3), s.UserId())
	assert.NotEmpty(t, s.Token())

	// same user again is not a change
	require.NoError(t, s.Login(token(t, jwt.MapClaims{"user_id": 3, "n": 1}), ""))

	s.Logout()
	s.Logout()
	assert.Zero(t, s.UserId())
	assert.Empty(t, s.Token())

	require.Len(t, seen, 2)
	assert.Equal(t, int64(3), seen[0].Id)
	assert.Nil(t, seen[1])
}

func TestLoginRejectsExpiredToken(t *testing.T) {
	s := NewStore(nil)
	err := s.Login(token(t, jwt.MapClaims{"user_id": 3, "exp": time.Now().Add(-time.Minute).Unix()}), "")
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Nil(t, s.CurrentUser())
}

func TestRefresh(t *testing.T) {
	refresher := &mockRefresher{}
	fresh := token(t, jwt.MapClaims{"user_id": 3, "fresh": true})
	refresher.On("Refresh", mock.Anything, "r1").Return(Tokens{AccessToken: fresh, RefreshToken: "r2"}, nil).Once()
	refresher.On("Refresh", mock.Anything, "r2").Return(Tokens{}, errors.New("revoked")).Once()

	s := NewStore(refresher)
	require.NoError(t, s.Login(token(t, jwt.MapClaims{"user_id": 3}), "r1"))

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, fresh, s.Token())

	assert.Error(t, s.Refresh(context.Background()))
	refresher.AssertExpectations(t)
}

func TestRefreshWithoutToken(t *testing.T) {
	s := NewStore(&mockRefresher{})
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrNoRefreshToken)
}
