package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fenix-social/realtime/pkg/bus"
)

type User struct {
	Id        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// Store holds the signed-in user and their tokens. Subscribers of OnChange
// hear about every sign-in, refresh that changes the user, and sign-out.
type Store struct {
	refresher Refresher
	changes   *bus.Bus[*User]
	now       func() time.Time

	mu      sync.RWMutex
	user    *User
	access  string
	refresh string
}

func NewStore(refresher Refresher) *Store {
	return &Store{
		refresher: refresher,
		changes:   bus.New[*User](),
		now:       time.Now,
	}
}

// ParseUser reads the user out of an access token. The signature can't be
// checked here, the backend does that on every request.
func ParseUser(token string) (*User, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenFormat, err)
	}

	var user User
	for _, key := range []string{"user_id", "sub", "id"} {
		if id := claimInt(claims[key]); id > 0 {
			user.Id = id
			break
		}
	}
	if user.Id == 0 {
		return nil, ErrMissingUserId
	}
	user.Username, _ = claims["username"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		user.ExpiresAt = exp.Time
	}
	return &user, nil
}

func claimInt(v interface{}) int64 {
	switch v := v.(type) {
	case float64:
		return int64(v)
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	}
	return 0
}

// Login starts a session with the given tokens.
func (s *Store) Login(access, refresh string) error {
	user, err := ParseUser(access)
	if err != nil {
		return err
	}
	if !user.ExpiresAt.IsZero() && !user.ExpiresAt.After(s.now()) {
		return ErrTokenExpired
	}

	s.mu.Lock()
	changed := s.user == nil || s.user.Id != user.Id
	s.user = user
	s.access = access
	if refresh != "" {
		s.refresh = refresh
	}
	s.mu.Unlock()

	if changed {
		s.changes.Publish(copyUser(user))
	}
	return nil
}

// Refresh trades the refresh token for a new access token.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.RLock()
	refresh := s.refresh
	s.mu.RUnlock()

	if refresh == "" || s.refresher == nil {
		return ErrNoRefreshToken
	}
	tokens, err := s.refresher.Refresh(ctx, refresh)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	return s.Login(tokens.AccessToken, tokens.RefreshToken)
}

func (s *Store) Logout() {
	s.mu.Lock()
	hadUser := s.user != nil
	s.user = nil
	s.access = ""
	s.refresh = ""
	s.mu.Unlock()

	if hadUser {
		s.changes.Publish(nil)
	}
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *Store) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyUser(s.user)
}

// UserId is 0 when nobody is signed in.
func (s *Store) UserId() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return 0
	}
	return s.user.Id
}

// OnChange calls fn with the new user, or nil on sign-out.
func (s *Store) OnChange(fn func(*User)) (off func()) {
	return s.changes.Subscribe(fn)
}

func copyUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
