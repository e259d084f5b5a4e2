package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/arena-oj/judgeserver/internal/store"
	"github.com/arena-oj/judgeserver/types"
)

// UserStore is the user persistence the service depends on.
type UserStore interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
}

// UserService handles registration and credential checks.
type UserService struct {
	users UserStore
}

func NewUserService(users UserStore) *UserService {
	return &UserService{users: users}
}

// Register creates a user with a bcrypt password hash.
func (s *UserService) Register(ctx context.Context, username, email, name, password string) (types.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return types.User{}, validationErrorf("username must not be empty")
	}
	if len(password) < 8 {
		return types.User{}, validationErrorf("password must be at least 8 characters")
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return types.User{}, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.users.Create(ctx, types.User{
		Username:     username,
		Email:        strings.TrimSpace(email),
		Name:         strings.TrimSpace(name),
		Role:         types.RoleUser,
		PasswordHash: string(hash),
	})
	if err != nil {
		return types.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}

// Authenticate verifies credentials and returns the user on success.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (types.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	user.PasswordHash = ""
	return user, nil
}

// SetRole changes a user's role. Admin operation; the first admin is
// promoted directly in the database.
func (s *UserService) SetRole(ctx context.Context, id int, role string) (types.User, error) {
	if role != types.RoleUser && role != types.RoleAdmin {
		return types.User{}, validationErrorf(fmt.Sprintf("unknown role %q", role))
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	user.Role = role
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return types.User{}, err
	}
	updated.PasswordHash = ""
	return updated, nil
}

// Get returns a user by id with the password hash stripped.
func (s *UserService) Get(ctx context.Context, id int) (types.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}
