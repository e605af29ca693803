package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/kompanio/timebank/internal/store"
)

var (
	// ErrUserExists indicates a user with the same uid is already registered.
	ErrUserExists = errors.New("user exists")
	// ErrEmailTaken indicates the email is bound to another user.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserNotFound indicates no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
)

// Repository persists provider users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, uid string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	Update(ctx context.Context, uid string, fn func(*User) error) (User, error)
}

// StoreRepository keeps users at auth/users/{uid} with an email index at
// auth/emails/{digest}.
type StoreRepository struct {
	store *store.Store
}

// NewStoreRepository builds a repository over s.
func NewStoreRepository(s *store.Store) *StoreRepository {
	return &StoreRepository{store: s}
}

func userPath(uid string) string { return path.Join("auth", "users", uid) }

func emailPath(email string) string {
	sum := sha256.Sum256([]byte(normalizeEmail(email)))
	return path.Join("auth", "emails", hex.EncodeToString(sum[:]))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create claims the email then writes the user. A uid clash releases the claim.
func (r *StoreRepository) Create(ctx context.Context, user User) error {
	uid := user.UID
	_, err := store.TransactJSON(ctx, r.store, emailPath(user.Email), func(cur *string) (*string, error) {
		if cur != nil {
			return nil, ErrEmailTaken
		}
		return &uid, nil
	})
	if err != nil {
		return err
	}

	_, err = store.TransactJSON(ctx, r.store, userPath(uid), func(cur *User) (*User, error) {
		if cur != nil {
			return nil, ErrUserExists
		}
		return &user, nil
	})
	if err != nil {
		if releaseErr := r.store.Set(ctx, emailPath(user.Email), nil); releaseErr != nil {
			return fmt.Errorf("%w (release email: %v)", err, releaseErr)
		}
		return err
	}
	return nil
}

// FindByID fetches a user by uid.
func (r *StoreRepository) FindByID(ctx context.Context, uid string) (User, error) {
	var user User
	ok, err := r.store.Get(ctx, userPath(uid), &user)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// FindByEmail resolves the email index then fetches the user.
func (r *StoreRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	var uid string
	ok, err := r.store.Get(ctx, emailPath(email), &uid)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.FindByID(ctx, uid)
}

// Update applies fn to the stored user under a transaction.
func (r *StoreRepository) Update(ctx context.Context, uid string, fn func(*User) error) (User, error) {
	var out User
	_, err := store.TransactJSON(ctx, r.store, userPath(uid), func(cur *User) (*User, error) {
		if cur == nil {
			return nil, ErrUserNotFound
		}
		if err := fn(cur); err != nil {
			return nil, err
		}
		out = *cur
		return cur, nil
	})
	if err != nil {
		return User{}, err
	}
	return out, nil
}
