package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserDisabled indicates the user has not been approved yet.
	ErrUserDisabled = errors.New("user disabled")
	// ErrInvalidToken indicates a bearer token that does not verify.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are carried by access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Name    string `json:"name,omitempty"`
	Version int    `json:"ver"`
}

// UserID is the subject of the token.
func (c Claims) UserID() string { return c.Subject }

// Provider manages member identities and their credentials.
type Provider interface {
	CreateUser(ctx context.Context, password string, user User) (User, error)
	GetUser(ctx context.Context, uid string) (User, error)
	UpdateUser(ctx context.Context, uid string, update UserUpdate) (User, error)
	Verify(ctx context.Context, token string) (Claims, error)
}

// LocalProvider is a Provider backed by a Repository, bcrypt password hashes
// and HS256 access tokens.
type LocalProvider struct {
	repo   Repository
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLocalProvider constructs a provider that signs tokens with secret.
func NewLocalProvider(repo Repository, secret string, ttl time.Duration) *LocalProvider {
	return &LocalProvider{repo: repo, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// CreateUser hashes password and stores user.
func (p *LocalProvider) CreateUser(ctx context.Context, password string, user User) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	user.Email = normalizeEmail(user.Email)
	user.PasswordHash = hash
	user.CreatedAt = p.now().UTC()
	if err := p.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUser fetches the user with uid.
func (p *LocalProvider) GetUser(ctx context.Context, uid string) (User, error) {
	return p.repo.FindByID(ctx, uid)
}

// UpdateUser applies update to the user with uid.
func (p *LocalProvider) UpdateUser(ctx context.Context, uid string, update UserUpdate) (User, error) {
	return p.repo.Update(ctx, uid, func(u *User) error {
		if update.Disabled != nil {
			u.Disabled = *update.Disabled
		}
		if update.PhotoURL != nil {
			u.PhotoURL = *update.PhotoURL
		}
		return nil
	})
}

// SignIn checks the password and issues an access token.
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (Token, User, error) {
	user, err := p.repo.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return Token{}, User{}, ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return Token{}, User{}, ErrInvalidCredentials
	}
	if user.Disabled {
		return Token{}, User{}, ErrUserDisabled
	}

	now := p.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
		Name:    user.DisplayName,
		Version: user.TokenVersion,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return Token{}, User{}, err
	}
	return Token{AccessToken: signed, ExpiresIn: int64(p.ttl.Seconds())}, user, nil
}

// SignOut invalidates every token issued to uid so far.
func (p *LocalProvider) SignOut(ctx context.Context, uid string) error {
	_, err := p.repo.Update(ctx, uid, func(u *User) error {
		u.TokenVersion++
		return nil
	})
	return err
}

// Verify checks the token signature, expiry and version against the stored
// user.
func (p *LocalProvider) Verify(ctx context.Context, token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now))
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := p.repo.FindByID(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		return Claims{}, ErrInvalidToken
	}
	if err != nil {
		return Claims{}, err
	}
	if user.Disabled || user.TokenVersion != claims.Version {
		return Claims{}, fmt.Errorf("%w: token invalidated", ErrInvalidToken)
	}
	return claims, nil
}
