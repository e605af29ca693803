// Package identity registers members, authenticates them and searches the
// directory of users and groups.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kompanio/timebank/internal/ledger"
	"github.com/kompanio/timebank/internal/notification"
	"github.com/kompanio/timebank/internal/store"
)

// ErrInvalidRegistration reports a sign-up request that cannot be accepted.
var ErrInvalidRegistration = errors.New("invalid registration")

const minPasswordLength = 6

// Service manages identity lifecycle.
type Service struct {
	provider Provider
	store    *store.Store
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService creates a new identity service.
func NewService(provider Provider, s *store.Store, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{provider: provider, store: s, notifier: notifier, logger: logger}
}

// ParseBirthDate accepts a calendar date or an RFC 3339 timestamp.
func ParseBirthDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// DeriveUID builds the member id from the birth instant and the full name.
// The prefix encodes the birth date, which later seeds the account creation
// date.
func DeriveUID(birth time.Time, fullName string) string {
	canonical := strings.Join(strings.Fields(strings.ToLower(fullName)), " ")
	sum := sha256.Sum256([]byte(canonical + "|" + birth.UTC().Format(time.RFC3339)))
	return birth.UTC().Format("20060102-150405") + "-" + hex.EncodeToString(sum[:])[:16]
}

// CreatedFromUID recovers the birth date encoded in a member id.
func CreatedFromUID(uid string) (time.Time, error) {
	prefix, _, _ := strings.Cut(uid, "-")
	t, err := time.Parse("20060102", prefix)
	if err != nil {
		return time.Time{}, fmt.Errorf("uid %q carries no birth date: %w", uid, err)
	}
	return t, nil
}

// CreateUser registers a disabled user awaiting moderation and stores the
// public profile. It returns the uid and the stored profile.
func (s *Service) CreateUser(ctx context.Context, reg Registration) (string, Profile, error) {
	profile := reg.Data
	if strings.TrimSpace(reg.Email) == "" {
		return "", Profile{}, fmt.Errorf("%w: email is required", ErrInvalidRegistration)
	}
	if len(reg.Password) < minPasswordLength {
		return "", Profile{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRegistration, minPasswordLength)
	}
	if profile.Identity.FirstName == "" || profile.Identity.LastName == "" {
		return "", Profile{}, fmt.Errorf("%w: first and last name are required", ErrInvalidRegistration)
	}
	birth, err := ParseBirthDate(profile.Identity.BirthDate)
	if err != nil {
		return "", Profile{}, fmt.Errorf("%w: birth date: %v", ErrInvalidRegistration, err)
	}

	profile.Identity.LastName = strings.ToUpper(profile.Identity.LastName)
	name := profile.Identity.FullName()
	uid := DeriveUID(birth, name)

	if _, err := s.provider.CreateUser(ctx, reg.Password, User{
		UID:         uid,
		Email:       reg.Email,
		DisplayName: name,
		PhotoURL:    profile.PhotoURL,
		Disabled:    true,
	}); err != nil {
		return "", Profile{}, err
	}
	if err := s.store.Set(ctx, ledger.UserPath(uid), profile); err != nil {
		return "", Profile{}, err
	}
	s.logger.Info("identity.user_created", slog.String("uid", uid))

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindUserPending,
			Destination: notification.Moderators,
			Body:        fmt.Sprintf("%s (%s) is waiting for approval", name, uid),
		})
	}
	return uid, profile, nil
}

// Me returns the provider record and stored profile of the caller.
func (s *Service) Me(ctx context.Context, uid string) (User, Profile, error) {
	user, err := s.provider.GetUser(ctx, uid)
	if err != nil {
		return User{}, Profile{}, err
	}
	var profile Profile
	if _, err := s.store.Get(ctx, ledger.UserPath(uid), &profile); err != nil {
		return User{}, Profile{}, err
	}
	return user, profile, nil
}

// Search returns the users, and the groups when groups is set, whose name has
// a word starting with any word of q. Matching ignores case.
func (s *Service) Search(ctx context.Context, q string, groups bool) ([]Match, error) {
	parts := strings.Fields(strings.ToLower(q))
	matches := []Match{}
	if len(parts) == 0 {
		return matches, nil
	}

	users, err := s.store.Children(ctx, ledger.UsersPath)
	if err != nil {
		return nil, err
	}
	for _, child := range users {
		var p Profile
		if err := json.Unmarshal(child.Value, &p); err != nil {
			s.logger.Warn("identity.decode_failed", slog.String("path", child.Path), slog.Any("error", err))
			continue
		}
		name := p.Identity.FirstName + " " + p.Identity.LastName
		if nameMatches(name, parts) {
			matches = append(matches, Match{Key: store.Base(child.Path), Name: name})
		}
	}
	if !groups {
		return matches, nil
	}

	records, err := s.store.Children(ctx, ledger.GroupsPath)
	if err != nil {
		return nil, err
	}
	for _, child := range records {
		var g ledger.Group
		if err := json.Unmarshal(child.Value, &g); err != nil {
			s.logger.Warn("identity.decode_failed", slog.String("path", child.Path), slog.Any("error", err))
			continue
		}
		if nameMatches(g.Name, parts) {
			matches = append(matches, Match{Key: store.Base(child.Path), Name: g.Name})
		}
	}
	return matches, nil
}

func nameMatches(name string, parts []string) bool {
	for _, word := range strings.Fields(strings.ToLower(name)) {
		for _, p := range parts {
			if strings.HasPrefix(word, p) {
				return true
			}
		}
	}
	return false
}
