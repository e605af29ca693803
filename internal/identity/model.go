package identity

import (
	"strings"
	"time"
)

// User is the identity provider record of a member.
type User struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PhotoURL     string    `json:"photoURL,omitempty"`
	Disabled     bool      `json:"disabled"`
	PasswordHash []byte    `json:"passwordHash"`
	TokenVersion int       `json:"tokenVersion"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserUpdate lists the provider fields that may change after creation. Nil
// fields are left alone.
type UserUpdate struct {
	Disabled *bool
	PhotoURL *string
}

// Person is the civil identity a member registers with.
type Person struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	BirthDate string `json:"birthDate"`
}

// FullName is "First LAST" once the last name has been normalised.
func (p Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Profile is the public record stored at users/{uid}.
type Profile struct {
	Identity Person `json:"identity"`
	PhotoURL string `json:"photoURL,omitempty"`
}

// Registration is the sign-up request.
type Registration struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Data     Profile `json:"data"`
}

// Match is one identity search result.
type Match struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Token is an issued bearer credential.
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
