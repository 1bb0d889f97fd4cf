package user

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

// An empty Role means the user holds no elevated privileges.
const (
	RoleNone    Role = ""
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleParent  Role = "parent"
)

var ErrUnknownRole = errors.New("unknown role")

func (r Role) IsValid() bool {
	switch r {
	case RoleNone, RoleAdmin, RoleTeacher, RoleParent:
		return true
	}
	return false
}

// ParseRole rejects anything outside the closed set so unknown labels never
// reach an authorization check.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return RoleNone, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	Role         Role      `json:"role,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already in use")
)

func New(name, email, passwordHash string, role Role) User {
	now := time.Now().UTC()

	return User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
