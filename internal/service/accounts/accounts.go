// Package accounts is the credential store: it turns plaintext credentials
// into persisted users and back, without ever handing out the hash.
package accounts

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/geocoder89/progresshub/internal/apperr"
	"github.com/geocoder89/progresshub/internal/domain/user"
	"github.com/geocoder89/progresshub/internal/security"
	"github.com/geocoder89/progresshub/internal/validation"
	"github.com/go-playground/validator/v10"
)

const invalidCredentials = "Invalid credentials"

type Store interface {
	Create(ctx context.Context, u user.User) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	List(ctx context.Context) ([]user.User, error)
}

type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	Compare(ctx context.Context, hash, plain string) error
}

type RegisterInput struct {
	Name     string `json:"name" validate:"required,notblank"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,maxbytes=72"`
}

type CredentialsInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type Service struct {
	store    Store
	hasher   PasswordHasher
	validate *validator.Validate
	log      *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewService(store Store, hasher PasswordHasher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:    store,
		hasher:   hasher,
		validate: validation.New(),
		log:      log,
	}
}

// Register validates the input, hashes the password and persists a user with
// no role. A duplicate email is a Conflict whether it is caught by the
// lookup or by the store's unique constraint.
func (s *Service) Register(ctx context.Context, in RegisterInput) (user.User, error) {
	if err := s.check(in); err != nil {
		return user.User{}, err
	}

	_, err := s.store.GetByEmail(ctx, in.Email)

	switch {
	case err == nil:
		return user.User{}, emailTaken(user.ErrEmailTaken)
	case !errors.Is(err, user.ErrNotFound):
		return user.User{}, apperr.Internal("Could not create user", err)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return user.User{}, apperr.Internal("Could not create user", err)
	}

	u, err := s.store.Create(ctx, user.New(in.Name, in.Email, hash, user.RoleNone))
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return user.User{}, emailTaken(err)
		}
		return user.User{}, apperr.Internal("Could not create user", err)
	}

	s.log.InfoContext(ctx, "user registered", "user_id", u.ID)

	return u, nil
}

// VerifyCredentials answers unknown email and wrong password identically.
// Unknown emails still pay for a bcrypt comparison so timing does not tell
// them apart.
func (s *Service) VerifyCredentials(ctx context.Context, in CredentialsInput) (user.User, error) {
	if err := s.check(in); err != nil {
		return user.User{}, err
	}

	u, err := s.store.GetByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			return user.User{}, apperr.Internal("Could not verify credentials", err)
		}

		if dummy := s.dummy(ctx); dummy != "" {
			_ = s.hasher.Compare(ctx, dummy, in.Password)
		}
		return user.User{}, apperr.Authentication("invalid_credentials", invalidCredentials)
	}

	err = s.hasher.Compare(ctx, u.PasswordHash, in.Password)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return user.User{}, apperr.Internal("Could not verify credentials", ctxErr)
		}
		if !security.IsMismatch(err) {
			s.log.WarnContext(ctx, "stored password hash unusable", "user_id", u.ID, "err", err)
		}
		return user.User{}, apperr.Authentication("invalid_credentials", invalidCredentials)
	}

	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (user.User, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, apperr.NotFound("User not found", err)
		}
		return user.User{}, apperr.Internal("Could not fetch user", err)
	}
	return u, nil
}

func (s *Service) List(ctx context.Context) ([]user.User, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return nil, apperr.Internal("Could not list users", err)
	}
	return users, nil
}

// EnsureAdmin creates an admin account when none exists for email. It is a
// no-op when email or password is empty or the email is already registered.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) error {
	if email == "" || password == "" {
		return nil
	}

	_, err := s.store.GetByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return err
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return err
	}

	u, err := s.store.Create(ctx, user.New(name, email, hash, user.RoleAdmin))
	if err != nil {
		// lost a race with another instance seeding the same admin
		if errors.Is(err, user.ErrEmailTaken) {
			return nil
		}
		return err
	}

	s.log.InfoContext(ctx, "admin user seeded", "user_id", u.ID)

	return nil
}

func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	fields, ok := validation.Fields(err)
	if !ok {
		return apperr.Internal("Could not validate request", err)
	}

	return apperr.Validation("Invalid request body", map[string]any{"fields": fields})
}

func (s *Service) dummy(ctx context.Context) string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(context.WithoutCancel(ctx), "progresshub-timing-equaliser")
		if err != nil {
			s.log.WarnContext(ctx, "could not prepare dummy hash", "err", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func emailTaken(err error) error {
	return apperr.Conflict("email_taken", "Email already in use", err)
}
