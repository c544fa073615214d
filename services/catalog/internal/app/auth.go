package app

import (
	"context"
	"errors"
	"strings"

	"authorsapi/internal/util"
	"authorsapi/pkg/auth"
	"authorsapi/pkg/domain"
	"authorsapi/pkg/store"
)

// RegisterInput is the payload of a sign-up.
type RegisterInput struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Contact   string `json:"contact" validate:"required,max=50"`
	Password  string `json:"password" validate:"required"`
	Biography string `json:"biography"`
}

// Register creates an author account and signs it in. The first account
// ever created becomes the admin.
func (a *App) Register(ctx context.Context, in RegisterInput) (domain.User, string, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = normalizeEmail(in.Email)
	in.Contact = strings.TrimSpace(in.Contact)
	in.Biography = strings.TrimSpace(in.Biography)
	if err := a.check(in); err != nil {
		return domain.User{}, "", err
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, "", badRequest("%s", err.Error())
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, "", internalError(err)
	}
	now := a.now()
	user := domain.User{
		ID:           util.NewID(),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		Contact:      in.Contact,
		Role:         domain.RoleAuthor,
		Biography:    in.Biography,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = a.store.WithTx(ctx, func(tx store.Tx) error {
		if _, taken, err := tx.GetUserByEmail(ctx, user.Email); err != nil {
			return err
		} else if taken {
			return conflict("Email address already in use")
		}
		if _, taken, err := tx.GetUserByContact(ctx, user.Contact); err != nil {
			return err
		} else if taken {
			return conflict("Contact already in use")
		}
		count, err := tx.UserCount(ctx)
		if err != nil {
			return err
		}
		if count == 0 {
			user.Role = domain.RoleAdmin
		}
		return tx.SaveUser(ctx, user)
	})
	if err != nil {
		return domain.User{}, "", fromStore(err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", internalError(err)
	}
	util.LoggerFromContext(ctx).Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, token, nil
}

// Login checks the credentials and issues an access token.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, "", badRequest("email and password required")
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", internalError(err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", internalError(err)
	}
	return user, token, nil
}

// Logout revokes token. Unknown or malformed tokens are ignored.
func (a *App) Logout(_ context.Context, token string) error {
	if err := a.sessions.DeleteSession(token); err != nil {
		return internalError(err)
	}
	return nil
}

// UserFromToken resolves the acting user of a bearer token.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, error) {
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil {
		if errors.Is(err, store.ErrTokenInvalid) || errors.Is(err, store.ErrTokenRevoked) {
			return domain.User{}, ErrUnauthenticated
		}
		return domain.User{}, internalError(err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	user, found, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, internalError(err)
	}
	if !found {
		return domain.User{}, ErrUnauthenticated
	}
	return user, nil
}
