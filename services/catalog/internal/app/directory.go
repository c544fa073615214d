package app

import (
	"context"
	"strings"
	"time"

	"authorsapi/internal/util"
	"authorsapi/pkg/auth"
	"authorsapi/pkg/domain"
	"authorsapi/pkg/store"
	"golang.org/x/sync/errgroup"
)

// Profile is a user with the companies and books they own. The slices are never nil.
type Profile struct {
	User      domain.User
	Companies []domain.Company
	Books     []BookSummary
}

// BookSummary is an owned book together with its publisher.
type BookSummary struct {
	Book      domain.Book
	Publisher domain.Company
}

func (a *App) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, ok, err := a.store.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, internalError(err)
	}
	if !ok {
		return domain.User{}, notFound("User not found")
	}
	return u, nil
}

func (a *App) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, ok, err := a.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return domain.User{}, internalError(err)
	}
	if !ok {
		return domain.User{}, notFound("User not found")
	}
	return u, nil
}

func (a *App) GetUserByContact(ctx context.Context, contact string) (domain.User, error) {
	u, ok, err := a.store.GetUserByContact(ctx, strings.TrimSpace(contact))
	if err != nil {
		return domain.User{}, internalError(err)
	}
	if !ok {
		return domain.User{}, notFound("User not found")
	}
	return u, nil
}

func (a *App) ListByRole(ctx context.Context, role domain.UserRole) ([]domain.User, error) {
	users, err := a.store.ListUsersByRole(ctx, role)
	if err != nil {
		return nil, internalError(err)
	}
	return users, nil
}

// ListUsers returns a profile for every user.
func (a *App) ListUsers(ctx context.Context) ([]Profile, error) {
	return a.profiles(ctx, func(ctx context.Context) ([]domain.User, error) {
		return a.store.ListUsers(ctx)
	})
}

// ListAuthors returns a profile for every user with the author role.
func (a *App) ListAuthors(ctx context.Context) ([]Profile, error) {
	return a.profiles(ctx, func(ctx context.Context) ([]domain.User, error) {
		return a.store.ListUsersByRole(ctx, domain.RoleAuthor)
	})
}

// SearchAuthors matches fragment case-insensitively against author first and last names.
// No match is an empty result, not an error.
func (a *App) SearchAuthors(ctx context.Context, fragment string) ([]Profile, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, badRequest("search query is required")
	}
	return a.profiles(ctx, func(ctx context.Context) ([]domain.User, error) {
		return a.store.SearchAuthors(ctx, fragment)
	})
}

// GetProfile returns one user with what they own.
func (a *App) GetProfile(ctx context.Context, id string) (Profile, error) {
	u, err := a.GetUser(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	var companies []domain.Company
	var books []domain.Book
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		companies, err = a.store.ListCompaniesByOwner(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		books, err = a.store.ListBooksByOwner(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return Profile{}, internalError(err)
	}
	publishers, err := a.publishersOf(ctx, books, companies)
	if err != nil {
		return Profile{}, err
	}
	return buildProfile(u, companies, books, publishers), nil
}

// profiles loads the users and the whole company and book tables concurrently,
// then groups them per owner.
func (a *App) profiles(ctx context.Context, loadUsers func(context.Context) ([]domain.User, error)) ([]Profile, error) {
	var users []domain.User
	var companies []domain.Company
	var books []domain.Book
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = loadUsers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		companies, err = a.store.ListCompanies(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		books, err = a.store.ListBooks(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, internalError(err)
	}

	publishers := make(map[string]domain.Company, len(companies))
	companiesByOwner := make(map[string][]domain.Company)
	for _, c := range companies {
		publishers[c.ID] = c
		companiesByOwner[c.OwnerID] = append(companiesByOwner[c.OwnerID], c)
	}
	booksByOwner := make(map[string][]domain.Book)
	for _, b := range books {
		booksByOwner[b.OwnerID] = append(booksByOwner[b.OwnerID], b)
	}
	res := make([]Profile, 0, len(users))
	for _, u := range users {
		res = append(res, buildProfile(u, companiesByOwner[u.ID], booksByOwner[u.ID], publishers))
	}
	return res, nil
}

// publishersOf resolves the publisher of every book, reusing already loaded companies.
func (a *App) publishersOf(ctx context.Context, books []domain.Book, known []domain.Company) (map[string]domain.Company, error) {
	res := make(map[string]domain.Company, len(known))
	for _, c := range known {
		res[c.ID] = c
	}
	for _, b := range books {
		if _, ok := res[b.CompanyID]; ok {
			continue
		}
		c, ok, err := a.store.GetCompany(ctx, b.CompanyID)
		if err != nil {
			return nil, internalError(err)
		}
		if ok {
			res[c.ID] = c
		}
	}
	return res, nil
}

func buildProfile(u domain.User, companies []domain.Company, books []domain.Book, publishers map[string]domain.Company) Profile {
	p := Profile{
		User:      u,
		Companies: make([]domain.Company, 0, len(companies)),
		Books:     make([]BookSummary, 0, len(books)),
	}
	p.Companies = append(p.Companies, companies...)
	for _, b := range books {
		p.Books = append(p.Books, BookSummary{Book: b, Publisher: publishers[b.CompanyID]})
	}
	return p
}

// UpdateUser applies patch to the user id on behalf of actor.
func (a *App) UpdateUser(ctx context.Context, actor domain.User, id string, patch domain.UserPatch) (domain.User, error) {
	patch.FirstName = trimPtr(patch.FirstName)
	patch.LastName = trimPtr(patch.LastName)
	patch.Contact = trimPtr(patch.Contact)
	patch.Biography = trimPtr(patch.Biography)
	if patch.Email != nil {
		email := normalizeEmail(*patch.Email)
		patch.Email = &email
	}
	var role domain.UserRole
	if patch.Role != nil {
		parsed, ok := domain.ParseUserRole(*patch.Role)
		if !ok {
			return domain.User{}, badRequest("unknown role %q", *patch.Role)
		}
		role = parsed
	}
	for name, v := range map[string]*string{"first_name": patch.FirstName, "last_name": patch.LastName, "email": patch.Email, "contact": patch.Contact} {
		if v != nil && *v == "" {
			return domain.User{}, badRequest("%s cannot be empty", name)
		}
	}
	if patch.Email != nil {
		if err := a.validate.Var(*patch.Email, "email"); err != nil {
			return domain.User{}, badRequest("invalid value for email")
		}
	}
	var passwordHash string
	if patch.Password != nil {
		if err := auth.ValidatePassword(*patch.Password); err != nil {
			return domain.User{}, badRequest("%s", err.Error())
		}
		hash, err := auth.HashPassword(*patch.Password)
		if err != nil {
			return domain.User{}, internalError(err)
		}
		passwordHash = hash
	}

	var updated domain.User
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		u, ok, err := tx.GetUserByID(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("User not found")
		}
		if !CanMutate(actor, u.ID) {
			return forbidden("You are not authorised to update the user details")
		}
		if patch.Role != nil && role != u.Role && !IsAdmin(actor) {
			return forbidden("Only an admin can change a user's role")
		}
		if patch.Email != nil && *patch.Email != u.Email {
			if other, taken, err := tx.GetUserByEmail(ctx, *patch.Email); err != nil {
				return err
			} else if taken && other.ID != u.ID {
				return conflict("Email address already in use")
			}
			u.Email = *patch.Email
		}
		if patch.Contact != nil && *patch.Contact != u.Contact {
			if other, taken, err := tx.GetUserByContact(ctx, *patch.Contact); err != nil {
				return err
			} else if taken && other.ID != u.ID {
				return conflict("Contact already in use")
			}
			u.Contact = *patch.Contact
		}
		if patch.FirstName != nil {
			u.FirstName = *patch.FirstName
		}
		if patch.LastName != nil {
			u.LastName = *patch.LastName
		}
		if patch.Biography != nil {
			u.Biography = *patch.Biography
		}
		if patch.Role != nil {
			u.Role = role
		}
		if passwordHash != "" {
			u.PasswordHash = passwordHash
		}
		u.UpdatedAt = a.now()
		updated = u
		return tx.SaveUser(ctx, u)
	})
	if err != nil {
		return domain.User{}, fromStore(err)
	}
	if passwordHash != "" {
		a.revokeSessions(ctx, updated.ID, updated.UpdatedAt)
	}
	return updated, nil
}

// DeleteUser removes the user and everything that depends on it. Only admins may delete users.
func (a *App) DeleteUser(ctx context.Context, actor domain.User, id string) (domain.DeletionRecord, error) {
	return a.cascade(ctx, actor, domain.DeletionUser, id, func(tx store.Tx) (cascadePlan, error) {
		if _, ok, err := tx.GetUserByID(ctx, id); err != nil {
			return cascadePlan{}, err
		} else if !ok {
			return cascadePlan{}, notFound("User not found")
		}
		if !CanDeleteUser(actor) {
			return cascadePlan{}, forbidden("You are not authorised to delete the user details")
		}
		return planUserDeletion(ctx, tx, id)
	})
}

func (a *App) revokeSessions(ctx context.Context, userID string, since time.Time) {
	revoker, ok := a.sessions.(UserSessionRevoker)
	if !ok {
		return
	}
	if err := revoker.RevokeUserSessions(userID, since); err != nil {
		util.LoggerFromContext(ctx).Warn("revoke user sessions failed", "user_id", userID, "err", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
