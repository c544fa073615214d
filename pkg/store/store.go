package store

import (
	"context"
	"errors"

	"authorsapi/pkg/domain"
)

// ErrDuplicate is returned when a write violates a unique index.
var ErrDuplicate = errors.New("duplicate key")

// Queries are the reads available both inside and outside a transaction.
type Queries interface {
	// users
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByContact(ctx context.Context, contact string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	ListUsersByRole(ctx context.Context, role domain.UserRole) ([]domain.User, error)
	SearchAuthors(ctx context.Context, fragment string) ([]domain.User, error)
	UserCount(ctx context.Context) (int, error)

	// companies
	GetCompany(ctx context.Context, id string) (domain.Company, bool, error)
	GetCompanyByName(ctx context.Context, name string) (domain.Company, bool, error)
	ListCompanies(ctx context.Context) ([]domain.Company, error)
	ListCompaniesByOwner(ctx context.Context, ownerID string) ([]domain.Company, error)

	// books
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	GetBookByISBN(ctx context.Context, isbn string) (domain.Book, bool, error)
	GetBookByOwnerTitle(ctx context.Context, ownerID, title string) (domain.Book, bool, error)
	ListBooks(ctx context.Context) ([]domain.Book, error)
	ListBooksByOwner(ctx context.Context, ownerID string) ([]domain.Book, error)
	ListBooksByCompanies(ctx context.Context, companyIDs []string) ([]domain.Book, error)
}

// Tx is a unit of work. Everything done through it commits or rolls back together.
type Tx interface {
	Queries

	SaveUser(ctx context.Context, u domain.User) error
	SaveCompany(ctx context.Context, c domain.Company) error
	SaveBook(ctx context.Context, b domain.Book) error

	DeleteBooks(ctx context.Context, ids []string) (int64, error)
	DeleteCompanies(ctx context.Context, ids []string) (int64, error)
	DeleteUser(ctx context.Context, id string) (int64, error)

	RecordDeletion(ctx context.Context, rec domain.DeletionRecord) error
}

// Store defines persistence for users, companies and books.
// WithTx commits when fn returns nil and rolls back otherwise, including on panic.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	ListDeletions(ctx context.Context, limit int) ([]domain.DeletionRecord, error)
}

// SessionStore issues and resolves access tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
