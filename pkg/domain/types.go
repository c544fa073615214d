package domain

import (
	"strings"
	"time"
)

type UserRole string

const (
	RoleAuthor UserRole = "author"
	RoleAdmin  UserRole = "admin"
)

// ParseUserRole accepts only the known roles; matching is case-insensitive.
func ParseUserRole(raw string) (UserRole, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RoleAuthor):
		return RoleAuthor, true
	case string(RoleAdmin):
		return RoleAdmin, true
	default:
		return "", false
	}
}

// DefaultPriceUnit is stored when a book is saved without a currency.
const DefaultPriceUnit = "UGX"

// DateLayout is the wire and storage layout of publication dates.
const DateLayout = "2006-01-02"

type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email"`
	Contact      string    `json:"contact"`
	Role         UserRole  `json:"role"`
	Biography    string    `json:"biography,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Company struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Origin      string    `json:"origin"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	ISBN            string    `json:"isbn,omitempty"`
	Pages           int       `json:"pages"`
	Genre           string    `json:"genre"`
	Price           int64     `json:"price"`
	PriceUnit       string    `json:"priceUnit"`
	Description     string    `json:"description"`
	Image           string    `json:"image,omitempty"`
	PublicationDate time.Time `json:"publicationDate"`
	OwnerID         string    `json:"ownerId"`
	CompanyID       string    `json:"companyId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// UserPatch carries optional user changes; nil fields keep the stored value.
type UserPatch struct {
	FirstName *string
	LastName  *string
	Email     *string
	Contact   *string
	Biography *string
	Role      *string
	Password  *string
}

// CompanyPatch carries optional company changes. The owner is not patchable.
type CompanyPatch struct {
	Name        *string
	Origin      *string
	Description *string
}

// BookPatch carries optional book changes. The owner is not patchable.
type BookPatch struct {
	Title           *string
	ISBN            *string
	Pages           *int
	Genre           *string
	Price           *int64
	PriceUnit       *string
	Description     *string
	Image           *string
	PublicationDate *string
	CompanyID       *string
}

type DeletionKind string

const (
	DeletionUser    DeletionKind = "user"
	DeletionCompany DeletionKind = "company"
	DeletionBook    DeletionKind = "book"
)

// DeletionRecord describes every row removed by one delete request.
type DeletionRecord struct {
	ID         string       `json:"id"`
	Kind       DeletionKind `json:"kind"`
	TargetID   string       `json:"targetId"`
	ActorID    string       `json:"actorId"`
	UserIDs    []string     `json:"userIds"`
	CompanyIDs []string     `json:"companyIds"`
	BookIDs    []string     `json:"bookIds"`
	ImageKeys  []string     `json:"imageKeys,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Rows is the number of entity rows removed. ImageKeys are objects, not rows.
func (r DeletionRecord) Rows() int {
	return len(r.UserIDs) + len(r.CompanyIDs) + len(r.BookIDs)
}
