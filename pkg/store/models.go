package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	FirstName    string    `gorm:"size:100;not null"`
	LastName     string    `gorm:"size:100;not null"`
	Email        string    `gorm:"size:255;uniqueIndex;not null"`
	Contact      string    `gorm:"size:50;uniqueIndex;not null"`
	Role         string    `gorm:"size:20;not null;index"`
	Biography    string    `gorm:"type:text"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type CompanyModel struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Name        string    `gorm:"size:100;uniqueIndex;not null"`
	Origin      string    `gorm:"size:100;not null"`
	Description string    `gorm:"size:255;not null"`
	UserID      string    `gorm:"size:64;not null;index"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

func (CompanyModel) TableName() string { return "companies" }

type BookModel struct {
	ID              string    `gorm:"primaryKey;size:64"`
	Title           string    `gorm:"size:150;not null;uniqueIndex:idx_books_user_title,priority:2"`
	ISBN            *string   `gorm:"column:isbn;size:30;uniqueIndex"`
	Pages           int       `gorm:"not null"`
	Genre           string    `gorm:"size:50;not null"`
	Price           int64     `gorm:"not null"`
	PriceUnit       string    `gorm:"size:100;not null;default:'UGX'"`
	Description     string    `gorm:"size:255;not null"`
	Image           string    `gorm:"size:255"`
	PublicationDate time.Time `gorm:"type:date;not null"`
	UserID          string    `gorm:"size:64;not null;uniqueIndex:idx_books_user_title,priority:1"`
	CompanyID       string    `gorm:"size:64;not null;index"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time
}

func (BookModel) TableName() string { return "books" }

type DeletionModel struct {
	ID         string         `gorm:"primaryKey;size:64"`
	Kind       string         `gorm:"size:20;not null"`
	TargetID   string         `gorm:"size:64;not null;index"`
	ActorID    string         `gorm:"size:64;not null"`
	UserIDs    datatypes.JSON `gorm:"type:jsonb"`
	CompanyIDs datatypes.JSON `gorm:"type:jsonb"`
	BookIDs    datatypes.JSON `gorm:"type:jsonb"`
	ImageKeys  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}

func (DeletionModel) TableName() string { return "deletions" }
