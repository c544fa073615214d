package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"authorsapi/internal/util"
	"authorsapi/pkg/domain"
	"authorsapi/pkg/storage"
	"authorsapi/pkg/store"
)

// BookInput is the payload of a book creation. Every field but image is required.
type BookInput struct {
	Title           string `json:"title" validate:"required,max=150"`
	Pages           int    `json:"pages" validate:"required,gt=0"`
	Genre           string `json:"genre" validate:"required,max=50"`
	Price           int64  `json:"price" validate:"required,gt=0"`
	PriceUnit       string `json:"price_unit" validate:"required,max=100"`
	ISBN            string `json:"isbn" validate:"required,max=30"`
	Description     string `json:"description" validate:"required,max=255"`
	Image           string `json:"image" validate:"max=255"`
	PublicationDate string `json:"publication_date" validate:"required"`
	CompanyID       string `json:"company_id" validate:"required"`
}

// BookDetail is a book with its author and publisher.
type BookDetail struct {
	Book    domain.Book
	Author  domain.User
	Company domain.Company
}

var errStoredCoverRef = badRequest("image cannot reference a stored cover, upload the file instead")

var coverTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// CreateBook adds a book owned by actor.
func (a *App) CreateBook(ctx context.Context, actor domain.User, in BookInput) (BookDetail, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Genre = strings.TrimSpace(in.Genre)
	in.PriceUnit = strings.TrimSpace(in.PriceUnit)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Description = strings.TrimSpace(in.Description)
	in.Image = strings.TrimSpace(in.Image)
	in.PublicationDate = strings.TrimSpace(in.PublicationDate)
	in.CompanyID = strings.TrimSpace(in.CompanyID)
	if err := a.check(in); err != nil {
		return BookDetail{}, err
	}
	if storage.IsCoverKey(in.Image) {
		return BookDetail{}, errStoredCoverRef
	}
	published, err := parseDate(in.PublicationDate)
	if err != nil {
		return BookDetail{}, err
	}
	now := a.now()
	book := domain.Book{
		ID:              util.NewID(),
		Title:           in.Title,
		ISBN:            in.ISBN,
		Pages:           in.Pages,
		Genre:           in.Genre,
		Price:           in.Price,
		PriceUnit:       in.PriceUnit,
		Description:     in.Description,
		Image:           in.Image,
		PublicationDate: published,
		OwnerID:         actor.ID,
		CompanyID:       in.CompanyID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var company domain.Company
	err = a.store.WithTx(ctx, func(tx store.Tx) error {
		c, ok, err := tx.GetCompany(ctx, book.CompanyID)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("Company not found")
		}
		company = c
		if err := checkBookUnique(ctx, tx, book); err != nil {
			return err
		}
		return tx.SaveBook(ctx, book)
	})
	if err != nil {
		return BookDetail{}, fromStore(err)
	}
	return BookDetail{Book: book, Author: actor, Company: company}, nil
}

// checkBookUnique reports a Conflict when another book has b's isbn or shares
// b's title under the same owner.
func checkBookUnique(ctx context.Context, tx store.Tx, b domain.Book) error {
	if other, taken, err := tx.GetBookByOwnerTitle(ctx, b.OwnerID, b.Title); err != nil {
		return err
	} else if taken && other.ID != b.ID {
		return conflict("Book with this title already exists for this author")
	}
	if b.ISBN == "" {
		return nil
	}
	if other, taken, err := tx.GetBookByISBN(ctx, b.ISBN); err != nil {
		return err
	} else if taken && other.ID != b.ID {
		return conflict("Book isbn already in use")
	}
	return nil
}

func (a *App) GetBook(ctx context.Context, id string) (BookDetail, error) {
	b, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return BookDetail{}, internalError(err)
	}
	if !ok {
		return BookDetail{}, notFound("Book not found")
	}
	return a.bookDetail(ctx, b)
}

func (a *App) ListBooks(ctx context.Context) ([]BookDetail, error) {
	books, err := a.store.ListBooks(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	owners, err := a.usersByID(ctx)
	if err != nil {
		return nil, err
	}
	companies, err := a.store.ListCompanies(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	publishers := make(map[string]domain.Company, len(companies))
	for _, c := range companies {
		publishers[c.ID] = c
	}
	res := make([]BookDetail, 0, len(books))
	for _, b := range books {
		res = append(res, BookDetail{Book: b, Author: owners[b.OwnerID], Company: publishers[b.CompanyID]})
	}
	return res, nil
}

func (a *App) bookDetail(ctx context.Context, b domain.Book) (BookDetail, error) {
	author, _, err := a.store.GetUserByID(ctx, b.OwnerID)
	if err != nil {
		return BookDetail{}, internalError(err)
	}
	company, _, err := a.store.GetCompany(ctx, b.CompanyID)
	if err != nil {
		return BookDetail{}, internalError(err)
	}
	return BookDetail{Book: b, Author: author, Company: company}, nil
}

// UpdateBook applies a partial patch. Fields left nil keep their stored value.
func (a *App) UpdateBook(ctx context.Context, actor domain.User, id string, patch domain.BookPatch) (BookDetail, error) {
	patch.Title = trimPtr(patch.Title)
	patch.ISBN = trimPtr(patch.ISBN)
	patch.Genre = trimPtr(patch.Genre)
	patch.PriceUnit = trimPtr(patch.PriceUnit)
	patch.Description = trimPtr(patch.Description)
	patch.Image = trimPtr(patch.Image)
	patch.PublicationDate = trimPtr(patch.PublicationDate)
	patch.CompanyID = trimPtr(patch.CompanyID)
	if err := validateBookPatch(patch); err != nil {
		return BookDetail{}, err
	}
	var published time.Time
	if patch.PublicationDate != nil {
		var err error
		if published, err = parseDate(*patch.PublicationDate); err != nil {
			return BookDetail{}, err
		}
	}

	var previous string
	var updated domain.Book
	err := a.store.WithTx(ctx, func(tx store.Tx) error {
		b, ok, err := tx.GetBook(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("Book not found")
		}
		if !CanMutate(actor, b.OwnerID) {
			return forbidden("You are not authorised to update the book details")
		}
		if patch.Image != nil && *patch.Image != b.Image && storage.IsCoverKey(*patch.Image) {
			return errStoredCoverRef
		}
		previous = b.Image
		applyBookPatch(&b, patch, published)
		if patch.CompanyID != nil {
			if _, ok, err := tx.GetCompany(ctx, b.CompanyID); err != nil {
				return err
			} else if !ok {
				return notFound("Company not found")
			}
		}
		if err := checkBookUnique(ctx, tx, b); err != nil {
			return err
		}
		b.UpdatedAt = a.now()
		updated = b
		return tx.SaveBook(ctx, b)
	})
	if err != nil {
		return BookDetail{}, fromStore(err)
	}
	if previous != updated.Image {
		a.removeCover(ctx, updated.ID, previous)
	}
	return a.bookDetail(ctx, updated)
}

func validateBookPatch(p domain.BookPatch) error {
	for name, v := range map[string]*string{
		"title":            p.Title,
		"isbn":             p.ISBN,
		"genre":            p.Genre,
		"price_unit":       p.PriceUnit,
		"description":      p.Description,
		"publication_date": p.PublicationDate,
		"company_id":       p.CompanyID,
	} {
		if v != nil && *v == "" {
			return badRequest("%s cannot be empty", name)
		}
	}
	if p.Pages != nil && *p.Pages <= 0 {
		return badRequest("pages must be greater than 0")
	}
	if p.Price != nil && *p.Price <= 0 {
		return badRequest("price must be greater than 0")
	}
	return nil
}

func applyBookPatch(b *domain.Book, p domain.BookPatch, published time.Time) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.ISBN != nil {
		b.ISBN = *p.ISBN
	}
	if p.Pages != nil {
		b.Pages = *p.Pages
	}
	if p.Genre != nil {
		b.Genre = *p.Genre
	}
	if p.Price != nil {
		b.Price = *p.Price
	}
	if p.PriceUnit != nil {
		b.PriceUnit = *p.PriceUnit
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Image != nil {
		b.Image = *p.Image
	}
	if p.PublicationDate != nil {
		b.PublicationDate = published
	}
	if p.CompanyID != nil {
		b.CompanyID = *p.CompanyID
	}
}

// DeleteBook removes a single book. Books have no dependents.
func (a *App) DeleteBook(ctx context.Context, actor domain.User, id string) (domain.DeletionRecord, error) {
	return a.cascade(ctx, actor, domain.DeletionBook, id, func(tx store.Tx) (cascadePlan, error) {
		b, ok, err := tx.GetBook(ctx, id)
		if err != nil {
			return cascadePlan{}, err
		}
		if !ok {
			return cascadePlan{}, notFound("Book not found")
		}
		if !CanMutate(actor, b.OwnerID) {
			return cascadePlan{}, forbidden("You are not authorised to delete the book details")
		}
		var plan cascadePlan
		plan.addBooks([]domain.Book{b})
		return plan, nil
	})
}

// SetBookImage uploads a cover image and points the book at it.
// The previous stored cover is removed once the book is updated.
func (a *App) SetBookImage(ctx context.Context, actor domain.User, id, contentType string, r io.Reader, size int64) (domain.Book, error) {
	if a.objects == nil {
		return domain.Book{}, ErrImagesDisabled
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !coverTypes[contentType] {
		return domain.Book{}, badRequest("unsupported image type %q", contentType)
	}
	if size <= 0 {
		return domain.Book{}, badRequest("image is empty")
	}
	if size > a.maxImageBytes {
		return domain.Book{}, badRequest("image exceeds %d bytes", a.maxImageBytes)
	}
	b, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, internalError(err)
	}
	if !ok {
		return domain.Book{}, notFound("Book not found")
	}
	if !CanMutate(actor, b.OwnerID) {
		return domain.Book{}, forbidden("You are not authorised to update the book details")
	}

	key := storage.CoverKey(b.ID, contentType)
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.Book{}, internalError(fmt.Errorf("store image: %w", err))
	}
	var previous string
	var updated domain.Book
	err = a.store.WithTx(ctx, func(tx store.Tx) error {
		cur, ok, err := tx.GetBook(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("Book not found")
		}
		previous = cur.Image
		cur.Image = key
		cur.UpdatedAt = a.now()
		updated = cur
		return tx.SaveBook(ctx, cur)
	})
	if err != nil {
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			util.LoggerFromContext(ctx).Warn("remove orphaned cover failed", "key", key, "err", delErr)
		}
		return domain.Book{}, fromStore(err)
	}
	if previous != key {
		a.removeCover(ctx, updated.ID, previous)
	}
	return updated, nil
}

// removeCover deletes a replaced cover of bookID. Keys not built for the book
// are left alone.
func (a *App) removeCover(ctx context.Context, bookID, key string) {
	if a.objects == nil || !storage.IsCoverKeyOf(bookID, key) {
		return
	}
	if err := a.objects.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Warn("remove replaced cover failed", "book_id", bookID, "key", key, "err", err)
	}
}

// BookImageURL returns a time-limited URL for the book's cover. Images set as
// external references are returned unchanged.
func (a *App) BookImageURL(ctx context.Context, id string) (string, error) {
	b, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return "", internalError(err)
	}
	if !ok {
		return "", notFound("Book not found")
	}
	if b.Image == "" {
		return "", ErrNoImage
	}
	if !storage.IsCoverKey(b.Image) {
		return b.Image, nil
	}
	if a.objects == nil {
		return "", ErrImagesDisabled
	}
	url, err := a.objects.PresignGet(ctx, b.Image, a.imageURLTTL)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "", ErrNoImage
	}
	if err != nil {
		return "", internalError(err)
	}
	return url, nil
}

func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return time.Time{}, badRequest("publication_date must use the YYYY-MM-DD format")
	}
	return t, nil
}
