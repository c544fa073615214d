package server

import (
	"time"

	"authorsapi/pkg/domain"
	"authorsapi/services/catalog/internal/app"
)

type authorView struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Contact   string    `json:"contact"`
	Type      string    `json:"type"`
	Biography string    `json:"biography"`
	CreatedAt time.Time `json:"created_at"`
}

func toAuthorView(u domain.User) authorView {
	return authorView{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.FullName(),
		Email:     u.Email,
		Contact:   u.Contact,
		Type:      string(u.Role),
		Biography: u.Biography,
		CreatedAt: u.CreatedAt,
	}
}

type publisherView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Origin      string `json:"origin"`
	Description string `json:"description"`
}

func toPublisherView(c domain.Company) publisherView {
	return publisherView{ID: c.ID, Name: c.Name, Origin: c.Origin, Description: c.Description}
}

type bookFields struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Pages           int       `json:"pages"`
	Genre           string    `json:"genre"`
	Price           int64     `json:"price"`
	PriceUnit       string    `json:"price_unit"`
	ISBN            string    `json:"isbn"`
	Description     string    `json:"description"`
	Image           string    `json:"image"`
	PublicationDate string    `json:"publication_date"`
	CompanyID       string    `json:"company_id"`
	UserID          string    `json:"user_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toBookFields(b domain.Book) bookFields {
	return bookFields{
		ID:              b.ID,
		Title:           b.Title,
		Pages:           b.Pages,
		Genre:           b.Genre,
		Price:           b.Price,
		PriceUnit:       b.PriceUnit,
		ISBN:            b.ISBN,
		Description:     b.Description,
		Image:           b.Image,
		PublicationDate: b.PublicationDate.Format(domain.DateLayout),
		CompanyID:       b.CompanyID,
		UserID:          b.OwnerID,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

type bookView struct {
	bookFields
	Author  authorView    `json:"author"`
	Company publisherView `json:"company"`
}

func toBookView(d app.BookDetail) bookView {
	return bookView{
		bookFields: toBookFields(d.Book),
		Author:     toAuthorView(d.Author),
		Company:    toPublisherView(d.Company),
	}
}

type companyView struct {
	publisherView
	UserID    string     `json:"user_id"`
	User      authorView `json:"user"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func toCompanyView(d app.CompanyDetail) companyView {
	return companyView{
		publisherView: toPublisherView(d.Company),
		UserID:        d.Company.OwnerID,
		User:          toAuthorView(d.Owner),
		CreatedAt:     d.Company.CreatedAt,
		UpdatedAt:     d.Company.UpdatedAt,
	}
}

type ownedBookView struct {
	bookFields
	Company publisherView `json:"company"`
}

type userView struct {
	authorView
	UpdatedAt time.Time       `json:"updated_at"`
	Companies []publisherView `json:"companies"`
	Books     []ownedBookView `json:"books"`
}

func toUserView(p app.Profile) userView {
	v := userView{
		authorView: toAuthorView(p.User),
		UpdatedAt:  p.User.UpdatedAt,
		Companies:  make([]publisherView, 0, len(p.Companies)),
		Books:      make([]ownedBookView, 0, len(p.Books)),
	}
	for _, c := range p.Companies {
		v.Companies = append(v.Companies, toPublisherView(c))
	}
	for _, b := range p.Books {
		v.Books = append(v.Books, ownedBookView{bookFields: toBookFields(b.Book), Company: toPublisherView(b.Publisher)})
	}
	return v
}

// bareUser renders a user whose companies and books were not loaded.
func bareUser(u domain.User) userView {
	return toUserView(app.Profile{User: u})
}

type deletionView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	TargetID  string    `json:"target_id"`
	ActorID   string    `json:"actor_id"`
	Users     []string  `json:"users"`
	Companies []string  `json:"companies"`
	Books     []string  `json:"books"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

func toDeletionView(rec domain.DeletionRecord) deletionView {
	return deletionView{
		ID:        rec.ID,
		Kind:      string(rec.Kind),
		TargetID:  rec.TargetID,
		ActorID:   rec.ActorID,
		Users:     nonNil(rec.UserIDs),
		Companies: nonNil(rec.CompanyIDs),
		Books:     nonNil(rec.BookIDs),
		Rows:      rec.Rows(),
		CreatedAt: rec.CreatedAt,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPatchRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Contact   *string `json:"contact"`
	Biography *string `json:"biography"`
	Type      *string `json:"type"`
	Password  *string `json:"password"`
}

func (r userPatchRequest) patch() domain.UserPatch {
	return domain.UserPatch{
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Email:     r.Email,
		Contact:   r.Contact,
		Biography: r.Biography,
		Role:      r.Type,
		Password:  r.Password,
	}
}

type companyPatchRequest struct {
	Name        *string `json:"name"`
	Origin      *string `json:"origin"`
	Description *string `json:"description"`
}

func (r companyPatchRequest) patch() domain.CompanyPatch {
	return domain.CompanyPatch{Name: r.Name, Origin: r.Origin, Description: r.Description}
}

type bookPatchRequest struct {
	Title           *string `json:"title"`
	Pages           *int    `json:"pages"`
	Genre           *string `json:"genre"`
	Price           *int64  `json:"price"`
	PriceUnit       *string `json:"price_unit"`
	ISBN            *string `json:"isbn"`
	Description     *string `json:"description"`
	Image           *string `json:"image"`
	PublicationDate *string `json:"publication_date"`
	CompanyID       *string `json:"company_id"`
}

func (r bookPatchRequest) patch() domain.BookPatch {
	return domain.BookPatch{
		Title:           r.Title,
		ISBN:            r.ISBN,
		Pages:           r.Pages,
		Genre:           r.Genre,
		Price:           r.Price,
		PriceUnit:       r.PriceUnit,
		Description:     r.Description,
		Image:           r.Image,
		PublicationDate: r.PublicationDate,
		CompanyID:       r.CompanyID,
	}
}
