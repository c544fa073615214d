package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"authorsapi/pkg/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 51927301

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	gormQueries
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{gormQueries{db: db}}, nil
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&UserModel{}, &CompanyModel{}, &BookModel{}, &DeletionModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// Deletes cascade in the application, so the foreign keys only restrict.
	if err := tx.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'companies'
				AND constraint_name = 'companies_user_id_fkey'
			) THEN
				ALTER TABLE companies
				ADD CONSTRAINT companies_user_id_fkey
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE RESTRICT;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'books'
				AND constraint_name = 'books_user_id_fkey'
			) THEN
				ALTER TABLE books
				ADD CONSTRAINT books_user_id_fkey
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE RESTRICT;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'books'
				AND constraint_name = 'books_company_id_fkey'
			) THEN
				ALTER TABLE books
				ADD CONSTRAINT books_company_id_fkey
				FOREIGN KEY (company_id) REFERENCES companies(id) ON DELETE RESTRICT;
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure foreign keys: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// WithTx runs fn inside a database transaction.
func (s *GormStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{gormQueries{db: tx}})
	})
}

// ListDeletions returns the newest deletion records first.
func (s *GormStore) ListDeletions(ctx context.Context, limit int) ([]domain.DeletionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []DeletionModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.DeletionRecord, 0, len(models))
	for _, m := range models {
		res = append(res, deletionFromModel(m))
	}
	return res, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormQueries struct {
	db *gorm.DB
}

// GetUserByID returns a user by ID.
func (q gormQueries) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return q.firstUser(ctx, "id = ?", id)
}

// GetUserByEmail looks up a user by email.
func (q gormQueries) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return q.firstUser(ctx, "email = ?", email)
}

// GetUserByContact looks up a user by contact.
func (q gormQueries) GetUserByContact(ctx context.Context, contact string) (domain.User, bool, error) {
	return q.firstUser(ctx, "contact = ?", contact)
}

func (q gormQueries) firstUser(ctx context.Context, cond string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := q.db.WithContext(ctx).Where(cond, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (q gormQueries) ListUsers(ctx context.Context) ([]domain.User, error) {
	return q.listUsers(ctx)
}

// ListUsersByRole returns users holding role.
func (q gormQueries) ListUsersByRole(ctx context.Context, role domain.UserRole) ([]domain.User, error) {
	return q.listUsers(ctx, "role = ?", string(role))
}

// SearchAuthors matches authors whose first or last name contains fragment, ignoring case.
func (q gormQueries) SearchAuthors(ctx context.Context, fragment string) ([]domain.User, error) {
	pattern := "%" + escapeLike(strings.ToLower(fragment)) + "%"
	return q.listUsers(ctx,
		"role = ? AND (LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?)",
		string(domain.RoleAuthor), pattern, pattern,
	)
}

func (q gormQueries) listUsers(ctx context.Context, conds ...any) ([]domain.User, error) {
	var models []UserModel
	tx := q.db.WithContext(ctx).Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns number of users.
func (q gormQueries) UserCount(ctx context.Context) (int, error) {
	var count int64
	if err := q.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetCompany returns a company by ID.
func (q gormQueries) GetCompany(ctx context.Context, id string) (domain.Company, bool, error) {
	return q.firstCompany(ctx, "id = ?", id)
}

// GetCompanyByName looks up a company by its unique name.
func (q gormQueries) GetCompanyByName(ctx context.Context, name string) (domain.Company, bool, error) {
	return q.firstCompany(ctx, "name = ?", name)
}

func (q gormQueries) firstCompany(ctx context.Context, cond string, arg any) (domain.Company, bool, error) {
	var model CompanyModel
	if err := q.db.WithContext(ctx).Where(cond, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Company{}, false, nil
		}
		return domain.Company{}, false, err
	}
	return companyFromModel(model), true, nil
}

// ListCompanies returns all companies ordered by created_at.
func (q gormQueries) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	return q.listCompanies(ctx)
}

// ListCompaniesByOwner returns companies owned by ownerID.
func (q gormQueries) ListCompaniesByOwner(ctx context.Context, ownerID string) ([]domain.Company, error) {
	return q.listCompanies(ctx, "user_id = ?", ownerID)
}

func (q gormQueries) listCompanies(ctx context.Context, conds ...any) ([]domain.Company, error) {
	var models []CompanyModel
	tx := q.db.WithContext(ctx).Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Company, 0, len(models))
	for _, m := range models {
		res = append(res, companyFromModel(m))
	}
	return res, nil
}

// GetBook retrieves a book.
func (q gormQueries) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	return q.firstBook(ctx, "id = ?", id)
}

// GetBookByISBN looks up a book by ISBN.
func (q gormQueries) GetBookByISBN(ctx context.Context, isbn string) (domain.Book, bool, error) {
	return q.firstBook(ctx, "isbn = ?", isbn)
}

// GetBookByOwnerTitle looks up a book by title within one owner's books.
func (q gormQueries) GetBookByOwnerTitle(ctx context.Context, ownerID, title string) (domain.Book, bool, error) {
	var model BookModel
	if err := q.db.WithContext(ctx).Where("user_id = ? AND title = ?", ownerID, title).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

func (q gormQueries) firstBook(ctx context.Context, cond string, arg any) (domain.Book, bool, error) {
	var model BookModel
	if err := q.db.WithContext(ctx).Where(cond, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books ordered by created_at.
func (q gormQueries) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return q.listBooks(ctx)
}

// ListBooksByOwner returns books filtered by owner.
func (q gormQueries) ListBooksByOwner(ctx context.Context, ownerID string) ([]domain.Book, error) {
	return q.listBooks(ctx, "user_id = ?", ownerID)
}

// ListBooksByCompanies returns books published by any of companyIDs.
func (q gormQueries) ListBooksByCompanies(ctx context.Context, companyIDs []string) ([]domain.Book, error) {
	if len(companyIDs) == 0 {
		return []domain.Book{}, nil
	}
	return q.listBooks(ctx, "company_id IN ?", companyIDs)
}

func (q gormQueries) listBooks(ctx context.Context, conds ...any) ([]domain.Book, error) {
	var models []BookModel
	tx := q.db.WithContext(ctx).Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

type gormTx struct {
	gormQueries
}

// SaveUser inserts or updates a user.
func (t *gormTx) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"first_name", "last_name", "email", "contact", "role", "biography", "password_hash", "updated_at",
		}),
	}).Create(&model).Error
	return translateWriteError(err)
}

// SaveCompany inserts or updates a company. The owner column is never updated.
func (t *gormTx) SaveCompany(ctx context.Context, c domain.Company) error {
	model := companyToModel(c)
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "origin", "description", "updated_at"}),
	}).Create(&model).Error
	return translateWriteError(err)
}

// SaveBook inserts or updates a book. The owner column is never updated.
func (t *gormTx) SaveBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "isbn", "pages", "genre", "price", "price_unit", "description", "image",
			"publication_date", "company_id", "updated_at",
		}),
	}).Create(&model).Error
	return translateWriteError(err)
}

// DeleteBooks removes the given books.
func (t *gormTx) DeleteBooks(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := t.db.WithContext(ctx).Where("id IN ?", ids).Delete(&BookModel{})
	return res.RowsAffected, translateWriteError(res.Error)
}

// DeleteCompanies removes the given companies.
func (t *gormTx) DeleteCompanies(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := t.db.WithContext(ctx).Where("id IN ?", ids).Delete(&CompanyModel{})
	return res.RowsAffected, translateWriteError(res.Error)
}

// DeleteUser removes a single user row.
func (t *gormTx) DeleteUser(ctx context.Context, id string) (int64, error) {
	res := t.db.WithContext(ctx).Where("id = ?", id).Delete(&UserModel{})
	return res.RowsAffected, translateWriteError(res.Error)
}

// RecordDeletion stores an audit row for a delete request.
func (t *gormTx) RecordDeletion(ctx context.Context, rec domain.DeletionRecord) error {
	model := deletionToModel(rec)
	return t.db.WithContext(ctx).Create(&model).Error
}

func translateWriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Email:        u.Email,
		Contact:      u.Contact,
		Role:         string(u.Role),
		Biography:    u.Biography,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Email:        m.Email,
		Contact:      m.Contact,
		Role:         domain.UserRole(m.Role),
		Biography:    m.Biography,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func companyToModel(c domain.Company) CompanyModel {
	return CompanyModel{
		ID:          c.ID,
		Name:        c.Name,
		Origin:      c.Origin,
		Description: c.Description,
		UserID:      c.OwnerID,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func companyFromModel(m CompanyModel) domain.Company {
	return domain.Company{
		ID:          m.ID,
		Name:        m.Name,
		Origin:      m.Origin,
		Description: m.Description,
		OwnerID:     m.UserID,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	var isbn *string
	if v := strings.TrimSpace(b.ISBN); v != "" {
		isbn = &v
	}
	priceUnit := b.PriceUnit
	if strings.TrimSpace(priceUnit) == "" {
		priceUnit = domain.DefaultPriceUnit
	}
	return BookModel{
		ID:              b.ID,
		Title:           b.Title,
		ISBN:            isbn,
		Pages:           b.Pages,
		Genre:           b.Genre,
		Price:           b.Price,
		PriceUnit:       priceUnit,
		Description:     b.Description,
		Image:           b.Image,
		PublicationDate: b.PublicationDate,
		UserID:          b.OwnerID,
		CompanyID:       b.CompanyID,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	isbn := ""
	if m.ISBN != nil {
		isbn = *m.ISBN
	}
	return domain.Book{
		ID:              m.ID,
		Title:           m.Title,
		ISBN:            isbn,
		Pages:           m.Pages,
		Genre:           m.Genre,
		Price:           m.Price,
		PriceUnit:       m.PriceUnit,
		Description:     m.Description,
		Image:           m.Image,
		PublicationDate: m.PublicationDate,
		OwnerID:         m.UserID,
		CompanyID:       m.CompanyID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func deletionToModel(rec domain.DeletionRecord) DeletionModel {
	users, _ := json.Marshal(nonNil(rec.UserIDs))
	companies, _ := json.Marshal(nonNil(rec.CompanyIDs))
	books, _ := json.Marshal(nonNil(rec.BookIDs))
	images, _ := json.Marshal(nonNil(rec.ImageKeys))
	return DeletionModel{
		ID:         rec.ID,
		Kind:       string(rec.Kind),
		TargetID:   rec.TargetID,
		ActorID:    rec.ActorID,
		UserIDs:    users,
		CompanyIDs: companies,
		BookIDs:    books,
		ImageKeys:  images,
		CreatedAt:  rec.CreatedAt,
	}
}

func deletionFromModel(m DeletionModel) domain.DeletionRecord {
	rec := domain.DeletionRecord{
		ID:        m.ID,
		Kind:      domain.DeletionKind(m.Kind),
		TargetID:  m.TargetID,
		ActorID:   m.ActorID,
		CreatedAt: m.CreatedAt,
	}
	_ = json.Unmarshal(m.UserIDs, &rec.UserIDs)
	_ = json.Unmarshal(m.CompanyIDs, &rec.CompanyIDs)
	_ = json.Unmarshal(m.BookIDs, &rec.BookIDs)
	if len(m.ImageKeys) > 0 {
		_ = json.Unmarshal(m.ImageKeys, &rec.ImageKeys)
	}
	return rec
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
