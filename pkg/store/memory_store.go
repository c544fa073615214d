package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"authorsapi/pkg/domain"
)

// MemoryStore keeps records in-process. It is used for local runs and tests.
// Transactions are serialised and work on a copy that replaces the live state on commit.
type MemoryStore struct {
	mu        sync.RWMutex
	state     *memState
	deletions []domain.DeletionRecord
}

type memState struct {
	users     map[string]domain.User
	companies map[string]domain.Company
	books     map[string]domain.Book
	deletions []domain.DeletionRecord
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		users:     make(map[string]domain.User),
		companies: make(map[string]domain.Company),
		books:     make(map[string]domain.Book),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.companies {
		c.companies[k] = v
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	return c
}

// WithTx runs fn against a private copy and publishes it only when fn succeeds.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(&memTx{memQueries{state: work}}); err != nil {
		return err
	}
	m.deletions = append(m.deletions, work.deletions...)
	work.deletions = nil
	m.state = work
	return nil
}

// ListDeletions returns the newest deletion records first.
func (m *MemoryStore) ListDeletions(_ context.Context, limit int) ([]domain.DeletionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	res := make([]domain.DeletionRecord, 0, len(m.deletions))
	for i := len(m.deletions) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, m.deletions[i])
	}
	return res, nil
}

// read snapshots the live state. Commits replace the state instead of mutating it,
// so the snapshot stays consistent after the lock is released.
func (m *MemoryStore) read() memQueries {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memQueries{state: m.state}
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return m.read().GetUserByID(ctx, id)
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return m.read().GetUserByEmail(ctx, email)
}

func (m *MemoryStore) GetUserByContact(ctx context.Context, contact string) (domain.User, bool, error) {
	return m.read().GetUserByContact(ctx, contact)
}

func (m *MemoryStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	return m.read().ListUsers(ctx)
}

func (m *MemoryStore) ListUsersByRole(ctx context.Context, role domain.UserRole) ([]domain.User, error) {
	return m.read().ListUsersByRole(ctx, role)
}

func (m *MemoryStore) SearchAuthors(ctx context.Context, fragment string) ([]domain.User, error) {
	return m.read().SearchAuthors(ctx, fragment)
}

func (m *MemoryStore) UserCount(ctx context.Context) (int, error) {
	return m.read().UserCount(ctx)
}

func (m *MemoryStore) GetCompany(ctx context.Context, id string) (domain.Company, bool, error) {
	return m.read().GetCompany(ctx, id)
}

func (m *MemoryStore) GetCompanyByName(ctx context.Context, name string) (domain.Company, bool, error) {
	return m.read().GetCompanyByName(ctx, name)
}

func (m *MemoryStore) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	return m.read().ListCompanies(ctx)
}

func (m *MemoryStore) ListCompaniesByOwner(ctx context.Context, ownerID string) ([]domain.Company, error) {
	return m.read().ListCompaniesByOwner(ctx, ownerID)
}

func (m *MemoryStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	return m.read().GetBook(ctx, id)
}

func (m *MemoryStore) GetBookByISBN(ctx context.Context, isbn string) (domain.Book, bool, error) {
	return m.read().GetBookByISBN(ctx, isbn)
}

func (m *MemoryStore) GetBookByOwnerTitle(ctx context.Context, ownerID, title string) (domain.Book, bool, error) {
	return m.read().GetBookByOwnerTitle(ctx, ownerID, title)
}

func (m *MemoryStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	return m.read().ListBooks(ctx)
}

func (m *MemoryStore) ListBooksByOwner(ctx context.Context, ownerID string) ([]domain.Book, error) {
	return m.read().ListBooksByOwner(ctx, ownerID)
}

func (m *MemoryStore) ListBooksByCompanies(ctx context.Context, companyIDs []string) ([]domain.Book, error) {
	return m.read().ListBooksByCompanies(ctx, companyIDs)
}

type memQueries struct {
	state *memState
}

func (q memQueries) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	u, ok := q.state.users[id]
	return u, ok, nil
}

func (q memQueries) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	for _, u := range q.state.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (q memQueries) GetUserByContact(_ context.Context, contact string) (domain.User, bool, error) {
	for _, u := range q.state.users {
		if u.Contact == contact {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (q memQueries) ListUsers(_ context.Context) ([]domain.User, error) {
	return q.filterUsers(func(domain.User) bool { return true }), nil
}

func (q memQueries) ListUsersByRole(_ context.Context, role domain.UserRole) ([]domain.User, error) {
	return q.filterUsers(func(u domain.User) bool { return u.Role == role }), nil
}

func (q memQueries) SearchAuthors(_ context.Context, fragment string) ([]domain.User, error) {
	needle := strings.ToLower(fragment)
	return q.filterUsers(func(u domain.User) bool {
		if u.Role != domain.RoleAuthor {
			return false
		}
		return strings.Contains(strings.ToLower(u.FirstName), needle) ||
			strings.Contains(strings.ToLower(u.LastName), needle)
	}), nil
}

func (q memQueries) filterUsers(keep func(domain.User) bool) []domain.User {
	res := make([]domain.User, 0, len(q.state.users))
	for _, u := range q.state.users {
		if keep(u) {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

func (q memQueries) UserCount(_ context.Context) (int, error) {
	return len(q.state.users), nil
}

func (q memQueries) GetCompany(_ context.Context, id string) (domain.Company, bool, error) {
	c, ok := q.state.companies[id]
	return c, ok, nil
}

func (q memQueries) GetCompanyByName(_ context.Context, name string) (domain.Company, bool, error) {
	for _, c := range q.state.companies {
		if c.Name == name {
			return c, true, nil
		}
	}
	return domain.Company{}, false, nil
}

func (q memQueries) ListCompanies(_ context.Context) ([]domain.Company, error) {
	return q.filterCompanies(func(domain.Company) bool { return true }), nil
}

func (q memQueries) ListCompaniesByOwner(_ context.Context, ownerID string) ([]domain.Company, error) {
	return q.filterCompanies(func(c domain.Company) bool { return c.OwnerID == ownerID }), nil
}

func (q memQueries) filterCompanies(keep func(domain.Company) bool) []domain.Company {
	res := make([]domain.Company, 0, len(q.state.companies))
	for _, c := range q.state.companies {
		if keep(c) {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

func (q memQueries) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	b, ok := q.state.books[id]
	return b, ok, nil
}

func (q memQueries) GetBookByISBN(_ context.Context, isbn string) (domain.Book, bool, error) {
	if isbn == "" {
		return domain.Book{}, false, nil
	}
	for _, b := range q.state.books {
		if b.ISBN == isbn {
			return b, true, nil
		}
	}
	return domain.Book{}, false, nil
}

func (q memQueries) GetBookByOwnerTitle(_ context.Context, ownerID, title string) (domain.Book, bool, error) {
	for _, b := range q.state.books {
		if b.OwnerID == ownerID && b.Title == title {
			return b, true, nil
		}
	}
	return domain.Book{}, false, nil
}

func (q memQueries) ListBooks(_ context.Context) ([]domain.Book, error) {
	return q.filterBooks(func(domain.Book) bool { return true }), nil
}

func (q memQueries) ListBooksByOwner(_ context.Context, ownerID string) ([]domain.Book, error) {
	return q.filterBooks(func(b domain.Book) bool { return b.OwnerID == ownerID }), nil
}

func (q memQueries) ListBooksByCompanies(_ context.Context, companyIDs []string) ([]domain.Book, error) {
	set := make(map[string]struct{}, len(companyIDs))
	for _, id := range companyIDs {
		set[id] = struct{}{}
	}
	return q.filterBooks(func(b domain.Book) bool {
		_, ok := set[b.CompanyID]
		return ok
	}), nil
}

func (q memQueries) filterBooks(keep func(domain.Book) bool) []domain.Book {
	res := make([]domain.Book, 0, len(q.state.books))
	for _, b := range q.state.books {
		if keep(b) {
			res = append(res, b)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res
}

type memTx struct {
	memQueries
}

// SaveUser enforces the email and contact unique indexes.
func (t *memTx) SaveUser(_ context.Context, u domain.User) error {
	for id, other := range t.state.users {
		if id == u.ID {
			continue
		}
		if other.Email == u.Email {
			return fmt.Errorf("%w: users.email", ErrDuplicate)
		}
		if other.Contact == u.Contact {
			return fmt.Errorf("%w: users.contact", ErrDuplicate)
		}
	}
	t.state.users[u.ID] = u
	return nil
}

// SaveCompany enforces the name unique index and keeps the original owner.
func (t *memTx) SaveCompany(_ context.Context, c domain.Company) error {
	for id, other := range t.state.companies {
		if id != c.ID && other.Name == c.Name {
			return fmt.Errorf("%w: companies.name", ErrDuplicate)
		}
	}
	if _, ok := t.state.users[c.OwnerID]; !ok {
		return fmt.Errorf("companies.user_id references missing user %q", c.OwnerID)
	}
	if existing, ok := t.state.companies[c.ID]; ok {
		c.OwnerID = existing.OwnerID
	}
	t.state.companies[c.ID] = c
	return nil
}

// SaveBook enforces the isbn and (owner, title) unique indexes and keeps the original owner.
func (t *memTx) SaveBook(_ context.Context, b domain.Book) error {
	if existing, ok := t.state.books[b.ID]; ok {
		b.OwnerID = existing.OwnerID
	}
	if strings.TrimSpace(b.PriceUnit) == "" {
		b.PriceUnit = domain.DefaultPriceUnit
	}
	for id, other := range t.state.books {
		if id == b.ID {
			continue
		}
		if b.ISBN != "" && other.ISBN == b.ISBN {
			return fmt.Errorf("%w: books.isbn", ErrDuplicate)
		}
		if other.OwnerID == b.OwnerID && other.Title == b.Title {
			return fmt.Errorf("%w: books.user_id_title", ErrDuplicate)
		}
	}
	if _, ok := t.state.users[b.OwnerID]; !ok {
		return fmt.Errorf("books.user_id references missing user %q", b.OwnerID)
	}
	if _, ok := t.state.companies[b.CompanyID]; !ok {
		return fmt.Errorf("books.company_id references missing company %q", b.CompanyID)
	}
	t.state.books[b.ID] = b
	return nil
}

func (t *memTx) DeleteBooks(_ context.Context, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := t.state.books[id]; ok {
			delete(t.state.books, id)
			n++
		}
	}
	return n, nil
}

// DeleteCompanies refuses to leave books pointing at a removed company.
func (t *memTx) DeleteCompanies(_ context.Context, ids []string) (int64, error) {
	for _, id := range ids {
		for _, b := range t.state.books {
			if b.CompanyID == id {
				return 0, fmt.Errorf("books.company_id still references company %q", id)
			}
		}
	}
	var n int64
	for _, id := range ids {
		if _, ok := t.state.companies[id]; ok {
			delete(t.state.companies, id)
			n++
		}
	}
	return n, nil
}

// DeleteUser refuses to leave companies or books pointing at the removed user.
func (t *memTx) DeleteUser(_ context.Context, id string) (int64, error) {
	for _, c := range t.state.companies {
		if c.OwnerID == id {
			return 0, fmt.Errorf("companies.user_id still references user %q", id)
		}
	}
	for _, b := range t.state.books {
		if b.OwnerID == id {
			return 0, fmt.Errorf("books.user_id still references user %q", id)
		}
	}
	if _, ok := t.state.users[id]; !ok {
		return 0, nil
	}
	delete(t.state.users, id)
	return 1, nil
}

func (t *memTx) RecordDeletion(_ context.Context, rec domain.DeletionRecord) error {
	t.state.deletions = append(t.state.deletions, rec)
	return nil
}
