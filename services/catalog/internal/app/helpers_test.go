package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"authorsapi/pkg/domain"
	"authorsapi/pkg/storage"
	"authorsapi/pkg/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	app      *App
	store    *store.MemoryStore
	objects  *storage.MemoryStore
	sessions *store.JWTSessionStore
	events   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore runs the app over wrap(memory store) when wrap is set.
func newFixtureWithStore(t *testing.T, wrap func(store.Store) store.Store) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	var s store.Store = mem
	if wrap != nil {
		s = wrap(mem)
	}
	sessions, err := store.NewJWTSessionStore(testSecret, time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	objects := storage.NewMemoryStore("covers")
	events := &recordingPublisher{}
	a, err := New(Config{Store: s, Sessions: sessions, Objects: objects, Events: events, MaxImageBytes: 1024})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &fixture{app: a, store: mem, objects: objects, sessions: sessions, events: events}
}

var userSeq int

// seedUser writes a user straight to the store, skipping bcrypt.
func (f *fixture) seedUser(t *testing.T, first string, role domain.UserRole) domain.User {
	t.Helper()
	userSeq++
	now := time.Now().UTC()
	u := domain.User{
		ID:        first + "-id",
		FirstName: first,
		LastName:  "Tester",
		Email:     first + "@example.com",
		Contact:   "+256-" + first,
		Role:      role,
		CreatedAt: now.Add(time.Duration(userSeq) * time.Millisecond),
		UpdatedAt: now,
	}
	if err := f.store.WithTx(context.Background(), func(tx store.Tx) error { return tx.SaveUser(context.Background(), u) }); err != nil {
		t.Fatalf("seed user %s: %v", first, err)
	}
	return u
}

func (f *fixture) createCompany(t *testing.T, owner domain.User, name string) domain.Company {
	t.Helper()
	d, err := f.app.CreateCompany(context.Background(), owner, CompanyInput{Name: name, Origin: "Kampala", Description: "publisher"})
	if err != nil {
		t.Fatalf("create company %s: %v", name, err)
	}
	return d.Company
}

func bookInput(title, isbn, companyID string) BookInput {
	return BookInput{
		Title:           title,
		Pages:           200,
		Genre:           "fiction",
		Price:           25000,
		PriceUnit:       "UGX",
		ISBN:            isbn,
		Description:     "a book",
		PublicationDate: "2021-06-01",
		CompanyID:       companyID,
	}
}

func (f *fixture) createBook(t *testing.T, owner domain.User, title, isbn, companyID string) domain.Book {
	t.Helper()
	d, err := f.app.CreateBook(context.Background(), owner, bookInput(title, isbn, companyID))
	if err != nil {
		t.Fatalf("create book %s: %v", title, err)
	}
	return d.Book
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %v error, got %v (%v)", want, got, err)
	}
}

func ptr[T any](v T) *T { return &v }

type recordingPublisher struct {
	mu      sync.Mutex
	records []domain.DeletionRecord
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, rec domain.DeletionRecord) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.records = append(p.records, rec)
	return "1-0", nil
}

func (p *recordingPublisher) published() []domain.DeletionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.DeletionRecord{}, p.records...)
}

var errInjected = errors.New("injected store failure")

// failingStore hands out transactions whose DeleteCompanies fails after the
// books of the cascade have already been deleted.
type failingStore struct {
	store.Store
}

func (s failingStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct {
	store.Tx
}

func (failingTx) DeleteCompanies(context.Context, []string) (int64, error) {
	return 0, errInjected
}
