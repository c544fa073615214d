package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"authorsapi/pkg/domain"
)

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	alice := domain.User{ID: "u-alice", FirstName: "Alice", LastName: "Nakato", Email: "alice@example.com", Contact: "+256700000001", Role: domain.RoleAuthor, PasswordHash: "h", CreatedAt: now, UpdatedAt: now}
	bob := domain.User{ID: "u-bob", FirstName: "Bob", LastName: "Okello", Email: "bob@example.com", Contact: "+256700000002", Role: domain.RoleAuthor, PasswordHash: "h", CreatedAt: now.Add(time.Second), UpdatedAt: now}
	acme := domain.Company{ID: "c-acme", Name: "Acme Press", Origin: "Kampala", Description: "d", OwnerID: alice.ID, CreatedAt: now, UpdatedAt: now}
	book := func(id, title, isbn, owner string) domain.Book {
		return domain.Book{ID: id, Title: title, ISBN: isbn, Pages: 100, Genre: "fiction", Price: 1000, Description: "d", PublicationDate: now, OwnerID: owner, CompanyID: acme.ID, CreatedAt: now, UpdatedAt: now}
	}

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.SaveUser(ctx, alice); err != nil {
			return err
		}
		if err := tx.SaveUser(ctx, bob); err != nil {
			return err
		}
		if err := tx.SaveCompany(ctx, acme); err != nil {
			return err
		}
		if err := tx.SaveBook(ctx, book("b-1", "River", "isbn-1", alice.ID)); err != nil {
			return err
		}
		return tx.SaveBook(ctx, book("b-2", "River", "isbn-2", bob.ID))
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, ok, err := s.GetBook(ctx, "b-1")
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if got.PriceUnit != domain.DefaultPriceUnit {
		t.Fatalf("expected default price unit, got %q", got.PriceUnit)
	}

	dupEmail := bob
	dupEmail.Email = alice.Email
	if err := s.WithTx(ctx, func(tx Tx) error { return tx.SaveUser(ctx, dupEmail) }); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	if err := s.WithTx(ctx, func(tx Tx) error {
		return tx.SaveBook(ctx, book("b-3", "Other", "isbn-1", bob.ID))
	}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate isbn, got %v", err)
	}
	if err := s.WithTx(ctx, func(tx Tx) error {
		return tx.SaveBook(ctx, book("b-3", "River", "isbn-3", alice.ID))
	}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate owner title, got %v", err)
	}

	moved := acme
	moved.OwnerID = bob.ID
	moved.Name = "Acme Books"
	if err := s.WithTx(ctx, func(tx Tx) error { return tx.SaveCompany(ctx, moved) }); err != nil {
		t.Fatalf("update company: %v", err)
	}
	c, _, _ := s.GetCompany(ctx, acme.ID)
	if c.OwnerID != alice.ID || c.Name != "Acme Books" {
		t.Fatalf("expected name change with original owner, got %+v", c)
	}

	authors, err := s.SearchAuthors(ctx, "li")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(authors) != 1 || authors[0].ID != alice.ID {
		t.Fatalf("expected alice only, got %+v", authors)
	}

	byCompany, err := s.ListBooksByCompanies(ctx, []string{acme.ID})
	if err != nil || len(byCompany) != 2 {
		t.Fatalf("books by company: %d err=%v", len(byCompany), err)
	}
	if none, err := s.ListBooksByCompanies(ctx, nil); err != nil || len(none) != 0 {
		t.Fatalf("empty company filter: %d err=%v", len(none), err)
	}

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.DeleteBooks(ctx, []string{"b-1", "b-2"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	if books, _ := s.ListBooks(ctx); len(books) != 2 {
		t.Fatalf("rollback should keep both books, got %d", len(books))
	}

	if err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.DeleteCompanies(ctx, []string{acme.ID})
		return err
	}); err == nil {
		t.Fatalf("expected company delete to be restricted while books reference it")
	}

	rec := domain.DeletionRecord{ID: "d-1", Kind: domain.DeletionUser, TargetID: alice.ID, ActorID: alice.ID, CreatedAt: now}
	err = s.WithTx(ctx, func(tx Tx) error {
		n, err := tx.DeleteBooks(ctx, []string{"b-1", "b-2"})
		if err != nil {
			return err
		}
		rec.BookIDs = []string{"b-1", "b-2"}
		if n != 2 {
			t.Errorf("deleted %d books, want 2", n)
		}
		if _, err := tx.DeleteCompanies(ctx, []string{acme.ID}); err != nil {
			return err
		}
		rec.CompanyIDs = []string{acme.ID}
		if _, err := tx.DeleteUser(ctx, alice.ID); err != nil {
			return err
		}
		rec.UserIDs = []string{alice.ID}
		return tx.RecordDeletion(ctx, rec)
	})
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}
	if _, ok, _ := s.GetUserByID(ctx, alice.ID); ok {
		t.Fatalf("alice should be gone")
	}
	deletions, err := s.ListDeletions(ctx, 10)
	if err != nil || len(deletions) != 1 {
		t.Fatalf("deletions: %d err=%v", len(deletions), err)
	}
	if deletions[0].Rows() != 4 {
		t.Fatalf("expected 4 rows recorded, got %d", deletions[0].Rows())
	}
	if n, _ := s.UserCount(ctx); n != 1 {
		t.Fatalf("expected one remaining user, got %d", n)
	}
}
