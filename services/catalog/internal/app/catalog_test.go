package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"authorsapi/pkg/domain"
	"authorsapi/pkg/storage"
	"authorsapi/pkg/store"
)

func TestCreateBookTitleUniquePerOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	bob := f.seedUser(t, "bob", domain.RoleAuthor)
	acme := f.createCompany(t, alice, "Acme")

	f.createBook(t, alice, "T1", "111", acme.ID)

	_, err := f.app.CreateBook(ctx, alice, bookInput("T1", "222", acme.ID))
	requireKind(t, err, KindConflict)

	if _, err := f.app.CreateBook(ctx, bob, bookInput("T1", "333", acme.ID)); err != nil {
		t.Fatalf("same title under another owner should succeed: %v", err)
	}
}

func TestCreateBookISBNUniqueAcrossOwners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	bob := f.seedUser(t, "bob", domain.RoleAuthor)
	acme := f.createCompany(t, alice, "Acme")
	f.createBook(t, alice, "T1", "111", acme.ID)

	_, err := f.app.CreateBook(ctx, bob, bookInput("Other", "111", acme.ID))
	requireKind(t, err, KindConflict)

	books, err := f.app.ListBooks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("expected book count unchanged at 1, got %d", len(books))
	}
}

func TestCreateBookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	acme := f.createCompany(t, alice, "Acme")

	cases := []struct {
		name   string
		mutate func(*BookInput)
		want   Kind
	}{
		{"missing title", func(in *BookInput) { in.Title = "  " }, KindBadRequest},
		{"missing isbn", func(in *BookInput) { in.ISBN = "" }, KindBadRequest},
		{"zero pages", func(in *BookInput) { in.Pages = 0 }, KindBadRequest},
		{"negative price", func(in *BookInput) { in.Price = -5 }, KindBadRequest},
		{"missing price unit", func(in *BookInput) { in.PriceUnit = "" }, KindBadRequest},
		{"bad date", func(in *BookInput) { in.PublicationDate = "01/06/2021" }, KindBadRequest},
		{"unknown company", func(in *BookInput) { in.CompanyID = "nope" }, KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := bookInput("T1", "111", acme.ID)
			tc.mutate(&in)
			_, err := f.app.CreateBook(ctx, alice, in)
			requireKind(t, err, tc.want)
		})
	}
	books, _ := f.app.ListBooks(ctx)
	if len(books) != 0 {
		t.Fatalf("rejected creates must not persist, got %d books", len(books))
	}
}

func TestCreateBookMissingFieldsMessage(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	_, err := f.app.CreateBook(context.Background(), alice, BookInput{Title: "T1"})
	requireKind(t, err, KindBadRequest)
	msg := MessageOf(err)
	for _, field := range []string{"pages", "isbn", "company_id", "publication_date"} {
		if !strings.Contains(msg, field) {
			t.Fatalf("message %q should name %s", msg, field)
		}
	}
}

func TestGetBookIncludesAuthorAndCompany(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	acme := f.createCompany(t, alice, "Acme")
	b := f.createBook(t, alice, "T1", "111", acme.ID)

	d, err := f.app.GetBook(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.Author.ID != alice.ID || d.Company.Name != "Acme" {
		t.Fatalf("unexpected detail: %+v", d)
	}
	if d.Book.OwnerID != alice.ID {
		t.Fatalf("owner must come from the actor, got %q", d.Book.OwnerID)
	}
	_, err = f.app.GetBook(context.Background(), "missing")
	requireKind(t, err, KindNotFound)
}

func TestUpdateBookPartialPatch(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	acme := f.createCompany(t, alice, "Acme")
	before := f.createBook(t, alice, "T1", "111", acme.ID)

	d, err := f.app.UpdateBook(context.Background(), alice, before.ID, domain.BookPatch{Price: ptr(int64(99000))})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	after := d.Book
	if after.Price != 99000 {
		t.Fatalf("price not updated: %d", after.Price)
	}
	if after.Title != before.Title || after.ISBN != before.ISBN || after.Genre != before.Genre ||
		after.Description != before.Description || !after.PublicationDate.Equal(before.PublicationDate) ||
		after.CompanyID != before.CompanyID || after.Pages != before.Pages {
		t.Fatalf("fields outside the patch changed: before=%+v after=%+v", before, after)
	}
}

func TestUpdateBookAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	mallory := f.seedUser(t, "mallory", domain.RoleAuthor)
	admin := f.seedUser(t, "root", domain.RoleAdmin)
	acme := f.createCompany(t, alice, "Acme")
	b := f.createBook(t, alice, "T1", "111", acme.ID)

	_, err := f.app.UpdateBook(ctx, mallory, b.ID, domain.BookPatch{Title: ptr("Stolen")})
	requireKind(t, err, KindForbidden)
	got, _ := f.app.GetBook(ctx, b.ID)
	if got.Book.Title != "T1" {
		t.Fatalf("forbidden update changed the book: %+v", got.Book)
	}

	d, err := f.app.UpdateBook(ctx, admin, b.ID, domain.BookPatch{Title: ptr("Edited")})
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if d.Book.OwnerID != alice.ID {
		t.Fatalf("admin edit must not change the owner, got %q", d.Book.OwnerID)
	}
}

func TestUpdateBookRechecksUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	bob := f.seedUser(t, "bob", domain.RoleAuthor)
	admin := f.seedUser(t, "root", domain.RoleAdmin)
	acme := f.createCompany(t, alice, "Acme")
	first := f.createBook(t, alice, "T1", "111", acme.ID)
	second := f.createBook(t, alice, "T2", "222", acme.ID)
	f.createBook(t, bob, "T3", "333", acme.ID)

	_, err := f.app.UpdateBook(ctx, alice, second.ID, domain.BookPatch{ISBN: ptr("333")})
	requireKind(t, err, KindConflict)

	if _, err := f.app.UpdateBook(ctx, alice, first.ID, domain.BookPatch{ISBN: ptr("111"), Title: ptr("T1")}); err != nil {
		t.Fatalf("keeping its own isbn and title must not conflict: %v", err)
	}

	// The admin's own titles do not matter; the owner's do.
	_, err = f.app.UpdateBook(ctx, admin, second.ID, domain.BookPatch{Title: ptr("T1")})
	requireKind(t, err, KindConflict)
	if _, err := f.app.UpdateBook(ctx, alice, second.ID, domain.BookPatch{Title: ptr("T3")}); err != nil {
		t.Fatalf("title used by another owner should be allowed: %v", err)
	}

	_, err = f.app.UpdateBook(ctx, alice, second.ID, domain.BookPatch{CompanyID: ptr("missing")})
	requireKind(t, err, KindNotFound)
	_, err = f.app.UpdateBook(ctx, alice, second.ID, domain.BookPatch{Pages: ptr(0)})
	requireKind(t, err, KindBadRequest)
}

func TestDeleteBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	mallory := f.seedUser(t, "mallory", domain.RoleAuthor)
	acme := f.createCompany(t, alice, "Acme")
	b := f.createBook(t, alice, "T1", "111", acme.ID)

	_, err := f.app.DeleteBook(ctx, mallory, b.ID)
	requireKind(t, err, KindForbidden)

	rec, err := f.app.DeleteBook(ctx, alice, b.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Kind != domain.DeletionBook || len(rec.BookIDs) != 1 || len(rec.CompanyIDs) != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := f.app.GetCompany(ctx, acme.ID); err != nil {
		t.Fatalf("deleting a book must not touch its company: %v", err)
	}
	_, err = f.app.DeleteBook(ctx, alice, b.ID)
	requireKind(t, err, KindNotFound)
}

func TestBookImageLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	mallory := f.seedUser(t, "mallory", domain.RoleAuthor)
	acme := f.createCompany(t, alice, "Acme")
	b := f.createBook(t, alice, "T1", "111", acme.ID)

	_, err := f.app.BookImageURL(ctx, b.ID)
	requireKind(t, err, KindNotFound)

	png := []byte("\x89PNG fake")
	_, err = f.app.SetBookImage(ctx, mallory, b.ID, "image/png", bytes.NewReader(png), int64(len(png)))
	requireKind(t, err, KindForbidden)
	_, err = f.app.SetBookImage(ctx, alice, b.ID, "application/pdf", bytes.NewReader(png), int64(len(png)))
	requireKind(t, err, KindBadRequest)
	_, err = f.app.SetBookImage(ctx, alice, b.ID, "image/png", bytes.NewReader(make([]byte, 2048)), 2048)
	requireKind(t, err, KindBadRequest)

	updated, err := f.app.SetBookImage(ctx, alice, b.ID, "image/png", bytes.NewReader(png), int64(len(png)))
	if err != nil {
		t.Fatalf("set image: %v", err)
	}
	pngKey := storage.CoverKey(b.ID, "image/png")
	if updated.Image != pngKey || !f.objects.Has(pngKey) {
		t.Fatalf("expected cover stored at %s, book=%+v", pngKey, updated)
	}

	jpg := []byte("jpeg")
	if _, err := f.app.SetBookImage(ctx, alice, b.ID, "image/jpeg", bytes.NewReader(jpg), int64(len(jpg))); err != nil {
		t.Fatalf("replace image: %v", err)
	}
	if f.objects.Has(pngKey) {
		t.Fatalf("replaced cover should be removed")
	}
	jpgKey := storage.CoverKey(b.ID, "image/jpeg")
	url, err := f.app.BookImageURL(ctx, b.ID)
	if err != nil || !strings.Contains(url, jpgKey) {
		t.Fatalf("image url %q err=%v", url, err)
	}

	f.events.err = context.DeadlineExceeded
	if _, err := f.app.DeleteBook(ctx, alice, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.objects.Has(jpgKey) {
		t.Fatalf("cover should be cleaned inline when the event cannot be published")
	}
}

func TestBookImageExternalReference(t *testing.T) {
	f := newFixture(t)
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	acme := f.createCompany(t, alice, "Acme")
	in := bookInput("T1", "111", acme.ID)
	in.Image = "https://img.example.com/t1.png"
	d, err := f.app.CreateBook(context.Background(), alice, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	url, err := f.app.BookImageURL(context.Background(), d.Book.ID)
	if err != nil || url != in.Image {
		t.Fatalf("expected external image returned as-is, got %q err=%v", url, err)
	}
}

func TestBookImageRejectsStoredCoverOfAnotherBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	bob := f.seedUser(t, "bob", domain.RoleAuthor)
	acme := f.createCompany(t, alice, "Acme")
	globex := f.createCompany(t, bob, "Globex")
	aliceBook := f.createBook(t, alice, "T1", "111", acme.ID)

	png := []byte("\x89PNG fake")
	if _, err := f.app.SetBookImage(ctx, alice, aliceBook.ID, "image/png", bytes.NewReader(png), int64(len(png))); err != nil {
		t.Fatalf("set image: %v", err)
	}
	aliceKey := storage.CoverKey(aliceBook.ID, "image/png")

	in := bookInput("T2", "222", globex.ID)
	in.Image = aliceKey
	_, err := f.app.CreateBook(ctx, bob, in)
	requireKind(t, err, KindBadRequest)

	bobBook := f.createBook(t, bob, "T2", "222", globex.ID)
	_, err = f.app.UpdateBook(ctx, bob, bobBook.ID, domain.BookPatch{Image: ptr(aliceKey)})
	requireKind(t, err, KindBadRequest)

	// a row already pointing at another book's cover must not take it down on delete
	bobBook.Image = aliceKey
	if err := f.store.WithTx(ctx, func(tx store.Tx) error { return tx.SaveBook(ctx, bobBook) }); err != nil {
		t.Fatalf("save book: %v", err)
	}
	f.events.err = context.DeadlineExceeded
	rec, err := f.app.DeleteBook(ctx, bob, bobBook.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(rec.ImageKeys) != 0 {
		t.Fatalf("foreign cover collected for cleanup: %v", rec.ImageKeys)
	}
	if !f.objects.Has(aliceKey) {
		t.Fatalf("deleting bob's book removed alice's cover")
	}
}

func TestUpdateBookImageRemovesStoredCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	acme := f.createCompany(t, alice, "Acme")
	b := f.createBook(t, alice, "T1", "111", acme.ID)

	png := []byte("\x89PNG fake")
	if _, err := f.app.SetBookImage(ctx, alice, b.ID, "image/png", bytes.NewReader(png), int64(len(png))); err != nil {
		t.Fatalf("set image: %v", err)
	}
	key := storage.CoverKey(b.ID, "image/png")

	if _, err := f.app.UpdateBook(ctx, alice, b.ID, domain.BookPatch{Image: ptr(key), Pages: ptr(210)}); err != nil {
		t.Fatalf("resending the stored key: %v", err)
	}
	if !f.objects.Has(key) {
		t.Fatalf("unchanged image should keep its cover")
	}

	external := "https://img.example.com/t1.png"
	d, err := f.app.UpdateBook(ctx, alice, b.ID, domain.BookPatch{Image: ptr(external)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if d.Book.Image != external {
		t.Fatalf("image = %q, want %q", d.Book.Image, external)
	}
	if f.objects.Has(key) {
		t.Fatalf("replaced cover should be removed")
	}
	url, err := f.app.BookImageURL(ctx, b.ID)
	if err != nil || url != external {
		t.Fatalf("image url %q err=%v", url, err)
	}
}
