package app

import (
	"context"
	"testing"

	"authorsapi/pkg/domain"
)

func TestUpdateUserConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	bob := f.seedUser(t, "bob", domain.RoleAuthor)

	_, err := f.app.UpdateUser(ctx, alice, alice.ID, domain.UserPatch{Email: ptr("BOB@example.com")})
	requireKind(t, err, KindConflict)
	_, err = f.app.UpdateUser(ctx, alice, alice.ID, domain.UserPatch{Contact: ptr(bob.Contact)})
	requireKind(t, err, KindConflict)
	_, err = f.app.UpdateUser(ctx, alice, alice.ID, domain.UserPatch{Email: ptr("not-an-email")})
	requireKind(t, err, KindBadRequest)

	u, err := f.app.UpdateUser(ctx, alice, alice.ID, domain.UserPatch{Email: ptr(" Alice2@Example.com "), Biography: ptr("writes")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if u.Email != "alice2@example.com" || u.Biography != "writes" || u.FirstName != alice.FirstName {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := f.app.GetUserByEmail(ctx, "alice2@example.com"); err != nil {
		t.Fatalf("lookup by new email: %v", err)
	}
}

func TestUpdateUserAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	bob := f.seedUser(t, "bob", domain.RoleAuthor)
	admin := f.seedUser(t, "root", domain.RoleAdmin)

	_, err := f.app.UpdateUser(ctx, bob, alice.ID, domain.UserPatch{FirstName: ptr("Eve")})
	requireKind(t, err, KindForbidden)

	_, err = f.app.UpdateUser(ctx, alice, alice.ID, domain.UserPatch{Role: ptr("admin")})
	requireKind(t, err, KindForbidden)

	_, err = f.app.UpdateUser(ctx, admin, alice.ID, domain.UserPatch{Role: ptr("superuser")})
	requireKind(t, err, KindBadRequest)

	u, err := f.app.UpdateUser(ctx, admin, alice.ID, domain.UserPatch{Role: ptr("Admin")})
	if err != nil {
		t.Fatalf("admin role change: %v", err)
	}
	if u.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %q", u.Role)
	}
}

func TestSearchAuthors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "alice", domain.RoleAuthor)
	f.seedUser(t, "malik", domain.RoleAuthor)
	f.seedUser(t, "bob", domain.RoleAuthor)
	f.seedUser(t, "linda", domain.RoleAdmin)

	got, err := f.app.SearchAuthors(ctx, "LI")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	names := map[string]bool{}
	for _, p := range got {
		names[p.User.FirstName] = true
	}
	if len(got) != 2 || !names["alice"] || !names["malik"] {
		t.Fatalf("expected alice and malik, got %v", names)
	}

	got, err = f.app.SearchAuthors(ctx, "zzz")
	if err != nil {
		t.Fatalf("search without match must not fail: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", got)
	}

	_, err = f.app.SearchAuthors(ctx, "   ")
	requireKind(t, err, KindBadRequest)
}

func TestProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	bob := f.seedUser(t, "bob", domain.RoleAuthor)
	f.seedUser(t, "root", domain.RoleAdmin)
	acme := f.createCompany(t, bob, "Acme")
	f.createBook(t, alice, "T1", "111", acme.ID)

	p, err := f.app.GetProfile(ctx, alice.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if len(p.Companies) != 0 || len(p.Books) != 1 || p.Books[0].Publisher.Name != "Acme" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.Companies == nil {
		t.Fatalf("companies must be an empty list, not nil")
	}

	authors, err := f.app.ListAuthors(ctx)
	if err != nil {
		t.Fatalf("authors: %v", err)
	}
	if len(authors) != 2 {
		t.Fatalf("expected 2 authors, got %d", len(authors))
	}
	all, err := f.app.ListUsers(ctx)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 users, got %d", len(all))
	}
	for _, prof := range all {
		if prof.User.ID == bob.ID && len(prof.Companies) != 1 {
			t.Fatalf("bob should own Acme: %+v", prof)
		}
	}

	_, err = f.app.GetProfile(ctx, "missing")
	requireKind(t, err, KindNotFound)
}

func TestLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.seedUser(t, "alice", domain.RoleAuthor)
	f.seedUser(t, "root", domain.RoleAdmin)

	if u, err := f.app.GetUserByContact(ctx, " "+alice.Contact); err != nil || u.ID != alice.ID {
		t.Fatalf("by contact: %+v %v", u, err)
	}
	_, err := f.app.GetUserByEmail(ctx, "nobody@example.com")
	requireKind(t, err, KindNotFound)

	admins, err := f.app.ListByRole(ctx, domain.RoleAdmin)
	if err != nil || len(admins) != 1 || admins[0].FirstName != "root" {
		t.Fatalf("admins: %+v %v", admins, err)
	}
}
