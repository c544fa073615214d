package app

import (
	"context"
	"testing"

	"authorsapi/pkg/domain"
)

func registerInput(first string) RegisterInput {
	return RegisterInput{
		FirstName: first,
		LastName:  "Writer",
		Email:     first + "@example.com",
		Contact:   "+256-" + first,
		Password:  "Correct-Horse-9",
	}
}

func TestRegisterFirstUserBecomesAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, token, err := f.app.Register(ctx, registerInput("alice"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.Role != domain.RoleAdmin || token == "" {
		t.Fatalf("first user should be admin with a token: %+v", first)
	}
	second, _, err := f.app.Register(ctx, registerInput("bob"))
	if err != nil {
		t.Fatalf("register second: %v", err)
	}
	if second.Role != domain.RoleAuthor {
		t.Fatalf("later users are authors, got %q", second.Role)
	}

	dup := registerInput("carol")
	dup.Email = "ALICE@example.com"
	_, _, err = f.app.Register(ctx, dup)
	requireKind(t, err, KindConflict)

	dup = registerInput("carol")
	dup.Contact = second.Contact
	_, _, err = f.app.Register(ctx, dup)
	requireKind(t, err, KindConflict)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := registerInput("alice")
	in.Email = "nope"
	_, _, err := f.app.Register(ctx, in)
	requireKind(t, err, KindBadRequest)

	in = registerInput("alice")
	in.Password = "short"
	_, _, err = f.app.Register(ctx, in)
	requireKind(t, err, KindBadRequest)

	_, _, err = f.app.Register(ctx, RegisterInput{Email: "a@example.com"})
	requireKind(t, err, KindBadRequest)
}

func TestLoginAndLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registered, _, err := f.app.Register(ctx, registerInput("alice"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, _, err = f.app.Login(ctx, "alice@example.com", "Wrong-Password-1")
	requireKind(t, err, KindUnauthorized)
	_, _, err = f.app.Login(ctx, "nobody@example.com", "Correct-Horse-9")
	requireKind(t, err, KindUnauthorized)

	u, token, err := f.app.Login(ctx, " Alice@Example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.ID != registered.ID {
		t.Fatalf("logged in as %q, want %q", u.ID, registered.ID)
	}
	actor, err := f.app.UserFromToken(ctx, token)
	if err != nil || actor.ID != registered.ID {
		t.Fatalf("user from token: %+v %v", actor, err)
	}

	if err := f.app.Logout(ctx, token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err = f.app.UserFromToken(ctx, token)
	requireKind(t, err, KindUnauthorized)

	_, err = f.app.UserFromToken(ctx, "garbage")
	requireKind(t, err, KindUnauthorized)
	if err := f.app.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("logout of an unknown token should be a no-op: %v", err)
	}
}

func TestPasswordChangeRevokesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, token, err := f.app.Register(ctx, registerInput("alice"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.app.UpdateUser(ctx, u, u.ID, domain.UserPatch{Password: ptr("Another-Secret-1")}); err != nil {
		t.Fatalf("update password: %v", err)
	}
	_, err = f.app.UserFromToken(ctx, token)
	requireKind(t, err, KindUnauthorized)
	_, _, err = f.app.Login(ctx, u.Email, "Correct-Horse-9")
	requireKind(t, err, KindUnauthorized)
}
