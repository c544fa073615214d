package app

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"authorsapi/pkg/domain"
	"authorsapi/pkg/storage"
	"authorsapi/pkg/store"
	"github.com/go-playground/validator/v10"
)

// DeletionPublisher receives deletion records after their transaction commits.
type DeletionPublisher interface {
	Publish(ctx context.Context, rec domain.DeletionRecord) (string, error)
}

// UserSessionRevoker invalidates every session of a user issued up to a point in time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// Config holds the collaborators of the core application.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	// Objects stores cover images. Optional; image operations fail without it.
	Objects storage.ObjectStore
	// Events receives committed deletions. Optional; without it covers are cleaned inline.
	Events        DeletionPublisher
	ImageURLTTL   time.Duration
	MaxImageBytes int64
	Now           func() time.Time
}

// App is the core application service: identity directory, publisher registry,
// catalog and the cascade coordinator over one transactional store.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	objects       storage.ObjectStore
	events        DeletionPublisher
	validate      *validator.Validate
	imageURLTTL   time.Duration
	maxImageBytes int64
	now           func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.ImageURLTTL <= 0 {
		cfg.ImageURLTTL = 15 * time.Minute
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 5 << 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		objects:       cfg.Objects,
		events:        cfg.Events,
		validate:      newValidator(),
		imageURLTTL:   cfg.ImageURLTTL,
		maxImageBytes: cfg.MaxImageBytes,
		now:           func() time.Time { return cfg.Now().UTC() },
	}, nil
}

// Ping checks the store is reachable.
func (a *App) Ping(ctx context.Context) error {
	_, err := a.store.UserCount(ctx)
	return err
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// check validates in and reports every failing field in one BadRequest.
func (a *App) check(in any) error {
	err := a.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return internalError(err)
	}
	missing := make([]string, 0, len(fieldErrs))
	invalid := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		} else {
			invalid = append(invalid, fe.Field())
		}
	}
	switch {
	case len(missing) > 0:
		return badRequest("All fields are required: missing %s", strings.Join(missing, ", "))
	default:
		return badRequest("invalid value for %s", strings.Join(invalid, ", "))
	}
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}
